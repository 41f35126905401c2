package model

import (
	"time"

	"github.com/google/uuid"
)

// Site is the root of the resource hierarchy.
type Site struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Plan is a floor plan within a site.
type Plan struct {
	ID          uuid.UUID `json:"id"`
	SiteID      uuid.UUID `json:"site_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sensor is a measurement device placed on a plan. The catalog references
// are optional: a sensor can be registered before its hardware is catalogued.
type Sensor struct {
	ID         uuid.UUID  `json:"id"`
	PlanID     uuid.UUID  `json:"plan_id"`
	Name       string     `json:"name"`
	HardwareID *uuid.UUID `json:"hardware_id,omitempty"`
	ProtocolID *uuid.UUID `json:"protocol_id,omitempty"`
	DatatypeID *uuid.UUID `json:"datatype_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Broker is a message broker attached to a plan.
type Broker struct {
	ID        uuid.UUID `json:"id"`
	PlanID    uuid.UUID `json:"plan_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alarm is a threshold rule on a sensor.
type Alarm struct {
	ID        uuid.UUID `json:"id"`
	SensorID  uuid.UUID `json:"sensor_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is a fired instance of an alarm.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	AlarmID   uuid.UUID `json:"alarm_id"`
	Message   string    `json:"message,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Dashboard is a standalone user-owned view definition.
type Dashboard struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	OwnerID   uuid.UUID      `json:"owner_id"`
	Layout    map[string]any `json:"layout,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CatalogItem is one entry of an admin-managed catalog kind (hardware,
// datatype, protocol, parser, manufacturer, communication_mode). All
// catalog kinds share this shape.
type CatalogItem struct {
	ID          uuid.UUID    `json:"id"`
	Kind        ResourceKind `json:"kind"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
