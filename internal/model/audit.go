package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind enumerates the audit event types.
type AuditKind string

const (
	AuditGranted AuditKind = "granted"
	AuditRevoked AuditKind = "revoked"
	AuditDenied  AuditKind = "denied"
	AuditExpired AuditKind = "expired"
)

// AuditEvent is an immutable record of a permission change or a verbose
// denial. Events are never updated; total order is (timestamp, seq).
type AuditEvent struct {
	ID            uuid.UUID      `json:"id"`
	Seq           int64          `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	Kind          AuditKind      `json:"kind"`
	ActorID       *uuid.UUID     `json:"actor_id,omitempty"` // nil for system actions
	TargetUserID  *uuid.UUID     `json:"target_user_id,omitempty"`
	TargetGroupID *uuid.UUID     `json:"target_group_id,omitempty"`
	ResourceType  *ResourceKind  `json:"resource_type,omitempty"`
	ResourceID    *uuid.UUID     `json:"resource_id,omitempty"`
	Permission    *Permission    `json:"permission,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// AuditFilter narrows an audit listing. Zero values mean "no filter".
type AuditFilter struct {
	Kind    AuditKind
	ActorID *uuid.UUID
	UserID  *uuid.UUID
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}
