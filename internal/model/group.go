package model

import (
	"time"

	"github.com/google/uuid"
)

// Group is a named principal. Membership is not a column on this type:
// "user u is in group g" is a member grant with resource group:g, so the
// grant store is the single source of truth for who belongs where.
type Group struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Member is one row of a group's member listing, resolved through the
// member grants on the group.
type Member struct {
	UserID    uuid.UUID  `json:"user_id"`
	Username  string     `json:"username"`
	GrantID   uuid.UUID  `json:"grant_id"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
