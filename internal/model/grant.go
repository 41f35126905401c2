package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GranteeType tags the principal side of a grant: a user or a group.
type GranteeType string

const (
	GranteeUser  GranteeType = "user"
	GranteeGroup GranteeType = "group"
)

// Effect is the outcome a grant contributes to a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Permission enumerates the grantable permissions.
//
// member is special: it encodes group membership and sits outside the
// strength lattice. Requesting read on a group never matches a member
// grant, and manage on a group does not imply member.
type Permission string

const (
	PermissionMember Permission = "member"
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionCreate Permission = "create"
	PermissionManage Permission = "manage"
)

// Grant is the ACL atom: one grantee, one permission on one resource,
// with allow/deny, per-grant inheritance, an optional field restriction
// and an optional expiry instant.
type Grant struct {
	ID           uuid.UUID    `json:"id"`
	GranteeType  GranteeType  `json:"grantee_type"`
	GranteeID    uuid.UUID    `json:"grantee_id"`
	ResourceType ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID    `json:"resource_id"`
	Permission   Permission   `json:"permission"`
	Effect       Effect       `json:"effect"`
	Inherit      bool         `json:"inherit"`
	Fields       []string     `json:"fields,omitempty"` // nil means all fields
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	GrantedBy    *uuid.UUID   `json:"granted_by,omitempty"` // nil for system-issued grants
	GrantedAt    time.Time    `json:"granted_at"`
}

// Expired reports whether the grant is inert at the given instant.
// A grant with expires_at <= now contributes to no decision, even if
// the row has not been harvested by the expiration worker yet.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Live is the complement of Expired.
func (g Grant) Live(now time.Time) bool {
	return !g.Expired(now)
}

// ValidPermission reports whether p is a known permission.
func ValidPermission(p Permission) bool {
	switch p {
	case PermissionMember, PermissionRead, PermissionWrite,
		PermissionDelete, PermissionCreate, PermissionManage:
		return true
	}
	return false
}

// ValidEffect reports whether e is a known effect.
func ValidEffect(e Effect) bool {
	return e == EffectAllow || e == EffectDeny
}

// ValidGranteeType reports whether t is a known grantee type.
func ValidGranteeType(t GranteeType) bool {
	return t == GranteeUser || t == GranteeGroup
}

// fieldBearing lists the permissions that honor a field restriction.
// delete, create, manage and member operate on whole resources; a field
// list on those is a caller mistake, rejected at issue time.
var fieldBearing = map[Permission]bool{
	PermissionRead:  true,
	PermissionWrite: true,
}

// ValidateGrant checks the structural legality of a grant before it is
// persisted. Existence of the grantee and resource is the store's concern.
func ValidateGrant(g Grant, now time.Time) error {
	if !ValidGranteeType(g.GranteeType) {
		return fmt.Errorf("unknown grantee type %q", g.GranteeType)
	}
	if !ValidResourceKind(g.ResourceType) {
		return fmt.Errorf("unknown resource type %q", g.ResourceType)
	}
	if !ValidPermission(g.Permission) {
		return fmt.Errorf("unknown permission %q", g.Permission)
	}
	if !ValidEffect(g.Effect) {
		return fmt.Errorf("unknown effect %q", g.Effect)
	}
	if g.Permission == PermissionMember && g.ResourceType != KindGroup {
		return fmt.Errorf("member permission is only meaningful on groups, got %q", g.ResourceType)
	}
	if len(g.Fields) > 0 && !fieldBearing[g.Permission] {
		return fmt.Errorf("permission %q does not accept a field list", g.Permission)
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return fmt.Errorf("expires_at %s is in the past", g.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
