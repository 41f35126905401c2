package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Extra   any    `json:"extra,omitempty"` // e.g. the verbose-denial payload
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes used in API responses.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthTokenResponse returns a signed JWT and its expiry.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckItem is one (resource, permission) query in a check request.
type CheckItem struct {
	ResourceType ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID    `json:"resource_id"`
	Permission   Permission   `json:"permission"`
}

// CheckRequest is the body of POST /v1/permissions/check. Results come
// back in the same order as the checks.
type CheckRequest struct {
	Checks []CheckItem `json:"checks"`
}

// CheckResult is one decision in a check response.
type CheckResult struct {
	ResourceType ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID    `json:"resource_id"`
	Permission   Permission   `json:"permission"`
	Allowed      bool         `json:"allowed"`
	Fields       []string     `json:"fields,omitempty"` // nil means all fields
}

// CheckResponse wraps the ordered decisions.
type CheckResponse struct {
	Results []CheckResult `json:"results"`
}

// GrantCreateRequest is the body of POST /v1/permissions.
type GrantCreateRequest struct {
	GranteeType  GranteeType  `json:"grantee_type"`
	GranteeID    uuid.UUID    `json:"grantee_id"`
	ResourceType ResourceKind `json:"resource_type"`
	ResourceID   uuid.UUID    `json:"resource_id"`
	Permission   Permission   `json:"permission"`
	Effect       Effect       `json:"effect,omitempty"`  // defaults to allow
	Inherit      *bool        `json:"inherit,omitempty"` // defaults to true
	Fields       []string     `json:"fields,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

// GrantResponse is a grant enriched with display names for the UI.
type GrantResponse struct {
	Grant
	GranteeName  string `json:"grantee_name,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
}

// ExpiringGrant is a grant annotated with the days until it expires.
type ExpiringGrant struct {
	GrantResponse
	DaysUntilExpiry int `json:"days_until_expiry"`
}
