package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an authenticated principal. IsAdmin marks a platform superuser
// that bypasses all permission evaluation.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	GivenName    string    `json:"given_name,omitempty"`
	FamilyName   string    `json:"family_name,omitempty"`
	PasswordHash string    `json:"-"` // Never serialized.
	IsAdmin      bool      `json:"is_admin"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserUpdate carries a partial update; nil pointers leave fields untouched.
type UserUpdate struct {
	Username   *string `json:"username,omitempty"`
	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
	GivenName  *string `json:"given_name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	IsAdmin    *bool   `json:"is_admin,omitempty"`
	Disabled   *bool   `json:"disabled,omitempty"`
}

// selfUpdateForbidden lists the fields a non-admin user cannot change on
// their own account, regardless of any ACL grants they hold.
var selfUpdateForbidden = []string{"username", "is_admin", "disabled"}

// ValidateSelfUpdate enforces the self-service rule: non-admins may edit
// only {email, password, given_name, family_name} on themselves. Admins
// may change anything. The returned error names the first offending field.
func ValidateSelfUpdate(u UserUpdate, isAdmin bool) error {
	if isAdmin {
		return nil
	}
	touched := map[string]bool{
		"username": u.Username != nil,
		"is_admin": u.IsAdmin != nil,
		"disabled": u.Disabled != nil,
	}
	for _, f := range selfUpdateForbidden {
		if touched[f] {
			return fmt.Errorf("cannot modify %q on your own account", f)
		}
	}
	return nil
}

// ValidateUsername checks the allowed username format: 3-64 ASCII
// characters, alphanumeric plus dots, hyphens and underscores.
func ValidateUsername(name string) error {
	if len(name) < 3 || len(name) > 64 {
		return fmt.Errorf("username must be 3-64 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("username contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
