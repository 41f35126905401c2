package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/Preservarium/acl-poc/internal/auth"
	"github.com/Preservarium/acl-poc/internal/model"
	"github.com/Preservarium/acl-poc/internal/storage"
)

// SeedAdmin ensures the bootstrap superuser exists. With no password
// configured and no existing row, startup fails: an ACL service with no
// superuser cannot be administered.
func (h *Handlers) SeedAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		return fmt.Errorf("server: bootstrap admin username is empty")
	}

	_, err := h.db.GetUserByUsername(ctx, username)
	if err == nil {
		return nil // already seeded
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("server: look up bootstrap admin: %w", err)
	}

	if password == "" {
		return fmt.Errorf("server: no superuser exists and ACL_BOOTSTRAP_ADMIN_PASSWORD is not set")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("server: hash bootstrap password: %w", err)
	}

	admin, err := h.db.CreateUser(ctx, model.User{
		Username:     username,
		Email:        username + "@localhost",
		PasswordHash: hash,
		IsAdmin:      true,
	})
	if err != nil {
		return fmt.Errorf("server: create bootstrap admin: %w", err)
	}

	h.logger.Info("bootstrap superuser created", "username", admin.Username, "user_id", admin.ID)
	return nil
}
