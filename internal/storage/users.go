package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Preservarium/acl-poc/internal/model"
)

const userColumns = `id, username, email, given_name, family_name, password_hash,
	 is_admin, disabled, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.GivenName, &u.FamilyName,
		&u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Username, u.Email, u.GivenName, u.FamilyName,
		u.PasswordHash, u.IsAdmin, u.Disabled, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: user %q: %w", u.Username, ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username, for authentication.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %q: %w", username, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user by username: %w", err)
	}
	return u, nil
}

// UpdateUser applies a partial update. Self-update field rules are enforced
// by the caller; the store applies whatever it is handed.
func (db *DB) UpdateUser(ctx context.Context, id uuid.UUID, upd model.UserUpdate, passwordHash *string) (model.User, error) {
	set := "updated_at = now()"
	args := []any{id}
	n := 2

	add := func(col string, v any) {
		set += fmt.Sprintf(", %s = $%d", col, n)
		args = append(args, v)
		n++
	}
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.GivenName != nil {
		add("given_name", *upd.GivenName)
	}
	if upd.FamilyName != nil {
		add("family_name", *upd.FamilyName)
	}
	if passwordHash != nil {
		add("password_hash", *passwordHash)
	}
	if upd.IsAdmin != nil {
		add("is_admin", *upd.IsAdmin)
	}
	if upd.Disabled != nil {
		add("disabled", *upd.Disabled)
	}

	u, err := scanUser(db.pool.QueryRow(ctx,
		`UPDATE users SET `+set+` WHERE id = $1 RETURNING `+userColumns, args...,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: update user: %w", ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("storage: update user: %w", err)
	}
	return u, nil
}

// DeleteUser removes a user and every grant naming it as grantee or resource.
func (db *DB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM grants WHERE (grantee_type = 'user' AND grantee_id = $1)
		    OR (resource_type = 'user' AND resource_id = $1)`, id,
	); err != nil {
		return fmt.Errorf("storage: delete user grants: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// ListUsers returns all users ordered by username.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserNames resolves usernames for a set of user ids.
func (db *DB) UserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, username FROM users WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: user names: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("storage: scan user name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// UserExists reports whether a user row exists.
func (db *DB) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: user exists: %w", err)
	}
	return exists, nil
}
