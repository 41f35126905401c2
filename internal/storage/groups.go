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

const groupColumns = `id, name, description, created_at, updated_at`

func scanGroup(row pgx.Row) (model.Group, error) {
	var g model.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// CreateGroup inserts a new group.
func (db *DB) CreateGroup(ctx context.Context, g model.Group) (model.Group, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, g.Description, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Group{}, fmt.Errorf("storage: group %q: %w", g.Name, ErrDuplicate)
		}
		return model.Group{}, fmt.Errorf("storage: create group: %w", err)
	}
	return g, nil
}

// GetGroup retrieves a group by ID.
func (db *DB) GetGroup(ctx context.Context, id uuid.UUID) (model.Group, error) {
	g, err := scanGroup(db.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Group{}, fmt.Errorf("storage: group %s: %w", id, ErrNotFound)
		}
		return model.Group{}, fmt.Errorf("storage: get group: %w", err)
	}
	return g, nil
}

// UpdateGroup updates name and description.
func (db *DB) UpdateGroup(ctx context.Context, id uuid.UUID, name, description string) (model.Group, error) {
	g, err := scanGroup(db.pool.QueryRow(ctx,
		`UPDATE groups SET name = $2, description = $3, updated_at = now()
		 WHERE id = $1 RETURNING `+groupColumns, id, name, description,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Group{}, fmt.Errorf("storage: group %s: %w", id, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return model.Group{}, fmt.Errorf("storage: group %q: %w", name, ErrDuplicate)
		}
		return model.Group{}, fmt.Errorf("storage: update group: %w", err)
	}
	return g, nil
}

// DeleteGroup removes a group and every grant naming it as grantee or as
// the membership resource.
func (db *DB) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete group tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM grants WHERE (grantee_type = 'group' AND grantee_id = $1)
		    OR (resource_type = 'group' AND resource_id = $1)`, id,
	); err != nil {
		return fmt.Errorf("storage: delete group grants: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: group %s: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// ListGroups returns all groups ordered by name.
func (db *DB) ListGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM groups ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupExists reports whether a group row exists.
func (db *DB) GroupExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: group exists: %w", err)
	}
	return exists, nil
}

// GroupNames resolves display names for a set of group ids.
func (db *DB) GroupNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name FROM groups WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: group names: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("storage: scan group name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
