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

// Catalog kinds (hardware, datatype, protocol, parser, manufacturer,
// communication_mode) share one table with a kind discriminator; they all
// have the same shape and the same default-read semantics.

const catalogColumns = `id, kind, name, description, created_at, updated_at`

func scanCatalogItem(row pgx.Row) (model.CatalogItem, error) {
	var c model.CatalogItem
	err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateCatalogItem inserts an item of one catalog kind. Names are unique
// per kind.
func (db *DB) CreateCatalogItem(ctx context.Context, c model.CatalogItem) (model.CatalogItem, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO catalog_items (`+catalogColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Kind, c.Name, c.Description, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.CatalogItem{}, fmt.Errorf("storage: %s %q: %w", c.Kind, c.Name, ErrDuplicate)
		}
		return model.CatalogItem{}, fmt.Errorf("storage: create catalog item: %w", err)
	}
	return c, nil
}

// GetCatalogItem retrieves one item by kind and id.
func (db *DB) GetCatalogItem(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (model.CatalogItem, error) {
	c, err := scanCatalogItem(db.pool.QueryRow(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE kind = $1 AND id = $2`, kind, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CatalogItem{}, fmt.Errorf("storage: %s %s: %w", kind, id, ErrNotFound)
		}
		return model.CatalogItem{}, fmt.Errorf("storage: get catalog item: %w", err)
	}
	return c, nil
}

// ListCatalogItems returns every item of one kind, ordered by name.
func (db *DB) ListCatalogItems(ctx context.Context, kind model.ResourceKind) ([]model.CatalogItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+catalogColumns+` FROM catalog_items WHERE kind = $1 ORDER BY name`, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list catalog items: %w", err)
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		c, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan catalog item: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// UpdateCatalogItem updates name and description.
func (db *DB) UpdateCatalogItem(ctx context.Context, kind model.ResourceKind, id uuid.UUID, name, description string) (model.CatalogItem, error) {
	c, err := scanCatalogItem(db.pool.QueryRow(ctx,
		`UPDATE catalog_items SET name = $3, description = $4, updated_at = now()
		 WHERE kind = $1 AND id = $2 RETURNING `+catalogColumns,
		kind, id, name, description,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CatalogItem{}, fmt.Errorf("storage: %s %s: %w", kind, id, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return model.CatalogItem{}, fmt.Errorf("storage: %s %q: %w", kind, name, ErrDuplicate)
		}
		return model.CatalogItem{}, fmt.Errorf("storage: update catalog item: %w", err)
	}
	return c, nil
}

// DeleteCatalogItem removes an item and any grants on it.
func (db *DB) DeleteCatalogItem(ctx context.Context, kind model.ResourceKind, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete catalog item tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM grants WHERE resource_type = $1 AND resource_id = $2`, kind, id,
	); err != nil {
		return fmt.Errorf("storage: delete catalog item grants: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM catalog_items WHERE kind = $1 AND id = $2`, kind, id,
	)
	if err != nil {
		return fmt.Errorf("storage: delete catalog item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: %s %s: %w", kind, id, ErrNotFound)
	}
	return tx.Commit(ctx)
}
