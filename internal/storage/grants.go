package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Preservarium/acl-poc/internal/model"
)

const grantColumns = `id, grantee_type, grantee_id, resource_type, resource_id,
	 permission, effect, inherit, fields, expires_at, granted_by, granted_at`

func scanGrant(row pgx.Row) (model.Grant, error) {
	var g model.Grant
	err := row.Scan(
		&g.ID, &g.GranteeType, &g.GranteeID, &g.ResourceType, &g.ResourceID,
		&g.Permission, &g.Effect, &g.Inherit, &g.Fields, &g.ExpiresAt,
		&g.GrantedBy, &g.GrantedAt,
	)
	return g, err
}

func collectGrants(rows pgx.Rows) ([]model.Grant, error) {
	defer rows.Close()
	var grants []model.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// insertGrantTx inserts a grant inside an existing transaction, enforcing
// the one-live-grant-per-(grantee, resource, permission) invariant. An
// expired duplicate does not block a fresh insert: the dead row is removed
// first so reissuing a lapsed grant never requires waiting for the worker.
func insertGrantTx(ctx context.Context, tx pgx.Tx, g model.Grant) (model.Grant, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM grants
		 WHERE grantee_type = $1 AND grantee_id = $2
		   AND resource_type = $3 AND resource_id = $4 AND permission = $5
		   AND expires_at IS NOT NULL AND expires_at <= now()`,
		g.GranteeType, g.GranteeID, g.ResourceType, g.ResourceID, g.Permission,
	); err != nil {
		return model.Grant{}, fmt.Errorf("storage: clear expired duplicate: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO grants (`+grantColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		g.ID, g.GranteeType, g.GranteeID, g.ResourceType, g.ResourceID,
		g.Permission, g.Effect, g.Inherit, g.Fields, g.ExpiresAt,
		g.GrantedBy, g.GrantedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return model.Grant{}, fmt.Errorf("storage: grant for %s:%s on %s:%s (%s): %w",
				g.GranteeType, g.GranteeID, g.ResourceType, g.ResourceID, g.Permission, ErrDuplicate)
		}
		return model.Grant{}, fmt.Errorf("storage: insert grant: %w", err)
	}
	return g, nil
}

// CreateGrantWithAudit inserts a grant and its audit event atomically
// within a single transaction.
func (db *DB) CreateGrantWithAudit(ctx context.Context, g model.Grant, e model.AuditEvent) (model.Grant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Grant{}, fmt.Errorf("storage: begin create grant tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	g, err = insertGrantTx(ctx, tx, g)
	if err != nil {
		return model.Grant{}, err
	}

	if err := InsertAuditEventTx(ctx, tx, e); err != nil {
		return model.Grant{}, fmt.Errorf("storage: audit in create grant tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Grant{}, fmt.Errorf("storage: commit create grant tx: %w", err)
	}
	return g, nil
}

// CreateGrant inserts a grant without an audit event. Used for seeding;
// the lifecycle service always goes through CreateGrantWithAudit.
func (db *DB) CreateGrant(ctx context.Context, g model.Grant) (model.Grant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Grant{}, fmt.Errorf("storage: begin create grant tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	g, err = insertGrantTx(ctx, tx, g)
	if err != nil {
		return model.Grant{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Grant{}, fmt.Errorf("storage: commit create grant tx: %w", err)
	}
	return g, nil
}

// DeleteGrantWithAudit removes a grant and inserts its audit event
// atomically within a single transaction.
func (db *DB) DeleteGrantWithAudit(ctx context.Context, id uuid.UUID, e model.AuditEvent) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete grant tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: grant %s: %w", id, ErrNotFound)
	}

	if err := InsertAuditEventTx(ctx, tx, e); err != nil {
		return fmt.Errorf("storage: audit in delete grant tx: %w", err)
	}

	return tx.Commit(ctx)
}

// GetGrant retrieves a grant by ID. Expired grants are still returned here:
// revocation of a lapsed-but-unharvested grant must find its row.
func (db *DB) GetGrant(ctx context.Context, id uuid.UUID) (model.Grant, error) {
	g, err := scanGrant(db.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Grant{}, fmt.Errorf("storage: grant %s: %w", id, ErrNotFound)
		}
		return model.Grant{}, fmt.Errorf("storage: get grant: %w", err)
	}
	return g, nil
}

// ListGrantsForResource returns all live grants on the exact resource.
func (db *DB) ListGrantsForResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) ([]model.Grant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE resource_type = $1 AND resource_id = $2
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY granted_at DESC`, kind, id,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants for resource: %w", err)
	}
	return collectGrants(rows)
}

// GranteeRef pairs a grantee type with its id for batched lookups.
type GranteeRef struct {
	Type model.GranteeType
	ID   uuid.UUID
}

// ResourceRef pairs a resource kind with its id for batched lookups.
type ResourceRef struct {
	Kind model.ResourceKind
	ID   uuid.UUID
}

// ListGrantsForGrantees is the engine's batched fetch: all live grants
// whose grantee is in grantees, whose resource is in resources, and whose
// permission is in perms. Any empty input set yields no rows.
func (db *DB) ListGrantsForGrantees(ctx context.Context, grantees []GranteeRef, resources []ResourceRef, perms []model.Permission) ([]model.Grant, error) {
	if len(grantees) == 0 || len(resources) == 0 || len(perms) == 0 {
		return nil, nil
	}

	granteeTypes := make([]string, len(grantees))
	granteeIDs := make([]uuid.UUID, len(grantees))
	for i, g := range grantees {
		granteeTypes[i] = string(g.Type)
		granteeIDs[i] = g.ID
	}
	resourceKinds := make([]string, len(resources))
	resourceIDs := make([]uuid.UUID, len(resources))
	for i, r := range resources {
		resourceKinds[i] = string(r.Kind)
		resourceIDs[i] = r.ID
	}
	permStrs := make([]string, len(perms))
	for i, p := range perms {
		permStrs[i] = string(p)
	}

	// The unnest pairs keep (type, id) tuples aligned; a plain ANY on both
	// columns would cross-match unrelated types and ids.
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE (grantee_type, grantee_id) IN (
		     SELECT * FROM unnest($1::text[], $2::uuid[])
		 )
		 AND (resource_type, resource_id) IN (
		     SELECT * FROM unnest($3::text[], $4::uuid[])
		 )
		 AND permission = ANY($5::text[])
		 AND (expires_at IS NULL OR expires_at > now())`,
		granteeTypes, granteeIDs, resourceKinds, resourceIDs, permStrs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants for grantees: %w", err)
	}
	return collectGrants(rows)
}

// ListGrantsForResources returns all live grants on any of the given
// resources, regardless of grantee. Used by the permission matrix.
func (db *DB) ListGrantsForResources(ctx context.Context, resources []ResourceRef) ([]model.Grant, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	resourceKinds := make([]string, len(resources))
	resourceIDs := make([]uuid.UUID, len(resources))
	for i, r := range resources {
		resourceKinds[i] = string(r.Kind)
		resourceIDs[i] = r.ID
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE (resource_type, resource_id) IN (
		     SELECT * FROM unnest($1::text[], $2::uuid[])
		 )
		 AND (expires_at IS NULL OR expires_at > now())`,
		resourceKinds, resourceIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants for resources: %w", err)
	}
	return collectGrants(rows)
}

// ListGrantsForUser returns all live grants naming the user directly.
func (db *DB) ListGrantsForUser(ctx context.Context, userID uuid.UUID) ([]model.Grant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE grantee_type = 'user' AND grantee_id = $1
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY granted_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants for user: %w", err)
	}
	return collectGrants(rows)
}

// ListGrantsForGroups returns all live grants naming any of the groups.
func (db *DB) ListGrantsForGroups(ctx context.Context, groupIDs []uuid.UUID) ([]model.Grant, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE grantee_type = 'group' AND grantee_id = ANY($1)
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY granted_at DESC`, groupIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list grants for groups: %w", err)
	}
	return collectGrants(rows)
}

// ListUserGroupIDs resolves membership: the groups on which the user holds
// a live allow member grant.
func (db *DB) ListUserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT resource_id FROM grants
		 WHERE grantee_type = 'user' AND grantee_id = $1
		   AND resource_type = 'group' AND permission = 'member' AND effect = 'allow'
		   AND (expires_at IS NULL OR expires_at > now())`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list user groups: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListGroupMembers is the dual of ListUserGroupIDs: users holding a live
// allow member grant on the group, joined with their usernames.
func (db *DB) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]model.Member, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT u.id, u.username, g.id, g.granted_at, g.expires_at
		 FROM grants g
		 JOIN users u ON u.id = g.grantee_id
		 WHERE g.grantee_type = 'user'
		   AND g.resource_type = 'group' AND g.resource_id = $1
		   AND g.permission = 'member' AND g.effect = 'allow'
		   AND (g.expires_at IS NULL OR g.expires_at > now())
		 ORDER BY u.username`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list group members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.GrantID, &m.GrantedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("storage: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListExpiring returns live grants whose expiry falls within the window,
// ordered soonest-first. Used by the notification job and the admin listing.
func (db *DB) ListExpiring(ctx context.Context, within time.Duration) ([]model.Grant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE expires_at IS NOT NULL
		   AND expires_at > now()
		   AND expires_at <= now() + ($1 * interval '1 microsecond')
		 ORDER BY expires_at ASC`, within.Microseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list expiring grants: %w", err)
	}
	return collectGrants(rows)
}

// ListExpired returns grants whose expiry has passed, for the worker to
// harvest.
func (db *DB) ListExpired(ctx context.Context) ([]model.Grant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE expires_at IS NOT NULL AND expires_at <= now()
		 ORDER BY expires_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list expired grants: %w", err)
	}
	return collectGrants(rows)
}

// DeleteGrantsForResource removes every grant on the exact resource.
// Called when a resource is destroyed so grants do not dangle.
func (db *DB) DeleteGrantsForResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM grants WHERE resource_type = $1 AND resource_id = $2`, kind, id,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: delete grants for resource: %w", err)
	}
	return tag.RowsAffected(), nil
}
