package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Preservarium/acl-poc/internal/model"
)

// pgxExecer is the subset of pgx.Tx / pgxpool.Pool used for INSERT execution.
// Both *pgxpool.Pool and pgx.Tx satisfy this interface.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// insertAuditEvent is the shared implementation for InsertAuditEvent and
// InsertAuditEventTx.
func insertAuditEvent(ctx context.Context, exec pgxExecer, e model.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("storage: marshal audit details: %w", err)
	}

	_, err = exec.Exec(ctx,
		`INSERT INTO audit_events (
		     id, timestamp, kind, actor_id, target_user_id, target_group_id,
		     resource_type, resource_id, permission, details
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)`,
		e.ID, e.Timestamp, e.Kind, e.ActorID, e.TargetUserID, e.TargetGroupID,
		e.ResourceType, e.ResourceID, e.Permission, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// InsertAuditEvent appends an audit event using the connection pool.
// Use InsertAuditEventTx when the event must be atomic with a mutation.
func (db *DB) InsertAuditEvent(ctx context.Context, e model.AuditEvent) error {
	return insertAuditEvent(ctx, db.pool, e)
}

// InsertAuditEventTx appends an audit event within an existing transaction.
// If the transaction rolls back, the event is also rolled back, so grant
// mutations never persist without their audit record.
func InsertAuditEventTx(ctx context.Context, tx pgx.Tx, e model.AuditEvent) error {
	return insertAuditEvent(ctx, tx, e)
}

// ListAuditEvents returns events most-recent-first, ties broken by the
// insertion sequence, filtered per f. Also returns the unpaged total.
func (db *DB) ListAuditEvents(ctx context.Context, f model.AuditFilter) ([]model.AuditEvent, int, error) {
	where := " WHERE true"
	args := []any{}
	n := 1

	if f.Kind != "" {
		where += fmt.Sprintf(" AND kind = $%d", n)
		args = append(args, f.Kind)
		n++
	}
	if f.ActorID != nil {
		where += fmt.Sprintf(" AND actor_id = $%d", n)
		args = append(args, *f.ActorID)
		n++
	}
	if f.UserID != nil {
		where += fmt.Sprintf(" AND (actor_id = $%d OR target_user_id = $%d)", n, n)
		args = append(args, *f.UserID)
		n++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", n)
		args = append(args, *f.From)
		n++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", n)
		args = append(args, *f.To)
		n++
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count audit events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, seq, timestamp, kind, actor_id, target_user_id, target_group_id,
	          resource_type, resource_id, permission, details
	          FROM audit_events` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, seq DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var detailsJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Timestamp, &e.Kind, &e.ActorID, &e.TargetUserID,
			&e.TargetGroupID, &e.ResourceType, &e.ResourceID, &e.Permission, &detailsJSON,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan audit event: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("storage: unmarshal audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// PurgeAuditEvents deletes events older than the cutoff. Retention is an
// explicit administrative action; nothing runs it on a schedule.
func (db *DB) PurgeAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("storage: purge audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
