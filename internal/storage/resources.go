package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Preservarium/acl-poc/internal/model"
)

// parentFK maps each hierarchical child kind to (table, fk column). The
// hierarchy resolver walks these one hop at a time.
var parentFK = map[model.ResourceKind]struct {
	table string
	fk    string
}{
	model.KindPlan:   {"plans", "site_id"},
	model.KindSensor: {"sensors", "plan_id"},
	model.KindBroker: {"brokers", "plan_id"},
	model.KindAlarm:  {"alarms", "sensor_id"},
	model.KindAlert:  {"alerts", "alarm_id"},
}

// ParentOf returns the parent id of a hierarchical resource. ok is false
// when the kind has no parent, the row is missing, or the FK is null —
// the ancestor walk truncates there without error.
func (db *DB) ParentOf(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (uuid.UUID, bool, error) {
	cfg, hierarchical := parentFK[kind]
	if !hierarchical {
		return uuid.Nil, false, nil
	}

	var parentID *uuid.UUID
	err := db.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, cfg.fk, cfg.table), id,
	).Scan(&parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("storage: parent of %s %s: %w", kind, id, err)
	}
	if parentID == nil {
		return uuid.Nil, false, nil
	}
	return *parentID, true, nil
}

// kindTable maps every kind to the table holding its rows. Catalog kinds
// all live in catalog_items.
func kindTable(kind model.ResourceKind) (table string, catalog bool) {
	switch kind {
	case model.KindSite:
		return "sites", false
	case model.KindPlan:
		return "plans", false
	case model.KindSensor:
		return "sensors", false
	case model.KindBroker:
		return "brokers", false
	case model.KindAlarm:
		return "alarms", false
	case model.KindAlert:
		return "alerts", false
	case model.KindUser:
		return "users", false
	case model.KindGroup:
		return "groups", false
	case model.KindDashboard:
		return "dashboards", false
	default:
		return "catalog_items", true
	}
}

// ResourceExists reports whether a resource of the given kind exists.
func (db *DB) ResourceExists(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (bool, error) {
	table, catalog := kindTable(kind)
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table)
	args := []any{id}
	if catalog {
		query = `SELECT EXISTS(SELECT 1 FROM catalog_items WHERE id = $1 AND kind = $2)`
		args = append(args, kind)
	}
	var exists bool
	if err := db.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: resource exists: %w", err)
	}
	return exists, nil
}

// ResourceName resolves the display name of any resource. Users display as
// their username; alerts as their message, or "alert " plus the first 8
// characters of the id when the message is empty. Returns "" when missing.
func (db *DB) ResourceName(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (string, error) {
	var query string
	args := []any{id}
	switch kind {
	case model.KindUser:
		query = `SELECT username FROM users WHERE id = $1`
	case model.KindAlert:
		query = `SELECT coalesce(nullif(message, ''), 'alert ' || left(id::text, 8)) FROM alerts WHERE id = $1`
	default:
		table, catalog := kindTable(kind)
		query = fmt.Sprintf(`SELECT name FROM %s WHERE id = $1`, table)
		if catalog {
			query = `SELECT name FROM catalog_items WHERE id = $1 AND kind = $2`
			args = append(args, kind)
		}
	}

	var name string
	err := db.pool.QueryRow(ctx, query, args...).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("storage: resource name: %w", err)
	}
	return name, nil
}

// --- Sites ---

func (db *DB) CreateSite(ctx context.Context, s model.Site) (model.Site, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sites (id, name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Name, s.Description, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return model.Site{}, fmt.Errorf("storage: create site: %w", err)
	}
	return s, nil
}

func (db *DB) GetSite(ctx context.Context, id uuid.UUID) (model.Site, error) {
	var s model.Site
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at FROM sites WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Site{}, fmt.Errorf("storage: site %s: %w", id, ErrNotFound)
		}
		return model.Site{}, fmt.Errorf("storage: get site: %w", err)
	}
	return s, nil
}

func (db *DB) ListSites(ctx context.Context) ([]model.Site, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, description, created_at, updated_at FROM sites ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list sites: %w", err)
	}
	defer rows.Close()
	var sites []model.Site
	for rows.Next() {
		var s model.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan site: %w", err)
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

func (db *DB) UpdateSite(ctx context.Context, id uuid.UUID, name, description string) (model.Site, error) {
	var s model.Site
	err := db.pool.QueryRow(ctx,
		`UPDATE sites SET name = $2, description = $3, updated_at = now()
		 WHERE id = $1 RETURNING id, name, description, created_at, updated_at`,
		id, name, description,
	).Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Site{}, fmt.Errorf("storage: site %s: %w", id, ErrNotFound)
		}
		return model.Site{}, fmt.Errorf("storage: update site: %w", err)
	}
	return s, nil
}

// DeleteSite removes a site; child rows cascade through their FKs.
func (db *DB) DeleteSite(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: site %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Plans ---

func (db *DB) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO plans (id, site_id, name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.SiteID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.Plan{}, fmt.Errorf("storage: create plan: %w", err)
	}
	return p, nil
}

func (db *DB) GetPlan(ctx context.Context, id uuid.UUID) (model.Plan, error) {
	var p model.Plan
	err := db.pool.QueryRow(ctx,
		`SELECT id, site_id, name, description, created_at, updated_at FROM plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.SiteID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, fmt.Errorf("storage: plan %s: %w", id, ErrNotFound)
		}
		return model.Plan{}, fmt.Errorf("storage: get plan: %w", err)
	}
	return p, nil
}

func (db *DB) ListPlansBySite(ctx context.Context, siteID uuid.UUID) ([]model.Plan, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, site_id, name, description, created_at, updated_at
		 FROM plans WHERE site_id = $1 ORDER BY name`, siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list plans: %w", err)
	}
	defer rows.Close()
	var plans []model.Plan
	for rows.Next() {
		var p model.Plan
		if err := rows.Scan(&p.ID, &p.SiteID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- Sensors ---

func (db *DB) CreateSensor(ctx context.Context, s model.Sensor) (model.Sensor, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sensors (id, plan_id, name, hardware_id, protocol_id, datatype_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.PlanID, s.Name, s.HardwareID, s.ProtocolID, s.DatatypeID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return model.Sensor{}, fmt.Errorf("storage: create sensor: %w", err)
	}
	return s, nil
}

func (db *DB) GetSensor(ctx context.Context, id uuid.UUID) (model.Sensor, error) {
	var s model.Sensor
	err := db.pool.QueryRow(ctx,
		`SELECT id, plan_id, name, hardware_id, protocol_id, datatype_id, created_at, updated_at
		 FROM sensors WHERE id = $1`, id,
	).Scan(&s.ID, &s.PlanID, &s.Name, &s.HardwareID, &s.ProtocolID, &s.DatatypeID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Sensor{}, fmt.Errorf("storage: sensor %s: %w", id, ErrNotFound)
		}
		return model.Sensor{}, fmt.Errorf("storage: get sensor: %w", err)
	}
	return s, nil
}

func (db *DB) ListSensorsByPlan(ctx context.Context, planID uuid.UUID) ([]model.Sensor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, plan_id, name, hardware_id, protocol_id, datatype_id, created_at, updated_at
		 FROM sensors WHERE plan_id = $1 ORDER BY name`, planID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list sensors: %w", err)
	}
	defer rows.Close()
	var sensors []model.Sensor
	for rows.Next() {
		var s model.Sensor
		if err := rows.Scan(&s.ID, &s.PlanID, &s.Name, &s.HardwareID, &s.ProtocolID, &s.DatatypeID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan sensor: %w", err)
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

// --- Brokers ---

func (db *DB) CreateBroker(ctx context.Context, b model.Broker) (model.Broker, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO brokers (id, plan_id, name, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.PlanID, b.Name, b.Address, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return model.Broker{}, fmt.Errorf("storage: create broker: %w", err)
	}
	return b, nil
}

func (db *DB) ListBrokersByPlan(ctx context.Context, planID uuid.UUID) ([]model.Broker, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, plan_id, name, address, created_at, updated_at
		 FROM brokers WHERE plan_id = $1 ORDER BY name`, planID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list brokers: %w", err)
	}
	defer rows.Close()
	var brokers []model.Broker
	for rows.Next() {
		var b model.Broker
		if err := rows.Scan(&b.ID, &b.PlanID, &b.Name, &b.Address, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan broker: %w", err)
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

// --- Alarms and alerts ---

func (db *DB) CreateAlarm(ctx context.Context, a model.Alarm) (model.Alarm, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO alarms (id, sensor_id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.SensorID, a.Name, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return model.Alarm{}, fmt.Errorf("storage: create alarm: %w", err)
	}
	return a, nil
}

func (db *DB) ListAlarmsBySensor(ctx context.Context, sensorID uuid.UUID) ([]model.Alarm, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, sensor_id, name, created_at, updated_at
		 FROM alarms WHERE sensor_id = $1 ORDER BY name`, sensorID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list alarms: %w", err)
	}
	defer rows.Close()
	var alarms []model.Alarm
	for rows.Next() {
		var a model.Alarm
		if err := rows.Scan(&a.ID, &a.SensorID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan alarm: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

func (db *DB) CreateAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO alerts (id, alarm_id, message, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.AlarmID, a.Message, a.Severity, a.CreatedAt,
	)
	if err != nil {
		return model.Alert{}, fmt.Errorf("storage: create alert: %w", err)
	}
	return a, nil
}

func (db *DB) ListAlertsByAlarm(ctx context.Context, alarmID uuid.UUID) ([]model.Alert, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, alarm_id, message, severity, created_at
		 FROM alerts WHERE alarm_id = $1 ORDER BY created_at DESC`, alarmID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list alerts: %w", err)
	}
	defer rows.Close()
	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.AlarmID, &a.Message, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// --- Dashboards ---

func (db *DB) CreateDashboard(ctx context.Context, d model.Dashboard) (model.Dashboard, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	layoutJSON, err := json.Marshal(d.Layout)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("storage: marshal dashboard layout: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO dashboards (id, name, owner_id, layout, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		d.ID, d.Name, d.OwnerID, layoutJSON, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("storage: create dashboard: %w", err)
	}
	return d, nil
}

func (db *DB) GetDashboard(ctx context.Context, id uuid.UUID) (model.Dashboard, error) {
	var d model.Dashboard
	var layoutJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, layout, created_at, updated_at FROM dashboards WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.OwnerID, &layoutJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Dashboard{}, fmt.Errorf("storage: dashboard %s: %w", id, ErrNotFound)
		}
		return model.Dashboard{}, fmt.Errorf("storage: get dashboard: %w", err)
	}
	if len(layoutJSON) > 0 {
		if err := json.Unmarshal(layoutJSON, &d.Layout); err != nil {
			return model.Dashboard{}, fmt.Errorf("storage: unmarshal dashboard layout: %w", err)
		}
	}
	return d, nil
}
