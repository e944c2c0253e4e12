// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

// Store implements store.Store with a SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	settings TEXT NOT NULL DEFAULT '{}',
	settings_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS memberships (
	actor_id TEXT NOT NULL,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	role TEXT NOT NULL,
	permission_tier INTEGER,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (actor_id, organization_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_org ON memberships(organization_id);
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id TEXT NOT NULL,
	actor_id TEXT,
	action TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	details TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_usage_events_org_action_time ON usage_events(organization_id, action, created_at);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// A single writer keeps version checks and appends serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &Store{db: db}, nil
}

// Memberships returns every membership held by an actor, oldest first.
func (s *Store) Memberships(ctx context.Context, actorID string) ([]models.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor_id, organization_id, role, permission_tier, created_at
		 FROM memberships WHERE actor_id = ? ORDER BY created_at ASC, organization_id ASC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var (
			m    models.Membership
			role string
			pt   sql.NullInt64
		)
		if err := rows.Scan(&m.ActorID, &m.OrganizationID, &role, &pt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = models.ParseRole(role)
		if pt.Valid {
			v := int(pt.Int64)
			m.PermissionTier = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemberCount returns the number of members in an organization.
func (s *Store) MemberCount(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE organization_id = ?`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// Organization returns one organization or store.ErrNotFound.
func (s *Store) Organization(ctx context.Context, orgID string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, settings, settings_version, created_at FROM organizations WHERE id = ?`, orgID)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", orgID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// Organizations returns all organizations ordered by id.
func (s *Store) Organizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, settings, settings_version, created_at FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *org)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(sc scanner) (*models.Organization, error) {
	var (
		org models.Organization
		raw string
	)
	if err := sc.Scan(&org.ID, &org.Name, &raw, &org.SettingsVersion, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	settings, err := models.ParseSettings([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", org.ID, err)
	}
	org.Settings = settings
	return &org, nil
}

// UpdateSettings replaces the settings blob when the stored version matches expectedVersion.
func (s *Store) UpdateSettings(ctx context.Context, orgID string, settings models.Settings, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return 0, fmt.Errorf("encode settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET settings = ?, settings_version = settings_version + 1
		 WHERE id = ? AND settings_version = ?`,
		string(raw), orgID, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update settings: %w", err)
	}
	if n == 0 {
		if _, err := s.Organization(ctx, orgID); err != nil {
			return 0, err
		}
		return 0, store.ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

// Events streams usage events matching q, newest first.
func (s *Store) Events(ctx context.Context, q store.EventQuery) iter.Seq2[models.UsageEvent, error] {
	query, args := buildEventQuery(q)
	return func(yield func(models.UsageEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(models.UsageEvent{}, fmt.Errorf("query usage events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      models.UsageEvent
				actor   sql.NullString
				details string
			)
			if err := rows.Scan(&ev.ID, &ev.OrganizationID, &actor, &ev.Action, &ev.CreatedAt, &details); err != nil {
				yield(models.UsageEvent{}, fmt.Errorf("scan usage event: %w", err))
				return
			}
			ev.ActorID = actor.String
			ev.CreatedAt = ev.CreatedAt.UTC()
			ev.Details = decodeDetails(details)
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.UsageEvent{}, fmt.Errorf("iterate usage events: %w", err))
		}
	}
}

func buildEventQuery(q store.EventQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, q.OrganizationID)
	}
	if q.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, q.ActorID)
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, q.Action)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, q.Until.UTC())
	}

	query := `SELECT id, organization_id, actor_id, action, created_at, details FROM usage_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return query, args
}

// decodeDetails tolerates malformed blobs; the event is still counted with fallback estimates.
func decodeDetails(raw string) map[string]any {
	d := map[string]any{}
	if raw == "" {
		return d
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return map[string]any{}
	}
	return d
}

// AppendEvent adds an event to the usage log.
func (s *Store) AppendEvent(ctx context.Context, ev models.UsageEvent) (int64, error) {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return 0, fmt.Errorf("encode event details: %w", err)
	}
	if ev.Details == nil {
		details = []byte("{}")
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var actor sql.NullString
	if ev.ActorID != "" {
		actor = sql.NullString{String: ev.ActorID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (organization_id, actor_id, action, created_at, details) VALUES (?, ?, ?, ?, ?)`,
		ev.OrganizationID, actor, ev.Action, created.UTC(), string(details),
	)
	if err != nil {
		return 0, fmt.Errorf("append usage event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append usage event: %w", err)
	}
	return id, nil
}

// CreateOrganization inserts an organization. Existing ids are left untouched.
func (s *Store) CreateOrganization(ctx context.Context, org models.Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = models.Settings{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	created := org.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, settings, settings_version, created_at) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		org.ID, org.Name, string(raw), created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// AddMembership inserts or replaces a membership.
func (s *Store) AddMembership(ctx context.Context, m models.Membership) error {
	var pt sql.NullInt64
	if m.PermissionTier != nil {
		pt = sql.NullInt64{Int64: int64(*m.PermissionTier), Valid: true}
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (actor_id, organization_id, role, permission_tier, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(actor_id, organization_id) DO UPDATE SET role = excluded.role, permission_tier = excluded.permission_tier`,
		m.ActorID, m.OrganizationID, string(m.Role), pt, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
