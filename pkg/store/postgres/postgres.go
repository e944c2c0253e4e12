// Package postgres implements store.Store on PostgreSQL via lib/pq.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

// Store implements store.Store with a PostgreSQL database.
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
	settings JSONB NOT NULL DEFAULT '{}'::jsonb,
	settings_version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS memberships (
	actor_id TEXT NOT NULL,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	role TEXT NOT NULL,
	permission_tier INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (actor_id, organization_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_org ON memberships(organization_id);
CREATE TABLE IF NOT EXISTS usage_events (
	id BIGSERIAL PRIMARY KEY,
	organization_id TEXT NOT NULL,
	actor_id TEXT,
	action TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	details JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_usage_events_org_action_time ON usage_events(organization_id, action, created_at DESC);
`

// Open connects to dsn and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing connection pool without migrating.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) Memberships(ctx context.Context, actorID string) ([]models.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, organization_id, role, permission_tier, created_at
		FROM memberships
		WHERE actor_id = $1
		ORDER BY created_at ASC, organization_id ASC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
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
			return nil, fmt.Errorf("failed to scan membership: %w", err)
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

func (s *Store) MemberCount(ctx context.Context, orgID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE organization_id = $1`, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

func (s *Store) Organization(ctx context.Context, orgID string) (*models.Organization, error) {
	var (
		org models.Organization
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, settings, settings_version, created_at
		FROM organizations WHERE id = $1`, orgID).
		Scan(&org.ID, &org.Name, &raw, &org.SettingsVersion, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", orgID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if org.Settings, err = models.ParseSettings(raw); err != nil {
		return nil, fmt.Errorf("organization %s: %w", orgID, err)
	}
	return &org, nil
}

func (s *Store) Organizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, settings, settings_version, created_at
		FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var out []models.Organization
	for rows.Next() {
		var (
			org models.Organization
			raw []byte
		)
		if err := rows.Scan(&org.ID, &org.Name, &raw, &org.SettingsVersion, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		if org.Settings, err = models.ParseSettings(raw); err != nil {
			return nil, fmt.Errorf("organization %s: %w", org.ID, err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// UpdateSettings writes settings guarded by the settings version.
func (s *Store) UpdateSettings(ctx context.Context, orgID string, settings models.Settings, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal settings: %w", err)
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE organizations
		SET settings = $1, settings_version = settings_version + 1
		WHERE id = $2 AND settings_version = $3
		RETURNING settings_version`, raw, orgID, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.Organization(ctx, orgID); err != nil {
			return 0, err
		}
		return 0, store.ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update settings: %w", err)
	}
	return version, nil
}

func (s *Store) Events(ctx context.Context, q store.EventQuery) iter.Seq2[models.UsageEvent, error] {
	query, args := buildEventQuery(q)
	return func(yield func(models.UsageEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(models.UsageEvent{}, fmt.Errorf("failed to query usage events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      models.UsageEvent
				actor   sql.NullString
				details []byte
			)
			if err := rows.Scan(&ev.ID, &ev.OrganizationID, &actor, &ev.Action, &ev.CreatedAt, &details); err != nil {
				yield(models.UsageEvent{}, fmt.Errorf("failed to scan usage event: %w", err))
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
			yield(models.UsageEvent{}, fmt.Errorf("failed to iterate usage events: %w", err))
		}
	}
}

func buildEventQuery(q store.EventQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.OrganizationID != "" {
		add("organization_id = $%d", q.OrganizationID)
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		add("created_at < $%d", q.Until.UTC())
	}

	query := "SELECT id, organization_id, actor_id, action, created_at, details FROM usage_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func decodeDetails(raw []byte) map[string]any {
	d := map[string]any{}
	if len(raw) == 0 {
		return d
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil || d == nil {
		return map[string]any{}
	}
	return d
}

func (s *Store) AppendEvent(ctx context.Context, ev models.UsageEvent) (int64, error) {
	details := []byte("{}")
	if ev.Details != nil {
		var err error
		if details, err = json.Marshal(ev.Details); err != nil {
			return 0, fmt.Errorf("failed to marshal event details: %w", err)
		}
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_events (organization_id, actor_id, action, created_at, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ev.OrganizationID, nullString(ev.ActorID), ev.Action, created.UTC(), details,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append usage event: %w", err)
	}
	return id, nil
}

func (s *Store) CreateOrganization(ctx context.Context, org models.Organization) error {
	settings := org.Settings
	if settings == nil {
		settings = models.Settings{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	created := org.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, settings, settings_version, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (id) DO NOTHING`, org.ID, org.Name, raw, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *Store) AddMembership(ctx context.Context, m models.Membership) error {
	var pt sql.NullInt64
	if m.PermissionTier != nil {
		pt = sql.NullInt64{Int64: int64(*m.PermissionTier), Valid: true}
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (actor_id, organization_id, role, permission_tier, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (actor_id, organization_id)
		DO UPDATE SET role = EXCLUDED.role, permission_tier = EXCLUDED.permission_tier`,
		m.ActorID, m.OrganizationID, string(m.Role), pt, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
