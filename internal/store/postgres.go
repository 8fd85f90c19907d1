package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/missionctl/internal/domain"
)

// PostgresStore is the Postgres-backed MissionStore: missions, scripts,
// runs, events, and the event-type dictionary, with generated text ids.
type PostgresStore struct {
	pool  *pgxpool.Pool
	types *eventTypeCache
}

// NewPostgresStore opens a pool against dsn, verifies connectivity, and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, types: newEventTypeCache()}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.types.preload(ctx, s.pool); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS missions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			script_id TEXT,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL REFERENCES missions(id),
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			body TEXT NOT NULL,
			create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (mission_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL REFERENCES missions(id),
			script_id TEXT NOT NULL REFERENCES scripts(id),
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS event_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			event_type_id TEXT NOT NULL REFERENCES event_types(id),
			payload TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_mission_id ON runs(mission_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_scripts_mission_id ON scripts(mission_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	// event_types is seeded with the known kinds; any future kind is
	// minted on first use by eventTypeID.
	for _, name := range []domain.EventKind{
		domain.EventStart, domain.EventStep, domain.EventResult,
		domain.EventLock, domain.EventUnlock, domain.EventException,
		domain.EventCompletion,
	} {
		if _, err := s.eventTypeID(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetOrCreateMission(ctx context.Context, name string) (*domain.Mission, error) {
	if m, err := s.GetMissionByName(ctx, name); err == nil {
		return m, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO missions (id, name, active, created_at) VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (name) DO NOTHING
	`, id, name, now)
	if err != nil {
		return nil, fmt.Errorf("create mission: %w", err)
	}
	return s.GetMissionByName(ctx, name)
}

func scanMission(row pgx.Row) (*domain.Mission, error) {
	var m domain.Mission
	var scriptID *string
	if err := row.Scan(&m.ID, &m.Name, &scriptID, &m.Active, &m.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if scriptID != nil {
		m.ScriptID = *scriptID
	}
	return &m, nil
}

func (s *PostgresStore) GetMission(ctx context.Context, id string) (*domain.Mission, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, script_id, active, created_at FROM missions WHERE id = $1`, id)
	m, err := scanMission(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMissionByName(ctx context.Context, name string) (*domain.Mission, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, script_id, active, created_at FROM missions WHERE name = $1`, name)
	m, err := scanMission(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mission by name: %w", err)
	}
	return m, nil
}

// ListMissions returns live missions (a selected script) by default, or
// archived ones (script_id cleared by DeleteMission) when archived is true.
func (s *PostgresStore) ListMissions(ctx context.Context, archived bool) ([]*domain.Mission, error) {
	var query string
	if archived {
		query = `SELECT id, name, script_id, active, created_at FROM missions WHERE script_id IS NULL ORDER BY name`
	} else {
		query = `SELECT id, name, script_id, active, created_at FROM missions WHERE script_id IS NOT NULL ORDER BY name`
	}
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("list missions scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list missions rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetMissionActive(ctx context.Context, id string, active bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set mission active: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireMissionLock(ctx, tx, id); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `UPDATE missions SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set mission active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SetMissionScript(ctx context.Context, id, scriptID string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE missions SET script_id = $1 WHERE id = $2`, scriptID, id)
	if err != nil {
		return fmt.Errorf("set mission script: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMission soft-deletes id under a Postgres advisory lock that
// serializes against concurrent activate/deactivate/delete on the same
// mission. The row survives so run history stays queryable.
func (s *PostgresStore) DeleteMission(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete mission: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireMissionLock(ctx, tx, id); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `UPDATE missions SET script_id = NULL, active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mission: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanScript(row pgx.Row) (*domain.Script, error) {
	var sc domain.Script
	if err := row.Scan(&sc.ID, &sc.MissionID, &sc.Name, &sc.Version, &sc.Body, &sc.CreateTime); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}

// CreateScript inserts a new (mission, version) script, or returns the
// existing one if body matches verbatim, or ErrDuplicateScript if a
// different body was already recorded for that version. A version that has
// been recorded once is immutable.
func (s *PostgresStore) CreateScript(ctx context.Context, missionID, name, version, body string) (*domain.Script, error) {
	existing, err := s.GetScriptVersion(ctx, missionID, version)
	if err == nil {
		if existing.Body != body {
			return nil, ErrDuplicateScript
		}
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scripts (id, mission_id, name, version, body, create_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mission_id, version) DO NOTHING
	`, id, missionID, name, version, body, now)
	if err != nil {
		return nil, fmt.Errorf("create script: %w", err)
	}

	sc, err := s.GetScriptVersion(ctx, missionID, version)
	if err != nil {
		return nil, fmt.Errorf("reload script after create: %w", err)
	}
	if sc.Body != body {
		return nil, ErrDuplicateScript
	}
	return sc, nil
}

func (s *PostgresStore) GetScript(ctx context.Context, id string) (*domain.Script, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, mission_id, name, version, body, create_time FROM scripts WHERE id = $1`, id)
	sc, err := scanScript(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get script: %w", err)
	}
	return sc, nil
}

func (s *PostgresStore) GetScriptVersion(ctx context.Context, missionID, version string) (*domain.Script, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, mission_id, name, version, body, create_time
		FROM scripts WHERE mission_id = $1 AND version = $2
	`, missionID, version)
	sc, err := scanScript(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get script version: %w", err)
	}
	return sc, nil
}

func (s *PostgresStore) ListScriptVersions(ctx context.Context, missionID string) ([]*domain.Script, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mission_id, name, version, body, create_time
		FROM scripts WHERE mission_id = $1 ORDER BY create_time
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list script versions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("list script versions scan: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, mission_id, script_id, started_at) VALUES ($1, $2, $3, $4)
	`, id, missionID, scriptID, now)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &domain.Run{ID: id, MissionID: missionID, ScriptID: scriptID, StartedAt: now}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var r domain.Run
	err := s.pool.QueryRow(ctx, `SELECT id, mission_id, script_id, started_at FROM runs WHERE id = $1`, id).
		Scan(&r.ID, &r.MissionID, &r.ScriptID, &r.StartedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the limit most recent runs for missionID, most recent
// first, or all of them if limit <= 0.
func (s *PostgresStore) ListRuns(ctx context.Context, missionID string, limit int) ([]*domain.Run, error) {
	query := `SELECT id, mission_id, script_id, started_at FROM runs WHERE mission_id = $1 ORDER BY started_at DESC`
	args := []any{missionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		var r domain.Run
		if err := rows.Scan(&r.ID, &r.MissionID, &r.ScriptID, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("list runs scan: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AddEvent appends kind/payload to run's event log, looking up (or
// minting) kind's event_type row first.
func (s *PostgresStore) AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error {
	typeID, err := s.eventTypeID(ctx, kind)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, run_id, timestamp, event_type_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, id, runID, now, typeID, payload)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

// ListEvents returns the first limit events of run, in timestamp order, or
// all of them if limit <= 0.
func (s *PostgresStore) ListEvents(ctx context.Context, runID string, limit int) ([]*domain.Event, error) {
	query := `
		SELECT e.id, e.run_id, e.timestamp, t.name, e.payload
		FROM events e JOIN event_types t ON t.id = e.event_type_id
		WHERE e.run_id = $1 ORDER BY e.timestamp, e.id
	`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Timestamp, &ev.Kind, &ev.Payload); err != nil {
			return nil, fmt.Errorf("list events scan: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
