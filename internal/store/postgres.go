// ABOUTME: PostgreSQL implementation of the Store interface using pgx connection pools
// ABOUTME: Mirrors the SQLite schema with JSONB behaviors and TIMESTAMPTZ columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx pool
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to url and creates the schema if needed.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{db: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			credential_kind TEXT NOT NULL CHECK (credential_kind IN ('token', 'session')),
			token           TEXT,
			phone           TEXT,
			session         TEXT,
			status          TEXT NOT NULL CHECK (status IN ('stopped', 'starting', 'running', 'error')),
			behaviors       JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			last_error      TEXT,
			stat_sent       BIGINT NOT NULL DEFAULT 0,
			stat_received   BIGINT NOT NULL DEFAULT 0,
			stat_parsed     BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS agent_events (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			agent_id   TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			type       TEXT NOT NULL,
			payload    JSONB,
			timestamp  TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_agent_ts ON agent_events(agent_id, timestamp);

		CREATE TABLE IF NOT EXISTS parsed_items (
			id          BIGSERIAL PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			source      TEXT NOT NULL,
			data_type   TEXT NOT NULL,
			content     TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_parsed_items_agent ON parsed_items(agent_id, captured_at);
	`)
	return err
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.db.Close()
	return nil
}

// SaveAgent upserts the full record.
func (s *PostgresStore) SaveAgent(ctx context.Context, rec *AgentRecord) error {
	behaviors, err := encodeBehaviors(rec.Behaviors)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agents (id, name, credential_kind, token, phone, session, status, behaviors,
			created_at, updated_at, last_error, stat_sent, stat_received, stat_parsed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			credential_kind = EXCLUDED.credential_kind,
			token = EXCLUDED.token,
			phone = EXCLUDED.phone,
			session = EXCLUDED.session,
			status = EXCLUDED.status,
			behaviors = EXCLUDED.behaviors,
			updated_at = EXCLUDED.updated_at,
			last_error = EXCLUDED.last_error,
			stat_sent = EXCLUDED.stat_sent,
			stat_received = EXCLUDED.stat_received,
			stat_parsed = EXCLUDED.stat_parsed`,
		rec.ID, rec.Name, string(rec.Credentials.Kind),
		optional(rec.Credentials.Token), optional(rec.Credentials.Phone), optional(rec.Credentials.Session),
		string(rec.Status), []byte(behaviors),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), optional(rec.LastError),
		rec.Stats.Sent, rec.Stats.Received, rec.Stats.Parsed,
	)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}
	return nil
}

func scanPgAgent(row pgx.Row) (*AgentRecord, error) {
	var rec AgentRecord
	var kind, status string
	var behaviors []byte
	var token, phone, session, lastError *string

	if err := row.Scan(&rec.ID, &rec.Name, &kind, &token, &phone, &session, &status, &behaviors,
		&rec.CreatedAt, &rec.UpdatedAt, &lastError, &rec.Stats.Sent, &rec.Stats.Received, &rec.Stats.Parsed); err != nil {
		return nil, err
	}

	rec.Credentials = Credentials{
		Kind:    CredentialKind(kind),
		Token:   deref(token),
		Phone:   deref(phone),
		Session: deref(session),
	}
	rec.Status = Status(status)
	rec.LastError = deref(lastError)

	var err error
	rec.Behaviors, err = decodeBehaviors(string(behaviors))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAgent retrieves an agent by ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	rec, err := scanPgAgent(s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return rec, nil
}

// GetAllAgents returns every agent ordered by creation time.
func (s *PostgresStore) GetAllAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		rec, err := scanPgAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) execAgentUpdate(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets status and lastError.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.execAgentUpdate(ctx, "updating status",
		`UPDATE agents SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`,
		string(status), optional(lastError), id)
}

// UpdateBehaviors replaces the behavior list.
func (s *PostgresStore) UpdateBehaviors(ctx context.Context, id string, behaviors Behaviors) error {
	encoded, err := encodeBehaviors(behaviors)
	if err != nil {
		return err
	}
	return s.execAgentUpdate(ctx, "updating behaviors",
		`UPDATE agents SET behaviors = $1, updated_at = NOW() WHERE id = $2`,
		[]byte(encoded), id)
}

// UpdateSession stores a new session export string.
func (s *PostgresStore) UpdateSession(ctx context.Context, id string, session string) error {
	return s.execAgentUpdate(ctx, "updating session",
		`UPDATE agents SET session = $1, updated_at = NOW() WHERE id = $2`,
		optional(session), id)
}

// IncrementStat adds one to the named counter.
func (s *PostgresStore) IncrementStat(ctx context.Context, id string, field StatField) error {
	col, err := field.column()
	if err != nil {
		return err
	}
	return s.execAgentUpdate(ctx, "incrementing stat",
		`UPDATE agents SET `+col+` = `+col+` + 1, updated_at = NOW() WHERE id = $1`, id)
}

// DeleteAgent removes the agent with its events and parsed items in one transaction.
func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM agent_events WHERE agent_id = $1`, id); err != nil {
		return fmt.Errorf("deleting agent events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM parsed_items WHERE agent_id = $1`, id); err != nil {
		return fmt.Errorf("deleting parsed items: %w", err)
	}
	return tx.Commit(ctx)
}

// SaveEvent appends an event to the log.
func (s *PostgresStore) SaveEvent(ctx context.Context, event *Event) error {
	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO agent_events (id, agent_id, agent_name, type, payload, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.AgentID, event.AgentName, string(event.Type), payload, event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetEvents returns the most recent events, newest first.
func (s *PostgresStore) GetEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, agent_name, type, payload, timestamp
		FROM agent_events
		WHERE $1 = '' OR agent_id = $1
		ORDER BY timestamp DESC, seq DESC
		LIMIT $2`, agentID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var typ string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AgentID, &e.AgentName, &typ, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = EventType(typ)
		if len(payload) > 0 {
			e.Payload = payload
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveParsed appends a parsed item and sets its ID.
func (s *PostgresStore) SaveParsed(ctx context.Context, item *ParsedItem) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO parsed_items (agent_id, source, data_type, content, captured_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.AgentID, item.Source, item.DataType, item.Content, item.CapturedAt.UTC(),
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("inserting parsed item: %w", err)
	}
	return nil
}

// GetParsed returns the most recent parsed items for an agent, newest first.
func (s *PostgresStore) GetParsed(ctx context.Context, agentID string, limit int) ([]*ParsedItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, source, data_type, content, captured_at
		FROM parsed_items WHERE agent_id = $1 ORDER BY id DESC LIMIT $2`, agentID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying parsed items: %w", err)
	}
	defer rows.Close()

	var out []*ParsedItem
	for rows.Next() {
		var item ParsedItem
		if err := rows.Scan(&item.ID, &item.AgentID, &item.Source, &item.DataType, &item.Content, &item.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning parsed item: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
