// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent, event and parsed-item persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sortableTime is a fixed-width layout so TEXT ordering matches time ordering
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			credential_kind TEXT NOT NULL,
			token           TEXT,
			phone           TEXT,
			session         TEXT,
			status          TEXT NOT NULL,
			behaviors       TEXT NOT NULL DEFAULT '[]',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			last_error      TEXT,
			stat_sent       INTEGER NOT NULL DEFAULT 0,
			stat_received   INTEGER NOT NULL DEFAULT 0,
			stat_parsed     INTEGER NOT NULL DEFAULT 0,

			CHECK (credential_kind IN ('token', 'session')),
			CHECK (status IN ('stopped', 'starting', 'running', 'error'))
		);

		CREATE TABLE IF NOT EXISTS agent_events (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			type       TEXT NOT NULL,
			payload    TEXT,
			timestamp  TEXT NOT NULL,

			CHECK (type IN ('message_in', 'message_out', 'parsed_item', 'status_change', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_agent_ts ON agent_events(agent_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_agent_events_ts ON agent_events(timestamp);

		CREATE TABLE IF NOT EXISTS parsed_items (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			source      TEXT NOT NULL,
			data_type   TEXT NOT NULL,
			content     TEXT NOT NULL,
			captured_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_parsed_items_agent ON parsed_items(agent_id, captured_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('agents') WHERE name = 'last_error'`,
			apply:  `ALTER TABLE agents ADD COLUMN last_error TEXT`,
			column: "last_error",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('agents') WHERE name = 'stat_parsed'`,
			apply:  `ALTER TABLE agents ADD COLUMN stat_parsed INTEGER NOT NULL DEFAULT 0`,
			column: "stat_parsed",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to agents: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "agents")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveAgent inserts the record, or replaces every column if the id exists.
func (s *SQLiteStore) SaveAgent(ctx context.Context, rec *AgentRecord) error {
	behaviors, err := encodeBehaviors(rec.Behaviors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents (id, name, credential_kind, token, phone, session, status, behaviors,
			created_at, updated_at, last_error, stat_sent, stat_received, stat_parsed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			credential_kind = excluded.credential_kind,
			token = excluded.token,
			phone = excluded.phone,
			session = excluded.session,
			status = excluded.status,
			behaviors = excluded.behaviors,
			updated_at = excluded.updated_at,
			last_error = excluded.last_error,
			stat_sent = excluded.stat_sent,
			stat_received = excluded.stat_received,
			stat_parsed = excluded.stat_parsed
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		string(rec.Credentials.Kind),
		nullString(rec.Credentials.Token),
		nullString(rec.Credentials.Phone),
		nullString(rec.Credentials.Session),
		string(rec.Status),
		behaviors,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		nullString(rec.LastError),
		rec.Stats.Sent,
		rec.Stats.Received,
		rec.Stats.Parsed,
	)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	s.logger.Debug("saved agent", "id", rec.ID, "name", rec.Name)
	return nil
}

const agentColumns = `id, name, credential_kind, token, phone, session, status, behaviors,
	created_at, updated_at, last_error, stat_sent, stat_received, stat_parsed`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var rec AgentRecord
	var kind, status, behaviors, createdAtStr, updatedAtStr string
	var token, phone, session, lastError sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&kind,
		&token,
		&phone,
		&session,
		&status,
		&behaviors,
		&createdAtStr,
		&updatedAtStr,
		&lastError,
		&rec.Stats.Sent,
		&rec.Stats.Received,
		&rec.Stats.Parsed,
	)
	if err != nil {
		return nil, err
	}

	rec.Credentials = Credentials{
		Kind:    CredentialKind(kind),
		Token:   token.String,
		Phone:   phone.String,
		Session: session.String,
	}
	rec.Status = Status(status)
	rec.LastError = lastError.String

	rec.Behaviors, err = decodeBehaviors(behaviors)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	rec, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return rec, nil
}

// GetAllAgents returns every agent ordered by creation time.
func (s *SQLiteStore) GetAllAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return out, nil
}

// execAgentUpdate runs a single-row UPDATE and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) execAgentUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets status and lastError. An empty lastError clears it.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.execAgentUpdate(ctx, "updating status",
		`UPDATE agents SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullString(lastError), nowString(), id)
}

// UpdateBehaviors replaces the behavior list.
func (s *SQLiteStore) UpdateBehaviors(ctx context.Context, id string, behaviors Behaviors) error {
	encoded, err := encodeBehaviors(behaviors)
	if err != nil {
		return err
	}
	return s.execAgentUpdate(ctx, "updating behaviors",
		`UPDATE agents SET behaviors = ?, updated_at = ? WHERE id = ?`,
		encoded, nowString(), id)
}

// UpdateSession stores a new session export string.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, session string) error {
	return s.execAgentUpdate(ctx, "updating session",
		`UPDATE agents SET session = ?, updated_at = ? WHERE id = ?`,
		nullString(session), nowString(), id)
}

// IncrementStat adds one to the named counter.
func (s *SQLiteStore) IncrementStat(ctx context.Context, id string, field StatField) error {
	col, err := field.column()
	if err != nil {
		return err
	}
	return s.execAgentUpdate(ctx, "incrementing stat",
		`UPDATE agents SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
		nowString(), id)
}

// DeleteAgent removes the agent with its events and parsed items in one transaction.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_events WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("deleting agent events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM parsed_items WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("deleting parsed items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted agent", "id", id)
	return nil
}

// SaveEvent appends an event to the log.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *Event) error {
	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_events (id, agent_id, agent_name, type, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.AgentID,
		event.AgentName,
		string(event.Type),
		payload,
		event.Timestamp.UTC().Format(sortableTime),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetEvents returns the most recent events, newest first.
// An empty agentID returns events for every agent.
func (s *SQLiteStore) GetEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	limit = clampLimit(limit)

	var rows *sql.Rows
	var err error
	if agentID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, agent_id, agent_name, type, payload, timestamp
			FROM agent_events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, agent_id, agent_name, type, payload, timestamp
			FROM agent_events WHERE agent_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`, agentID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var typ, ts string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.AgentName, &typ, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = EventType(typ)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveParsed appends a parsed item and sets its ID.
func (s *SQLiteStore) SaveParsed(ctx context.Context, item *ParsedItem) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO parsed_items (agent_id, source, data_type, content, captured_at) VALUES (?, ?, ?, ?, ?)`,
		item.AgentID,
		item.Source,
		item.DataType,
		item.Content,
		item.CapturedAt.UTC().Format(sortableTime),
	)
	if err != nil {
		return fmt.Errorf("inserting parsed item: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		item.ID = id
	}
	return nil
}

// GetParsed returns the most recent parsed items for an agent, newest first.
func (s *SQLiteStore) GetParsed(ctx context.Context, agentID string, limit int) ([]*ParsedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, source, data_type, content, captured_at
		FROM parsed_items WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying parsed items: %w", err)
	}
	defer rows.Close()

	var out []*ParsedItem
	for rows.Next() {
		var item ParsedItem
		var ts string
		if err := rows.Scan(&item.ID, &item.AgentID, &item.Source, &item.DataType, &item.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning parsed item: %w", err)
		}
		item.CapturedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing captured_at: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}
