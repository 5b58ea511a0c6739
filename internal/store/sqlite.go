package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wovenlog/weave/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events.actor
const currentSchemaVersion = 1

const (
	stateKeyVector   = "vector_clock"
	stateKeyLastSync = "last_sync"
)

// SQLiteStore implements Persistence on a local SQLite database.
// Uses WAL mode for concurrent read access while the single writer
// appends.
type SQLiteStore struct {
	db *sql.DB
}

var _ Persistence = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY on the append path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (p *SQLiteStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on
// user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the actor index for databases created before v1.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// AppendEvent inserts an event row. ON CONFLICT(id) DO NOTHING makes the
// append idempotent by id; other constraint violations still error.
func (p *SQLiteStore) AppendEvent(ctx context.Context, e event.Event) error {
	valueJSON, err := marshalValue(e.Value)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.ID, err)
	}
	causeJSON, err := event.MarshalCanonical(e.Cause)
	if err != nil {
		return fmt.Errorf("append event %s: marshal cause: %w", e.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO events (id, base, kind, value, model, cause, actor, date, vector, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Base,
		string(e.Kind),
		valueJSON,
		e.Model,
		string(causeJSON),
		e.Actor,
		e.Date.UTC().Format(time.RFC3339Nano),
		e.Vector,
		boolToInt(e.Synced),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.ID, err)
	}
	return nil
}

// MarkSynced flips the synced flag on a stored event.
func (p *SQLiteStore) MarkSynced(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE events SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	return nil
}

// LoadEvents returns the full log in append order. A row that fails to
// decode is logged and skipped; it never blocks the rest of the load.
func (p *SQLiteStore) LoadEvents(ctx context.Context) ([]event.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, base, kind, value, model, cause, actor, date, vector, synced
		FROM events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			slog.Warn("skipping undecodable event row", "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		e         event.Event
		kind      string
		valueJSON sql.NullString
		causeJSON string
		date      string
		vector    sql.NullString
		synced    int
	)
	if err := rows.Scan(&e.ID, &e.Base, &kind, &valueJSON, &e.Model, &causeJSON, &e.Actor, &date, &vector, &synced); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = event.Kind(kind)
	e.Vector = vector.String
	e.Synced = synced != 0

	if valueJSON.Valid && valueJSON.String != "" {
		if err := json.Unmarshal([]byte(valueJSON.String), &e.Value); err != nil {
			return event.Event{}, fmt.Errorf("event %s: unmarshal value: %w", e.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(causeJSON), &e.Cause); err != nil {
		return event.Event{}, fmt.Errorf("event %s: unmarshal cause: %w", e.ID, err)
	}
	if e.Cause == nil {
		e.Cause = []string{}
	}

	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: parse date: %w", e.ID, err)
	}
	e.Date = t
	return e, nil
}

// SaveVector upserts the replica's encoded vector clock.
func (p *SQLiteStore) SaveVector(ctx context.Context, encoded string) error {
	return p.saveState(ctx, stateKeyVector, encoded)
}

// LoadVector returns the stored vector clock encoding, "" when absent.
func (p *SQLiteStore) LoadVector(ctx context.Context) (string, error) {
	return p.loadState(ctx, stateKeyVector)
}

// SaveLastSync upserts the last successful sync timestamp.
func (p *SQLiteStore) SaveLastSync(ctx context.Context, t time.Time) error {
	return p.saveState(ctx, stateKeyLastSync, t.UTC().Format(time.RFC3339Nano))
}

// LoadLastSync returns the stored last-sync timestamp, zero when absent
// or unparseable. An unparseable value is logged and discarded so a
// corrupt row never blocks a sync from starting over.
func (p *SQLiteStore) LoadLastSync(ctx context.Context) (time.Time, error) {
	raw, err := p.loadState(ctx, stateKeyLastSync)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Warn("discarding corrupt last_sync value", "value", raw, "error", err)
		return time.Time{}, nil
	}
	return t, nil
}

func (p *SQLiteStore) saveState(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO replica_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (p *SQLiteStore) loadState(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM replica_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// SavePending upserts a pending-queue record.
func (p *SQLiteStore) SavePending(ctx context.Context, rec PendingRecord) error {
	eventJSON, err := json.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("save pending %s: %w", rec.Event.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO pending_events (event_id, event, missing_cause, enqueued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		rec.Event.ID,
		string(eventJSON),
		rec.MissingCause,
		rec.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save pending %s: %w", rec.Event.ID, err)
	}
	return nil
}

// DeletePending removes a pending-queue record.
func (p *SQLiteStore) DeletePending(ctx context.Context, eventID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_events WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("delete pending %s: %w", eventID, err)
	}
	return nil
}

// LoadPending returns the persisted pending queue. Undecodable rows are
// skipped with a log line.
func (p *SQLiteStore) LoadPending(ctx context.Context) ([]PendingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT event, missing_cause, enqueued_at FROM pending_events
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var recs []PendingRecord
	for rows.Next() {
		var (
			eventJSON  string
			missing    string
			enqueuedAt string
		)
		if err := rows.Scan(&eventJSON, &missing, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		var rec PendingRecord
		if err := json.Unmarshal([]byte(eventJSON), &rec.Event); err != nil {
			slog.Warn("skipping undecodable pending row", "error", err)
			continue
		}
		rec.MissingCause = missing
		t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			slog.Warn("skipping pending row with bad timestamp", "error", err)
			continue
		}
		rec.EnqueuedAt = t
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return recs, nil
}

// marshalValue serializes an event payload to canonical JSON TEXT, NULL
// for nil.
func marshalValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := event.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
