// Package store provides the embedded local persistence layer for satchel.
//
// The store holds every typed collection (spaces, notes, todo lists and
// items, checklists and items) in a single SQLite database opened in
// embedded mode with WAL for concurrent reads.
//
// Architecture:
//   - Database file: <data-dir>/satchel.db
//   - WAL mode: concurrent readers during writes
//   - Tables: entities, journal, conflicts, meta
//   - Atomicity: each mutation commits the entity row, its change-journal
//     entry and sort-order bookkeeping in one transaction, so a crash
//     mid-write leaves either the old or the new value, never a torn record
//
// Every committed write emits an in-process notification (see Subscribe)
// so aggregate consumers can invalidate cached counts, and enqueues a
// change-journal entry unless the mutation originated from a remote pull.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout is the canonical timestamp encoding for all persisted times.
// The fractional seconds are fixed-width: SQL compares updated_at as
// strings, and RFC3339Nano's trimmed trailing zeros would make that
// ordering lexicographic instead of chronological ("...00.12Z" sorts
// before "...00.1Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection with satchel-specific functionality.
type DB struct {
	conn *sql.DB
	path string

	// syncEnabled controls whether local mutations are journaled for
	// push. When no remote is configured, entities stay local_only and
	// no journal rows are written.
	syncEnabled bool

	notifier *notifier
	nowFn    func() time.Time

	// writeSeq increments synchronously on every committed write.
	// Cached derived values (aggregate counts) capture the sequence at
	// compute time and are valid only while it is unchanged, so a stale
	// count can never be served after a completed write.
	writeSeq atomic.Int64
}

// WriteSeq returns the current write sequence number. It increments on
// every committed mutation before the mutating call returns.
func (db *DB) WriteSeq() int64 {
	return db.writeSeq.Load()
}

// publish bumps the write sequence and fans the event out to
// subscribers. Called after the owning transaction commits.
func (db *DB) publish(ev Event) {
	db.writeSeq.Add(1)
	db.notifier.publish(ev)
}

// Options configures a DB beyond its file path.
type Options struct {
	// SyncEnabled controls change journaling. Default true.
	SyncEnabled bool

	// Now overrides the clock, for tests. Default time.Now.
	Now func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{SyncEnabled: true, Now: time.Now}
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(filepath.Join(dataDir, "satchel.db"), store.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, opts Options) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if opts.Now == nil {
		opts.Now = time.Now
	}

	db := &DB{
		conn:        conn,
		path:        path,
		syncEnabled: opts.SyncEnabled,
		notifier:    newNotifier(),
		nowFn:       opts.Now,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// The change journal shares this connection so journal rows commit
// atomically with entity writes.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SyncEnabled reports whether local mutations are journaled for push.
func (db *DB) SyncEnabled() bool {
	return db.syncEnabled
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	db.notifier.close()

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the entities, journal, conflicts and meta tables along
// with indexes for scope queries. Idempotent - safe to call repeatedly.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- All typed collections share one envelope table. The payload column
	-- carries the full entity JSON; the indexed columns are authoritative
	-- for the shared fields.
	CREATE TABLE IF NOT EXISTS entities (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		space_id TEXT,
		parent_id TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'local_only',
		PRIMARY KEY (collection, id)
	);

	-- Append-only log of local mutations awaiting remote confirmation.
	-- Managed by the journal package; written here so entity writes and
	-- their journal entries commit in one transaction.
	CREATE TABLE IF NOT EXISTS journal (
		journal_id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		abandoned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Remote shadow copies for entities in conflict status, kept so both
	-- sides stay reachable until explicit resolution.
	CREATE TABLE IF NOT EXISTS conflicts (
		collection TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		remote_payload TEXT,
		remote_deleted INTEGER NOT NULL DEFAULT 0,
		remote_updated_at TEXT,
		detected_at TEXT NOT NULL,
		PRIMARY KEY (collection, entity_id)
	);

	-- Small key/value state: active space, sync cursor.
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for scope queries and counts
	CREATE INDEX IF NOT EXISTS idx_entities_space ON entities(space_id);
	CREATE INDEX IF NOT EXISTS idx_entities_scope ON entities(collection, space_id, sort_order);
	CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(collection, parent_id, sort_order);
	CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(sync_status);

	CREATE INDEX IF NOT EXISTS idx_journal_entity ON journal(collection, entity_id, journal_id);
	CREATE INDEX IF NOT EXISTS idx_journal_pending ON journal(abandoned, next_attempt_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// now returns the current time from the configured clock.
func (db *DB) now() time.Time {
	return db.nowFn()
}

// encodeTime formats t using the canonical layout.
func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// decodeTime parses a canonical timestamp. Zero time on empty input.
// Parsing accepts variable-width fractions so rows written before the
// layout became fixed-width still load.
func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
