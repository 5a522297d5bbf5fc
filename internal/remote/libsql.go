package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/satchelhq/satchel/internal/model"
)

// pullBatchSize bounds a single PullSince round trip.
const pullBatchSize = 200

// LibSQLConfig configures the hosted change-log connection.
type LibSQLConfig struct {
	// URL is the libsql:// endpoint of the hosted database.
	URL string
	// Tokens supplies the auth token for the session.
	Tokens TokenProvider
	// DeviceID identifies this device; pulls filter out its own
	// changes so pushes never echo back.
	DeviceID string
}

// libSQLClient implements Client against a Turso/libSQL database
// holding a single append-only changes table. The pull cursor is the
// last seen rowid rendered as a decimal string.
type libSQLClient struct {
	conn     *sql.DB
	deviceID string
}

// OpenLibSQL connects to the hosted change log and ensures its schema.
//
// Returns model.ErrNoSession if no URL is configured or the token
// provider has no credential; the caller treats that as "sync not set
// up", not as a failure.
func OpenLibSQL(ctx context.Context, cfg LibSQLConfig) (Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no remote configured: %w", model.ErrNoSession)
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	token, err := cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote credential: %w", err)
	}

	connStr := cfg.URL
	if token != "" {
		sep := "?"
		if strings.Contains(connStr, "?") {
			sep = "&"
		}
		connStr += sep + "authToken=" + url.QueryEscape(token)
	}

	conn, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &libSQLClient{conn: conn, deviceID: cfg.DeviceID}
	if err := c.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *libSQLClient) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS changes (
		change_id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT,
		updated_at TEXT NOT NULL,
		device_id TEXT NOT NULL
	);

	-- Dedupe key for idempotent pushes: re-sending the same change
	-- after a crash must not grow the log.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_changes_dedupe
	    ON changes(collection, entity_id, op, updated_at, device_id);

	CREATE INDEX IF NOT EXISTS idx_changes_device ON changes(device_id);
	`
	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return classify(fmt.Errorf("failed to initialize remote schema: %w", err))
	}
	return nil
}

// Push appends a change, ignoring exact duplicates.
func (c *libSQLClient) Push(ctx context.Context, ch Change) error {
	if !ch.Collection.Valid() {
		return fmt.Errorf("push of unknown collection %q: %w", ch.Collection, model.ErrSyncRejected)
	}
	if !ch.Op.Valid() {
		return fmt.Errorf("push of unknown op %q: %w", ch.Op, model.ErrSyncRejected)
	}

	var payload sql.NullString
	if len(ch.Payload) > 0 {
		payload = sql.NullString{String: string(ch.Payload), Valid: true}
	}

	query := `
	INSERT INTO changes (collection, entity_id, op, payload, updated_at, device_id)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, entity_id, op, updated_at, device_id) DO NOTHING
	`
	_, err := c.conn.ExecContext(ctx, query,
		string(ch.Collection),
		ch.EntityID,
		string(ch.Op),
		payload,
		ch.UpdatedAt.UTC().Format(time.RFC3339Nano),
		c.deviceID,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to push change for %s/%s: %w", ch.Collection, ch.EntityID, err))
	}
	return nil
}

// PullSince fetches up to pullBatchSize foreign changes after cursor.
func (c *libSQLClient) PullSince(ctx context.Context, cursor string) ([]Change, string, error) {
	since, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
	SELECT change_id, collection, entity_id, op, payload, updated_at, device_id
	FROM changes
	WHERE change_id > ? AND device_id != ?
	ORDER BY change_id ASC
	LIMIT ?
	`
	rows, err := c.conn.QueryContext(ctx, query, since, c.deviceID, pullBatchSize)
	if err != nil {
		return nil, "", classify(fmt.Errorf("failed to pull changes: %w", err))
	}
	defer rows.Close()

	var (
		out  []Change
		last = since
	)
	for rows.Next() {
		var (
			id        int64
			ch        Change
			coll, op  string
			payload   sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&id, &coll, &ch.EntityID, &op, &payload, &updatedAt, &ch.DeviceID); err != nil {
			return nil, "", classify(fmt.Errorf("failed to scan change: %w", err))
		}
		ch.Collection = model.Collection(coll)
		ch.Op = model.Mutation(op)
		if payload.Valid {
			ch.Payload = []byte(payload.String)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, "", fmt.Errorf("remote change %d has bad timestamp %q: %w", id, updatedAt, model.ErrSyncRejected)
		}
		ch.UpdatedAt = ts
		out = append(out, ch)
		last = id
	}
	if err := rows.Err(); err != nil {
		return nil, "", classify(fmt.Errorf("error iterating changes: %w", err))
	}

	next := cursor
	if last != since {
		next = strconv.FormatInt(last, 10)
	}
	if next == "" {
		next = "0"
	}
	return out, next, nil
}

func (c *libSQLClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close remote connection: %w", err)
	}
	return nil
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed sync cursor %q: %w", cursor, model.ErrSyncRejected)
	}
	return n, nil
}

// classify sorts a remote failure into the retry taxonomy. Context
// cancellation passes through untouched so callers can tell a stopped
// sync from a failed one; constraint violations are definitive
// rejections; everything else (network, timeouts, busy database) is
// worth retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "malformed") {
		return fmt.Errorf("%w: %w", model.ErrSyncRejected, err)
	}
	return fmt.Errorf("%w: %w", model.ErrSyncTransient, err)
}
