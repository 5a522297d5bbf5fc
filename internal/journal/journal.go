// Package journal manages the append-only log of local mutations
// awaiting confirmation from the remote store.
//
// The journal shares the store's SQLite database: the store appends
// entries inside its own write transactions (via AppendTx) so an entity
// mutation and its journal row commit atomically. The sync engine drains
// entries with PeekPending, acknowledges pushed ones with Ack, and defers
// failed ones with MarkFailed.
//
// Ordering invariant: entries for the same entity are replayed in
// creation order (FIFO). PeekPending never returns an entry while an
// earlier entry for the same entity is deferred or abandoned, so a
// create can never be pushed after a later delete for the same id has
// been acknowledged.
//
// Entries are never silently dropped: once an entry exceeds the attempt
// budget it is abandoned, the owning entity is surfaced as a conflict,
// and the entry is excluded from PeekPending until Requeue.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/model"
)

// timeLayout matches the store's fixed-width encoding so the SQL
// eligibility comparison on next_attempt_at stays chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry records one pending mutation.
type Entry struct {
	// JournalID is the monotonically increasing append id.
	JournalID int64

	// Collection and EntityID identify the mutated entity.
	Collection model.Collection
	EntityID   string

	// Op is the mutation kind (create, update, delete).
	Op model.Mutation

	// Payload is the entity envelope snapshot at mutation time.
	// Empty for deletes of entities whose payload was unavailable.
	Payload json.RawMessage

	// AttemptCount is how many pushes have failed so far.
	AttemptCount int

	// NextAttemptAt is when the entry becomes eligible again after a
	// failure (exponential backoff).
	NextAttemptAt time.Time

	// Abandoned marks entries that exhausted the attempt budget.
	// They require manual resolution and are excluded from PeekPending.
	Abandoned bool

	CreatedAt time.Time
}

// Validate checks the entry's required fields.
func (e *Entry) Validate() error {
	if !e.Collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", model.ErrValidation, e.Collection)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", model.ErrValidation)
	}
	if !e.Op.Valid() {
		return fmt.Errorf("%w: unknown mutation %q", model.ErrValidation, e.Op)
	}
	return nil
}

// Config holds retry policy for journal entries.
type Config struct {
	// MaxAttempts is the push budget before an entry is abandoned.
	MaxAttempts int

	// BackoffBase is the first retry delay; each subsequent failure
	// doubles it up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BackoffBase: 2 * time.Second,
		BackoffCap:  5 * time.Minute,
		Now:         time.Now,
	}
}

// Journal provides access to the change journal table.
type Journal struct {
	conn *sql.DB
	cfg  Config
}

// New creates a Journal over the store's database connection.
// The journal table must already exist (store.InitSchema creates it).
func New(conn *sql.DB, cfg Config) *Journal {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Journal{conn: conn, cfg: cfg}
}

// AppendTx appends an entry inside an existing transaction.
//
// This is the hook the store uses so entity writes and their journal
// rows commit atomically. Returns the assigned journal id.
func AppendTx(ctx context.Context, tx *sql.Tx, e *Entry, now time.Time) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO journal (collection, entity_id, op, payload, attempt_count, next_attempt_at, abandoned, created_at)
		VALUES (?, ?, ?, ?, 0, ?, 0, ?)`,
		string(e.Collection),
		e.EntityID,
		string(e.Op),
		string(payload),
		now.UTC().Format(timeLayout),
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append journal entry for %s/%s: %w", e.Collection, e.EntityID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read journal id: %w", err)
	}
	return id, nil
}

// Append appends an entry in its own transaction.
func (j *Journal) Append(ctx context.Context, e *Entry) (int64, error) {
	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := AppendTx(ctx, tx, e, j.cfg.Now())
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit journal append: %w", err)
	}
	return id, nil
}

// PeekPending returns up to limit eligible entries, oldest first.
//
// An entry is eligible when it is not abandoned, its backoff window has
// passed, and no earlier entry for the same entity is still deferred or
// abandoned (per-entity FIFO). Entries are not removed; call Ack after
// a successful push.
func (j *Journal) PeekPending(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	now := j.cfg.Now().UTC().Format(timeLayout)

	rows, err := j.conn.QueryContext(ctx, `
		SELECT journal_id, collection, entity_id, op, payload, attempt_count, next_attempt_at, abandoned, created_at
		FROM journal j
		WHERE j.abandoned = 0
		  AND j.next_attempt_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM journal p
			WHERE p.collection = j.collection
			  AND p.entity_id = j.entity_id
			  AND p.journal_id < j.journal_id
			  AND (p.abandoned = 1 OR p.next_attempt_at > ?)
		  )
		ORDER BY j.journal_id ASC
		LIMIT ?`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending journal entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Ack removes an acknowledged entry. Acked entries stay acked even if a
// sync cycle is aborted afterwards; removing a missing id is a no-op so
// crash-recovery replays are safe.
func (j *Journal) Ack(ctx context.Context, journalID int64) error {
	if _, err := j.conn.ExecContext(ctx, `DELETE FROM journal WHERE journal_id = ?`, journalID); err != nil {
		return fmt.Errorf("failed to ack journal entry %d: %w", journalID, err)
	}
	return nil
}

// MarkFailed records a transient push failure: increments the attempt
// count and defers the entry with exponential backoff. Returns true when
// the entry crossed the attempt budget and was abandoned; the caller is
// responsible for flagging the owning entity as a conflict.
func (j *Journal) MarkFailed(ctx context.Context, journalID int64) (bool, error) {
	e, err := j.get(ctx, journalID)
	if err != nil {
		return false, err
	}

	attempts := e.AttemptCount + 1
	if attempts >= j.cfg.MaxAttempts {
		if _, err := j.conn.ExecContext(ctx,
			`UPDATE journal SET attempt_count = ?, abandoned = 1 WHERE journal_id = ?`,
			attempts, journalID); err != nil {
			return false, fmt.Errorf("failed to abandon journal entry %d: %w", journalID, err)
		}
		return true, nil
	}

	next := j.cfg.Now().Add(j.backoff(attempts))
	if _, err := j.conn.ExecContext(ctx,
		`UPDATE journal SET attempt_count = ?, next_attempt_at = ? WHERE journal_id = ?`,
		attempts, next.UTC().Format(timeLayout), journalID); err != nil {
		return false, fmt.Errorf("failed to defer journal entry %d: %w", journalID, err)
	}
	return false, nil
}

// Abandon marks an entry as requiring manual resolution immediately,
// bypassing the retry budget. Used for definitive remote rejections.
func (j *Journal) Abandon(ctx context.Context, journalID int64) error {
	if _, err := j.conn.ExecContext(ctx,
		`UPDATE journal SET abandoned = 1 WHERE journal_id = ?`, journalID); err != nil {
		return fmt.Errorf("failed to abandon journal entry %d: %w", journalID, err)
	}
	return nil
}

// Requeue resets all entries for an entity back to eligible: attempt
// counts cleared, abandoned flags dropped. Used by manual conflict
// resolution when the user keeps the local version.
func (j *Journal) Requeue(ctx context.Context, collection model.Collection, entityID string) (int, error) {
	res, err := j.conn.ExecContext(ctx, `
		UPDATE journal SET attempt_count = 0, abandoned = 0, next_attempt_at = ?
		WHERE collection = ? AND entity_id = ?`,
		j.cfg.Now().UTC().Format(timeLayout), string(collection), entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue journal entries for %s/%s: %w", collection, entityID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DiscardEntity removes every entry for an entity. Used when the user
// resolves a conflict by keeping the remote version: the local mutations
// are dropped deliberately, not silently.
func (j *Journal) DiscardEntity(ctx context.Context, collection model.Collection, entityID string) (int, error) {
	res, err := j.conn.ExecContext(ctx,
		`DELETE FROM journal WHERE collection = ? AND entity_id = ?`,
		string(collection), entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to discard journal entries for %s/%s: %w", collection, entityID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HasPending reports whether any non-abandoned entry exists for the entity.
func (j *Journal) HasPending(ctx context.Context, collection model.Collection, entityID string) (bool, error) {
	var n int
	err := j.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal WHERE collection = ? AND entity_id = ? AND abandoned = 0`,
		string(collection), entityID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count pending entries for %s/%s: %w", collection, entityID, err)
	}
	return n > 0, nil
}

// PendingCount returns the number of non-abandoned entries.
func (j *Journal) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := j.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal WHERE abandoned = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// Abandoned returns all abandoned entries, oldest first. These are the
// mutations surfaced to the user for manual resolution.
func (j *Journal) Abandoned(ctx context.Context) ([]*Entry, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT journal_id, collection, entity_id, op, payload, attempt_count, next_attempt_at, abandoned, created_at
		FROM journal WHERE abandoned = 1 ORDER BY journal_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query abandoned entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// backoff returns the retry delay after the given number of failed
// attempts: base * 2^(attempts-1), capped.
func (j *Journal) backoff(attempts int) time.Duration {
	d := j.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= j.cfg.BackoffCap {
			return j.cfg.BackoffCap
		}
	}
	if d > j.cfg.BackoffCap {
		return j.cfg.BackoffCap
	}
	return d
}

// get loads a single entry by id.
func (j *Journal) get(ctx context.Context, journalID int64) (*Entry, error) {
	row := j.conn.QueryRowContext(ctx, `
		SELECT journal_id, collection, entity_id, op, payload, attempt_count, next_attempt_at, abandoned, created_at
		FROM journal WHERE journal_id = ?`, journalID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal entry %d: %w", journalID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entry %d: %w", journalID, err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                  Entry
		coll, op, payload  string
		nextAt, createdAt  string
		abandoned          int
	)
	if err := row.Scan(&e.JournalID, &coll, &e.EntityID, &op, &payload,
		&e.AttemptCount, &nextAt, &abandoned, &createdAt); err != nil {
		return nil, err
	}

	e.Collection = model.Collection(coll)
	e.Op = model.Mutation(op)
	e.Payload = json.RawMessage(payload)
	e.Abandoned = abandoned != 0

	// Parse leniently so variable-width fractions from rows written
	// before the layout became fixed-width still load.
	var err error
	if e.NextAttemptAt, err = time.Parse(time.RFC3339Nano, nextAt); err != nil {
		return nil, fmt.Errorf("failed to parse next_attempt_at: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entries: %w", err)
	}
	return entries, nil
}
