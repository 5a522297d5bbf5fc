package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/journal"
	"github.com/satchelhq/satchel/internal/model"
)

// PutOptions controls a Put call.
type PutOptions struct {
	// FromRemote marks the write as originating from a remote pull.
	// Remote writes keep their timestamps, are stamped synced, and are
	// NOT journaled (suppressing re-push loops).
	FromRemote bool
}

// DeleteOptions controls a Delete call.
type DeleteOptions struct {
	// FromRemote marks the delete as originating from a remote pull.
	FromRemote bool
}

// Filter restricts a Query or Count to a scope.
// Zero-value fields are ignored.
type Filter struct {
	// SpaceID restricts to entities owned by the space.
	SpaceID string
	// ParentID restricts to child entities of the list.
	ParentID string
}

// Get returns the entity with the given id.
// Returns model.ErrNotFound if no such entity exists.
func (db *DB) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT collection, id, space_id, parent_id, sort_order, payload,
		       created_at, updated_at, synced_at, sync_status
		FROM entities WHERE collection = ? AND id = ?`,
		string(collection), id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", collection, id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", collection, id, err)
	}
	return rec, nil
}

// Put inserts or updates an entity.
//
// For local writes the store stamps updated_at with the current time
// (kept strictly monotone per entity), assigns a dense sort order to new
// records (appended at the end of their scope), marks the entity
// pending_push, and appends a change-journal entry - all in one
// transaction. Remote writes keep the puller's values and skip the
// journal.
//
// A successful Put publishes a write notification.
func (db *DB) Put(ctx context.Context, rec *model.Record, opts PutOptions) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getTx(ctx, tx, rec.Collection, rec.ID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load existing %s %s: %w", rec.Collection, rec.ID, err)
	}
	isCreate := existing == nil

	now := db.now()
	if opts.FromRemote {
		// Remote timestamps are authoritative; the entity is in
		// agreement with the remote by definition.
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		rec.SyncStatus = model.StatusSynced
		syncedAt := rec.UpdatedAt
		rec.SyncedAt = &syncedAt
	} else {
		if isCreate {
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
		} else {
			rec.CreatedAt = existing.CreatedAt
			rec.SyncedAt = existing.SyncedAt
		}
		// updated_at is monotone non-decreasing per entity even if the
		// wall clock steps backwards.
		rec.UpdatedAt = now
		if existing != nil && !rec.UpdatedAt.After(existing.UpdatedAt) {
			rec.UpdatedAt = existing.UpdatedAt.Add(time.Millisecond)
		}
		if db.syncEnabled {
			rec.SyncStatus = model.StatusPendingPush
		} else {
			rec.SyncStatus = model.StatusLocalOnly
		}
	}

	if isCreate && !opts.FromRemote {
		// Dense append at the end of the scope.
		order, err := scopeCountTx(ctx, tx, rec.Collection, scopeOf(rec))
		if err != nil {
			return err
		}
		rec.SortOrder = order
	}

	if err := upsertTx(ctx, tx, rec); err != nil {
		return err
	}

	if !opts.FromRemote && db.syncEnabled {
		op := model.MutationUpdate
		if isCreate {
			op = model.MutationCreate
		}
		if err := db.journalTx(ctx, tx, rec, op, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write of %s %s: %w", rec.Collection, rec.ID, err)
	}

	evOp := OpUpdate
	if isCreate {
		evOp = OpCreate
	}
	db.publish(Event{
		Collection: rec.Collection,
		ID:         rec.ID,
		SpaceID:    rec.SpaceID,
		ParentID:   rec.ParentID,
		Op:         evOp,
		FromRemote: opts.FromRemote,
	})
	return nil
}

// Delete removes an entity and compacts the sort order of its scope.
// Deleting a todo list or checklist cascades to its items. Returns
// model.ErrNotFound when the id does not exist; this is the
// documented, consistently chosen behavior (no silent no-op).
//
// Spaces must be deleted through DeleteSpace, which enforces the
// active-space rule and cascades.
func (db *DB) Delete(ctx context.Context, collection model.Collection, id string, opts DeleteOptions) error {
	if collection == model.CollectionSpaces {
		return fmt.Errorf("spaces must be deleted through DeleteSpace")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getTx(ctx, tx, collection, id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %s: %w", collection, id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", collection, id, err)
	}

	if err := db.deleteTx(ctx, tx, existing, opts.FromRemote); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s %s: %w", collection, id, err)
	}

	db.publish(Event{
		Collection: collection,
		ID:         id,
		SpaceID:    existing.SpaceID,
		ParentID:   existing.ParentID,
		Op:         OpDelete,
		FromRemote: opts.FromRemote,
	})
	return nil
}

// deleteTx removes rec's row, compacts its scope, clears any conflict
// shadow, and journals the delete (unless it came from the remote).
// Deleting a list cascades to its items, children first so their
// delete mutations replay before the container's.
func (db *DB) deleteTx(ctx context.Context, tx *sql.Tx, rec *model.Record, fromRemote bool) error {
	if child := childCollectionOf(rec.Collection); child != "" {
		items, err := queryScopeTx(ctx, tx, child, Filter{ParentID: rec.ID})
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM entities WHERE collection = ? AND id = ?`,
				string(item.Collection), item.ID); err != nil {
				return fmt.Errorf("failed to cascade delete %s %s: %w", item.Collection, item.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM conflicts WHERE collection = ? AND entity_id = ?`,
				string(item.Collection), item.ID); err != nil {
				return fmt.Errorf("failed to clear conflict shadow for %s %s: %w", item.Collection, item.ID, err)
			}
			if !fromRemote && db.syncEnabled {
				if err := db.journalTx(ctx, tx, item, model.MutationDelete, db.now()); err != nil {
					return err
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE collection = ? AND id = ?`,
		string(rec.Collection), rec.ID); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", rec.Collection, rec.ID, err)
	}

	if err := db.compactScopeTx(ctx, tx, rec, fromRemote); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conflicts WHERE collection = ? AND entity_id = ?`,
		string(rec.Collection), rec.ID); err != nil {
		return fmt.Errorf("failed to clear conflict shadow for %s %s: %w", rec.Collection, rec.ID, err)
	}

	if !fromRemote && db.syncEnabled {
		if err := db.journalTx(ctx, tx, rec, model.MutationDelete, db.now()); err != nil {
			return err
		}
	}
	return nil
}

// Query returns all entities in a collection matching the filter,
// ordered by sort_order then id. The result is a fresh, finite slice
// per call; iterating it never touches the network.
func (db *DB) Query(ctx context.Context, collection model.Collection, f Filter) ([]*model.Record, error) {
	query := `
		SELECT collection, id, space_id, parent_id, sort_order, payload,
		       created_at, updated_at, synced_at, sync_status
		FROM entities WHERE collection = ?`
	args := []any{string(collection)}

	if f.SpaceID != "" {
		query += " AND space_id = ?"
		args = append(args, f.SpaceID)
	}
	if f.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, f.ParentID)
	}
	query += " ORDER BY sort_order ASC, id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the number of entities in a collection matching the filter.
func (db *DB) Count(ctx context.Context, collection model.Collection, f Filter) (int, error) {
	query := `SELECT COUNT(*) FROM entities WHERE collection = ?`
	args := []any{string(collection)}

	if f.SpaceID != "" {
		query += " AND space_id = ?"
		args = append(args, f.SpaceID)
	}
	if f.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, f.ParentID)
	}

	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// CountSpaceContent returns the number of content entities (everything
// except spaces) owned by the given space. Unknown space ids are
// vacuously empty: the count is 0, never an error.
func (db *DB) CountSpaceContent(ctx context.Context, spaceID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE space_id = ? AND collection != ?`,
		spaceID, string(model.CollectionSpaces)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count content of space %s: %w", spaceID, err)
	}
	return n, nil
}

// journalTx appends a change-journal entry for rec inside tx.
// The payload snapshot is the full envelope, so the push path needs no
// further store reads.
func (db *DB) journalTx(ctx context.Context, tx *sql.Tx, rec *model.Record, op model.Mutation, now time.Time) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s %s for journal: %w", rec.Collection, rec.ID, err)
	}

	_, err = journal.AppendTx(ctx, tx, &journal.Entry{
		Collection: rec.Collection,
		EntityID:   rec.ID,
		Op:         op,
		Payload:    snapshot,
	}, now)
	if err != nil {
		return err
	}
	return nil
}

// childCollectionOf returns the item collection a container owns, or ""
// for collections without children.
func childCollectionOf(coll model.Collection) model.Collection {
	switch coll {
	case model.CollectionTodoLists:
		return model.CollectionTodoItems
	case model.CollectionLists:
		return model.CollectionListItems
	}
	return ""
}

// scopeOf returns the scope filter a record's sort order is dense within:
// parent for item collections, owning space for space-level content,
// global for spaces themselves.
func scopeOf(rec *model.Record) Filter {
	switch rec.Collection {
	case model.CollectionTodoItems, model.CollectionListItems:
		return Filter{ParentID: rec.ParentID}
	case model.CollectionSpaces:
		return Filter{}
	default:
		return Filter{SpaceID: rec.SpaceID}
	}
}

// scopeCountTx counts entities in a scope inside a transaction.
func scopeCountTx(ctx context.Context, tx *sql.Tx, collection model.Collection, f Filter) (int, error) {
	query := `SELECT COUNT(*) FROM entities WHERE collection = ?`
	args := []any{string(collection)}
	if f.SpaceID != "" {
		query += " AND space_id = ?"
		args = append(args, f.SpaceID)
	}
	if f.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, f.ParentID)
	}

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s scope: %w", collection, err)
	}
	return n, nil
}

// getTx loads a record inside a transaction. Returns sql.ErrNoRows
// (not model.ErrNotFound) so callers can distinguish create from update.
func getTx(ctx context.Context, tx *sql.Tx, collection model.Collection, id string) (*model.Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT collection, id, space_id, parent_id, sort_order, payload,
		       created_at, updated_at, synced_at, sync_status
		FROM entities WHERE collection = ? AND id = ?`,
		string(collection), id)
	return scanRecord(row)
}

// upsertTx writes a record's row inside a transaction.
func upsertTx(ctx context.Context, tx *sql.Tx, rec *model.Record) error {
	var syncedAt any
	if rec.SyncedAt != nil {
		syncedAt = encodeTime(*rec.SyncedAt)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (collection, id, space_id, parent_id, sort_order, payload,
		                      created_at, updated_at, synced_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			space_id = excluded.space_id,
			parent_id = excluded.parent_id,
			sort_order = excluded.sort_order,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			synced_at = excluded.synced_at,
			sync_status = excluded.sync_status`,
		string(rec.Collection),
		rec.ID,
		nullString(rec.SpaceID),
		nullString(rec.ParentID),
		rec.SortOrder,
		string(rec.Payload),
		encodeTime(rec.CreatedAt),
		encodeTime(rec.UpdatedAt),
		syncedAt,
		string(rec.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Collection, rec.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes one entity row.
func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		rec                  model.Record
		coll, payload        string
		spaceID, parentID    sql.NullString
		createdAt, updatedAt string
		syncedAt             sql.NullString
		status               string
	)
	if err := row.Scan(&coll, &rec.ID, &spaceID, &parentID, &rec.SortOrder,
		&payload, &createdAt, &updatedAt, &syncedAt, &status); err != nil {
		return nil, err
	}

	rec.Collection = model.Collection(coll)
	rec.SpaceID = spaceID.String
	rec.ParentID = parentID.String
	rec.Payload = json.RawMessage(payload)
	rec.SyncStatus = model.SyncStatus(status)

	var err error
	if rec.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	if syncedAt.Valid && syncedAt.String != "" {
		t, err := decodeTime(syncedAt.String)
		if err != nil {
			return nil, err
		}
		rec.SyncedAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	var recs []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return recs, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
