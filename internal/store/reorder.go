package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/model"
)

// Reorder rewrites the sort order of every entity in a scope to match
// the given id sequence.
//
// ids must be exactly the set of entity ids currently in the scope; the
// result is a dense 0..n-1 assignment with no gaps or duplicates.
// Entities whose position changed are stamped, journaled and notified
// like any other local mutation.
func (db *DB) Reorder(ctx context.Context, collection model.Collection, scope Filter, ids []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := queryScopeTx(ctx, tx, collection, scope)
	if err != nil {
		return err
	}

	if len(ids) != len(current) {
		return fmt.Errorf("%w: reorder lists %d ids but scope holds %d entities",
			model.ErrValidation, len(ids), len(current))
	}
	byID := make(map[string]*model.Record, len(current))
	for _, rec := range current {
		byID[rec.ID] = rec
	}

	seen := make(map[string]bool, len(ids))
	var changed []*model.Record
	now := db.now()

	for pos, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: id %s is not in the reordered scope", model.ErrValidation, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: id %s appears twice in reorder", model.ErrValidation, id)
		}
		seen[id] = true

		if rec.SortOrder == pos {
			continue
		}
		rec.SortOrder = pos
		if err := db.repositionTx(ctx, tx, rec, now); err != nil {
			return err
		}
		changed = append(changed, rec)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder of %s: %w", collection, err)
	}

	for _, rec := range changed {
		db.publish(Event{
			Collection: rec.Collection,
			ID:         rec.ID,
			SpaceID:    rec.SpaceID,
			ParentID:   rec.ParentID,
			Op:         OpUpdate,
		})
	}
	return nil
}

// compactScopeTx closes the sort-order gap left by a deleted record:
// every trailing sibling shifts down one position. Shifts are ordinary
// local mutations (stamped and journaled) unless the delete came from
// the remote, in which case the remote will deliver its own updates.
func (db *DB) compactScopeTx(ctx context.Context, tx *sql.Tx, deleted *model.Record, fromRemote bool) error {
	scope := scopeOf(deleted)

	siblings, err := queryScopeTx(ctx, tx, deleted.Collection, scope)
	if err != nil {
		return err
	}

	now := db.now()
	for _, rec := range siblings {
		if rec.SortOrder <= deleted.SortOrder {
			continue
		}
		rec.SortOrder--
		if fromRemote {
			// Positional bookkeeping only; the remote owns the shift.
			if _, err := tx.ExecContext(ctx,
				`UPDATE entities SET sort_order = ? WHERE collection = ? AND id = ?`,
				rec.SortOrder, string(rec.Collection), rec.ID); err != nil {
				return fmt.Errorf("failed to compact %s %s: %w", rec.Collection, rec.ID, err)
			}
			continue
		}
		if err := db.repositionTx(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	return nil
}

// repositionTx persists a sort-order change as a full local mutation:
// monotone updated_at stamp, pending_push status, journal entry.
func (db *DB) repositionTx(ctx context.Context, tx *sql.Tx, rec *model.Record, now time.Time) error {
	updatedAt := now
	if !updatedAt.After(rec.UpdatedAt) {
		updatedAt = rec.UpdatedAt.Add(time.Millisecond)
	}
	rec.UpdatedAt = updatedAt
	if db.syncEnabled {
		rec.SyncStatus = model.StatusPendingPush
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET sort_order = ?, updated_at = ?, sync_status = ?
		WHERE collection = ? AND id = ?`,
		rec.SortOrder, encodeTime(rec.UpdatedAt), string(rec.SyncStatus),
		string(rec.Collection), rec.ID); err != nil {
		return fmt.Errorf("failed to reposition %s %s: %w", rec.Collection, rec.ID, err)
	}

	if db.syncEnabled {
		if err := db.journalTx(ctx, tx, rec, model.MutationUpdate, now); err != nil {
			return err
		}
	}
	return nil
}

// queryScopeTx loads a scope's records ordered by sort_order inside a
// transaction.
func queryScopeTx(ctx context.Context, tx *sql.Tx, collection model.Collection, f Filter) ([]*model.Record, error) {
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

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s scope: %w", collection, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}
