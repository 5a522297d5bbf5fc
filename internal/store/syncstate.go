package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/model"
)

// SetSyncStatus updates an entity's sync status.
// Returns model.ErrNotFound for an unknown id.
func (db *DB) SetSyncStatus(ctx context.Context, collection model.Collection, id string, status model.SyncStatus) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE entities SET sync_status = ? WHERE collection = ? AND id = ?`,
		string(status), string(collection), id)
	if err != nil {
		return fmt.Errorf("failed to set sync status of %s %s: %w", collection, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, model.ErrNotFound)
	}
	return nil
}

// MarkSynced records successful push confirmation for an entity: status
// synced and synced_at set to the pushed updated_at value, which becomes
// the baseline for future conflict detection.
//
// An entity edited again while its push was in flight stays
// pending_push: confirmation for an older updated_at must not mask the
// newer local change.
func (db *DB) MarkSynced(ctx context.Context, collection model.Collection, id string, syncedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE entities SET sync_status = ?, synced_at = ?
		WHERE collection = ? AND id = ? AND updated_at <= ?`,
		string(model.StatusSynced), encodeTime(syncedAt),
		string(collection), id, encodeTime(syncedAt))
	if err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Entity gone (deleted later) or edited past syncedAt; both fine.
		return nil
	}
	return nil
}

// SyncCursor returns the last successfully applied remote pull cursor,
// or "" before the first pull.
func (db *DB) SyncCursor(ctx context.Context) (string, error) {
	return db.metaGet(ctx, metaSyncCursor)
}

// SetSyncCursor persists the pull cursor after a completed pull phase.
func (db *DB) SetSyncCursor(ctx context.Context, cursor string) error {
	return db.metaSet(ctx, metaSyncCursor, cursor)
}

// ConflictShadow is the retained remote copy of an entity in conflict
// status. Keeping it makes both divergent states reachable until the
// user resolves the conflict.
type ConflictShadow struct {
	Collection      model.Collection
	EntityID        string
	RemotePayload   json.RawMessage
	RemoteDeleted   bool
	RemoteUpdatedAt time.Time
	DetectedAt      time.Time
}

// RecordConflict flags an entity as conflicted and stores the remote
// shadow. The entity keeps its local state; subscribers are notified so
// the presentation layer can surface the conflict.
func (db *DB) RecordConflict(ctx context.Context, collection model.Collection, id string, remotePayload json.RawMessage, remoteDeleted bool, remoteUpdatedAt time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload any
	if len(remotePayload) > 0 {
		payload = string(remotePayload)
	}
	deleted := 0
	if remoteDeleted {
		deleted = 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conflicts (collection, entity_id, remote_payload, remote_deleted, remote_updated_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, entity_id) DO UPDATE SET
			remote_payload = excluded.remote_payload,
			remote_deleted = excluded.remote_deleted,
			remote_updated_at = excluded.remote_updated_at,
			detected_at = excluded.detected_at`,
		string(collection), id, payload, deleted,
		encodeTime(remoteUpdatedAt), encodeTime(db.now())); err != nil {
		return fmt.Errorf("failed to record conflict for %s %s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET sync_status = ? WHERE collection = ? AND id = ?`,
		string(model.StatusConflict), string(collection), id); err != nil {
		return fmt.Errorf("failed to flag %s %s as conflicted: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict for %s %s: %w", collection, id, err)
	}

	db.publish(Event{
		Collection: collection,
		ID:         id,
		Op:         OpUpdate,
		FromRemote: true,
	})
	return nil
}

// Conflict returns the shadow for one conflicted entity.
// Returns model.ErrNotFound when no conflict is recorded.
func (db *DB) Conflict(ctx context.Context, collection model.Collection, id string) (*ConflictShadow, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT collection, entity_id, remote_payload, remote_deleted, remote_updated_at, detected_at
		FROM conflicts WHERE collection = ? AND entity_id = ?`,
		string(collection), id)

	shadow, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict for %s %s: %w", collection, id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict for %s %s: %w", collection, id, err)
	}
	return shadow, nil
}

// Conflicts returns all recorded conflicts, oldest first.
func (db *DB) Conflicts(ctx context.Context) ([]*ConflictShadow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT collection, entity_id, remote_payload, remote_deleted, remote_updated_at, detected_at
		FROM conflicts ORDER BY detected_at ASC, entity_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var shadows []*ConflictShadow
	for rows.Next() {
		shadow, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		shadows = append(shadows, shadow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return shadows, nil
}

// ClearConflict removes the shadow after resolution. Idempotent.
func (db *DB) ClearConflict(ctx context.Context, collection model.Collection, id string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM conflicts WHERE collection = ? AND entity_id = ?`,
		string(collection), id); err != nil {
		return fmt.Errorf("failed to clear conflict for %s %s: %w", collection, id, err)
	}
	return nil
}

func scanConflict(row rowScanner) (*ConflictShadow, error) {
	var (
		shadow            ConflictShadow
		coll              string
		payload           sql.NullString
		deleted           int
		updatedAt, detect string
	)
	if err := row.Scan(&coll, &shadow.EntityID, &payload, &deleted, &updatedAt, &detect); err != nil {
		return nil, err
	}

	shadow.Collection = model.Collection(coll)
	if payload.Valid {
		shadow.RemotePayload = json.RawMessage(payload.String)
	}
	shadow.RemoteDeleted = deleted != 0

	var err error
	if shadow.RemoteUpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	if shadow.DetectedAt, err = decodeTime(detect); err != nil {
		return nil, err
	}
	return &shadow, nil
}
