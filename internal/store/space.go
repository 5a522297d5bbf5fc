package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/satchelhq/satchel/internal/model"
)

const (
	metaActiveSpace = "active_space"
	metaSyncCursor  = "sync_cursor"
)

// ActiveSpace returns the id of the currently active space, or "" when
// none has been selected yet.
func (db *DB) ActiveSpace(ctx context.Context) (string, error) {
	return db.metaGet(ctx, metaActiveSpace)
}

// SetActiveSpace switches the active space.
// The space must exist; returns model.ErrNotFound otherwise.
func (db *DB) SetActiveSpace(ctx context.Context, spaceID string) error {
	if _, err := db.Get(ctx, model.CollectionSpaces, spaceID); err != nil {
		return err
	}
	return db.metaSet(ctx, metaActiveSpace, spaceID)
}

// DeleteSpace hard-deletes a space and cascades to every content entity
// it owns. The CLI gates this behind explicit confirmation; archiving is
// the default soft path.
//
// The currently active space cannot be deleted (model.ErrActiveSpace);
// switch the active space first. Returns model.ErrNotFound for an
// unknown id.
func (db *DB) DeleteSpace(ctx context.Context, spaceID string, opts DeleteOptions) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	space, err := getTx(ctx, tx, model.CollectionSpaces, spaceID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load space %s: %w", spaceID, err)
	}

	active, err := metaGetTx(ctx, tx, metaActiveSpace)
	if err != nil {
		return err
	}
	if active == spaceID {
		return fmt.Errorf("space %s: %w", spaceID, model.ErrActiveSpace)
	}

	// Cascade children first so their delete mutations reach the remote
	// before the space's own delete.
	owned, err := ownedRecordsTx(ctx, tx, spaceID)
	if err != nil {
		return err
	}
	now := db.now()
	for _, rec := range owned {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE collection = ? AND id = ?`,
			string(rec.Collection), rec.ID); err != nil {
			return fmt.Errorf("failed to cascade delete %s %s: %w", rec.Collection, rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conflicts WHERE collection = ? AND entity_id = ?`,
			string(rec.Collection), rec.ID); err != nil {
			return fmt.Errorf("failed to clear conflict shadow for %s %s: %w", rec.Collection, rec.ID, err)
		}
		if !opts.FromRemote && db.syncEnabled {
			if err := db.journalTx(ctx, tx, rec, model.MutationDelete, now); err != nil {
				return err
			}
		}
	}

	if err := db.deleteTx(ctx, tx, space, opts.FromRemote); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of space %s: %w", spaceID, err)
	}

	// One event covers the cascade: subscribers invalidate the whole
	// space scope.
	db.publish(Event{
		Collection: model.CollectionSpaces,
		ID:         spaceID,
		SpaceID:    spaceID,
		Op:         OpDelete,
		FromRemote: opts.FromRemote,
	})
	return nil
}

// ownedRecordsTx returns every content record owned by a space, children
// before parents within each list so delete order is safe to replay.
func ownedRecordsTx(ctx context.Context, tx *sql.Tx, spaceID string) ([]*model.Record, error) {
	// Item collections first, then their containers.
	order := []model.Collection{
		model.CollectionTodoItems,
		model.CollectionListItems,
		model.CollectionNotes,
		model.CollectionTodoLists,
		model.CollectionLists,
	}

	var all []*model.Record
	for _, coll := range order {
		recs, err := queryScopeTx(ctx, tx, coll, Filter{SpaceID: spaceID})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// metaGet reads a meta value; "" when absent.
func (db *DB) metaGet(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

func metaGetTx(ctx context.Context, tx *sql.Tx, key string) (string, error) {
	var value string
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// metaSet writes a meta value.
func (db *DB) metaSet(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}
