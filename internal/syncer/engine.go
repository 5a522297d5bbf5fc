package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/journal"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/store"
)

// peekBatch is how many journal entries one push pass requests.
const peekBatch = 50

type engine struct {
	db     *store.DB
	jr     *journal.Journal
	client remote.Client
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex    // serializes cycles
	trigger chan struct{} // 1-slot, coalescing
}

// New builds a Syncer over the store, journal, and remote client.
func New(db *store.DB, jr *journal.Journal, client remote.Client, cfg Config) Syncer {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.SkewWindow <= 0 {
		cfg.SkewWindow = def.SkewWindow
	}
	if cfg.PushBudget <= 0 {
		cfg.PushBudget = def.PushBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &engine{
		db:      db,
		jr:      jr,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

func (e *engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.trigger:
		}

		stats, err := e.SyncOnce(ctx)
		switch {
		case err == nil:
			if stats.Pulled+stats.Pushed+stats.Conflicts > 0 {
				e.logger.Printf("cycle done: pulled=%d pushed=%d conflicts=%d deferred=%d",
					stats.Pulled, stats.Pushed, stats.Conflicts, stats.Deferred)
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case errors.Is(err, model.ErrNoSession):
			e.logger.Printf("sync unavailable: %v", err)
		default:
			e.logger.Printf("cycle failed: %v", err)
		}
	}
}

func (e *engine) SyncOnce(ctx context.Context) (Stats, error) {
	if e.client == nil {
		return Stats{}, fmt.Errorf("sync is not configured: %w", model.ErrNoSession)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var stats Stats
	if err := e.pull(ctx, &stats); err != nil {
		return stats, fmt.Errorf("pull phase: %w", err)
	}
	if err := e.push(ctx, &stats); err != nil {
		return stats, fmt.Errorf("push phase: %w", err)
	}

	if e.cfg.Hook != nil {
		e.cfg.Hook(stats)
	}
	return stats, nil
}

// pull applies remote changes since the saved cursor, batch by batch.
// The cursor advances only after a whole batch has been applied, so a
// cancelled cycle re-pulls (idempotently) rather than skipping changes.
func (e *engine) pull(ctx context.Context, stats *Stats) error {
	cursor, err := e.db.SyncCursor(ctx)
	if err != nil {
		return err
	}

	for {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		changes, next, err := e.client.PullSince(callCtx, cursor)
		cancel()
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		for _, ch := range changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.applyRemote(ctx, ch, stats); err != nil {
				return fmt.Errorf("failed to apply remote change for %s/%s: %w",
					ch.Collection, ch.EntityID, err)
			}
			stats.Pulled++
		}

		if err := e.db.SetSyncCursor(ctx, next); err != nil {
			return err
		}
		cursor = next
	}
}

// applyRemote merges one remote change into the local store.
func (e *engine) applyRemote(ctx context.Context, ch remote.Change, stats *Stats) error {
	local, err := e.db.Get(ctx, ch.Collection, ch.EntityID)
	if errors.Is(err, model.ErrNotFound) {
		if ch.Op == model.MutationDelete {
			return nil // already gone
		}
		rec, err := decodeChange(ch)
		if err != nil {
			return err
		}
		return e.db.Put(ctx, rec, store.PutOptions{FromRemote: true})
	}
	if err != nil {
		return err
	}

	switch local.SyncStatus {
	case model.StatusPendingPush, model.StatusConflict:
		return e.mergeContested(ctx, local, ch, stats)
	}

	// No pending local edits: the remote side wins outright.
	if ch.Op == model.MutationDelete {
		err := e.db.Delete(ctx, ch.Collection, ch.EntityID, store.DeleteOptions{FromRemote: true})
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if !ch.UpdatedAt.After(local.UpdatedAt) {
		return nil // stale change or our own echo
	}
	rec, err := decodeChange(ch)
	if err != nil {
		return err
	}
	return e.db.Put(ctx, rec, store.PutOptions{FromRemote: true})
}

// mergeContested decides between a remote change and pending local
// edits on the same entity: last-write-wins when the timestamps are
// farther apart than the skew window, conflict when they are within it
// and the snapshots differ at all (identical snapshots, such as the
// same edit made on both devices, pass through). A remote delete
// against a pending local edit is always a conflict; silently losing
// either side is worse than asking.
func (e *engine) mergeContested(ctx context.Context, local *model.Record, ch remote.Change, stats *Stats) error {
	if ch.Op == model.MutationDelete {
		return e.flagConflict(ctx, local, ch, stats)
	}

	rec, err := decodeChange(ch)
	if err != nil {
		return err
	}

	gap := ch.UpdatedAt.Sub(local.UpdatedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap <= e.cfg.SkewWindow && contested(local, rec) {
		return e.flagConflict(ctx, local, ch, stats)
	}

	// Last-write-wins.
	if ch.UpdatedAt.After(local.UpdatedAt) {
		if _, err := e.jr.DiscardEntity(ctx, ch.Collection, ch.EntityID); err != nil {
			return err
		}
		return e.db.Put(ctx, rec, store.PutOptions{FromRemote: true})
	}
	return nil // local edit is newer, it will be pushed
}

func (e *engine) flagConflict(ctx context.Context, local *model.Record, ch remote.Change, stats *Stats) error {
	refresh := local.SyncStatus == model.StatusConflict
	err := e.db.RecordConflict(ctx, ch.Collection, ch.EntityID,
		ch.Payload, ch.Op == model.MutationDelete, ch.UpdatedAt)
	if err != nil {
		return err
	}
	if !refresh {
		stats.Conflicts++
	}
	return nil
}

// push drains the journal oldest-first until empty or the budget runs
// out, re-peeking between batches so entries appended mid-cycle are
// picked up in the same cycle.
func (e *engine) push(ctx context.Context, stats *Stats) error {
	budget := e.cfg.PushBudget
	for budget > 0 {
		limit := peekBatch
		if limit > budget {
			limit = budget
		}
		entries, err := e.jr.PeekPending(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		progressed := false
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := e.pushEntry(ctx, entry, stats)
			if err != nil {
				return err
			}
			if ok {
				progressed = true
			}
			budget--
		}
		if !progressed {
			// Everything in this batch deferred; backoff will
			// make them eligible again on a later cycle.
			return nil
		}
	}
	return nil
}

// pushEntry sends one journal entry to the remote. Returns true if the
// entry was settled (acked or abandoned), false if deferred for retry.
func (e *engine) pushEntry(ctx context.Context, entry *journal.Entry, stats *Stats) (bool, error) {
	rec, err := decodeSnapshot(entry.Payload)
	if err != nil {
		// An unreadable snapshot will never push; treat it as a
		// definitive rejection.
		e.logger.Printf("journal entry %d has unreadable snapshot: %v", entry.JournalID, err)
		return true, e.reject(ctx, entry, stats)
	}

	// A conflicted entity's entries are held until the user resolves
	// the conflict; pushing them would race the resolution.
	if local, err := e.db.Get(ctx, entry.Collection, entry.EntityID); err == nil &&
		local.SyncStatus == model.StatusConflict {
		stats.Deferred++
		return false, nil
	}

	ch := remote.Change{
		Collection: entry.Collection,
		EntityID:   entry.EntityID,
		Op:         entry.Op,
		UpdatedAt:  rec.UpdatedAt,
	}
	if entry.Op != model.MutationDelete {
		ch.Payload = entry.Payload
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	err = e.client.Push(callCtx, ch)
	cancel()

	if err != nil && ctx.Err() != nil {
		// The cycle itself was cancelled; the entry stays pending.
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Only the per-call timeout expired: a transient failure,
		// retried with backoff like any other network fault.
		err = fmt.Errorf("push timed out after %s: %w", e.cfg.CallTimeout, model.ErrSyncTransient)
	}

	switch {
	case err == nil:
		if err := e.jr.Ack(ctx, entry.JournalID); err != nil {
			return false, err
		}
		if entry.Op != model.MutationDelete {
			if err := e.db.MarkSynced(ctx, entry.Collection, entry.EntityID, rec.UpdatedAt); err != nil &&
				!errors.Is(err, model.ErrNotFound) {
				return false, err
			}
		}
		stats.Pushed++
		return true, nil

	case errors.Is(err, context.Canceled):
		return false, err

	case model.IsRetryable(err):
		abandoned, ferr := e.jr.MarkFailed(ctx, entry.JournalID)
		if ferr != nil {
			return false, ferr
		}
		if abandoned {
			e.logger.Printf("push of %s/%s abandoned after %d attempts: %v",
				entry.Collection, entry.EntityID, entry.AttemptCount+1, err)
			stats.Conflicts++
			return true, e.markEntityConflict(ctx, entry)
		}
		stats.Deferred++
		return false, nil

	default:
		e.logger.Printf("push of %s/%s rejected by remote: %v",
			entry.Collection, entry.EntityID, err)
		return true, e.reject(ctx, entry, stats)
	}
}

// reject abandons an entry without further retries and flags the
// entity for manual resolution.
func (e *engine) reject(ctx context.Context, entry *journal.Entry, stats *Stats) error {
	if err := e.jr.Abandon(ctx, entry.JournalID); err != nil {
		return err
	}
	stats.Conflicts++
	return e.markEntityConflict(ctx, entry)
}

func (e *engine) markEntityConflict(ctx context.Context, entry *journal.Entry) error {
	err := e.db.SetSyncStatus(ctx, entry.Collection, entry.EntityID, model.StatusConflict)
	if errors.Is(err, model.ErrNotFound) {
		return nil // entity deleted since; nothing left to flag
	}
	return err
}

func (e *engine) Resolve(ctx context.Context, collection model.Collection, id string, choice Choice) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch choice {
	case ChoiceLocal:
		return e.resolveKeepLocal(ctx, collection, id)
	case ChoiceRemote:
		return e.resolveKeepRemote(ctx, collection, id)
	default:
		return fmt.Errorf("unknown resolution choice %q: %w", choice, model.ErrValidation)
	}
}

// resolveKeepLocal clears the conflict and queues the local state for
// push. Abandoned journal entries for the entity get a fresh retry
// budget; if none exist (the conflict came from a pull), a new update
// entry is appended from the current record.
func (e *engine) resolveKeepLocal(ctx context.Context, collection model.Collection, id string) error {
	rec, err := e.db.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if rec.SyncStatus != model.StatusConflict {
		return fmt.Errorf("%s %s is not in conflict: %w", collection, id, model.ErrNotFound)
	}

	if err := e.db.ClearConflict(ctx, collection, id); err != nil {
		return err
	}

	requeued, err := e.jr.Requeue(ctx, collection, id)
	if err != nil {
		return err
	}
	if requeued == 0 {
		pending, err := e.jr.HasPending(ctx, collection, id)
		if err != nil {
			return err
		}
		if !pending {
			snapshot, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to snapshot %s %s: %w", collection, id, err)
			}
			if _, err := e.jr.Append(ctx, &journal.Entry{
				Collection: collection,
				EntityID:   id,
				Op:         model.MutationUpdate,
				Payload:    snapshot,
			}); err != nil {
				return err
			}
		}
	}

	return e.db.SetSyncStatus(ctx, collection, id, model.StatusPendingPush)
}

// resolveKeepRemote applies the conflicting remote state and discards
// all pending local changes for the entity.
func (e *engine) resolveKeepRemote(ctx context.Context, collection model.Collection, id string) error {
	shadow, err := e.db.Conflict(ctx, collection, id)
	if err != nil {
		return err
	}

	if _, err := e.jr.DiscardEntity(ctx, collection, id); err != nil {
		return err
	}

	if shadow.RemoteDeleted {
		err := e.db.Delete(ctx, collection, id, store.DeleteOptions{FromRemote: true})
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		return nil // delete clears the shadow
	}

	rec, err := decodeSnapshot(shadow.RemotePayload)
	if err != nil {
		return err
	}
	if err := e.db.Put(ctx, rec, store.PutOptions{FromRemote: true}); err != nil {
		return err
	}
	return e.db.ClearConflict(ctx, collection, id)
}

// decodeChange turns a wire change into a record envelope, filling in
// identity from the change when the payload omits it.
func decodeChange(ch remote.Change) (*model.Record, error) {
	rec, err := decodeSnapshot(ch.Payload)
	if err != nil {
		return nil, err
	}
	if rec.Collection == "" {
		rec.Collection = ch.Collection
	}
	if rec.ID == "" {
		rec.ID = ch.EntityID
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = ch.UpdatedAt
	}
	return rec, nil
}

func decodeSnapshot(payload json.RawMessage) (*model.Record, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("change has no payload: %w", model.ErrValidation)
	}
	var rec model.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode change payload: %w", err)
	}
	return &rec, nil
}

// contested reports whether the two snapshots disagree on any field.
// Field sets come from the entity payloads, with position tracked as a
// pseudo-field; identical snapshots (an echo, or the same edit made on
// both devices) are not contested.
func contested(local, rem *model.Record) bool {
	if local.SortOrder != rem.SortOrder || local.ParentID != rem.ParentID {
		return true
	}
	var lf, rf map[string]any
	if err := json.Unmarshal(local.Payload, &lf); err != nil {
		return true
	}
	if err := json.Unmarshal(rem.Payload, &rf); err != nil {
		return true
	}
	for k, lv := range lf {
		if !reflect.DeepEqual(lv, rf[k]) {
			return true
		}
	}
	for k := range rf {
		if _, ok := lf[k]; !ok {
			return true
		}
	}
	return false
}
