// Package syncer reconciles the local store with the hosted change log.
//
// A sync cycle is pull-then-push: remote changes since the saved cursor
// are applied first (with conflict detection against locally pending
// edits), then the change journal is drained oldest-first until empty
// or the cycle budget runs out. Local writes are never blocked by a
// running cycle, and a cycle can be cancelled between any two remote
// calls without corrupting journal state: acked entries stay acked,
// un-acked stay pending.
//
// Architecture:
//   - Pull: PullSince(cursor) → apply each change with fromRemote=true;
//     a change touching an entity with pending local edits goes through
//     the conflict policy instead of overwriting.
//   - Push: PeekPending → Push → Ack (success), MarkFailed (transient),
//     Abandon (definitive rejection). Exhausted retries flag the entity
//     as a conflict.
//   - Conflict policy: last-write-wins when the timestamps are far
//     enough apart, unless both sides changed the same fields within
//     the skew window; then the entity is held in conflict for an
//     explicit keep-local / keep-remote decision.
package syncer

import (
	"context"
	"log"
	"time"

	"github.com/satchelhq/satchel/internal/model"
)

// Choice selects a side during manual conflict resolution.
type Choice string

const (
	// ChoiceLocal keeps the local state and re-journals it for push.
	ChoiceLocal Choice = "local"
	// ChoiceRemote discards local edits and applies the remote state.
	ChoiceRemote Choice = "remote"
)

// Stats summarizes one completed sync cycle.
type Stats struct {
	Pulled    int // remote changes applied locally
	Pushed    int // journal entries acked by the remote
	Conflicts int // entities newly flagged as conflicts
	Deferred  int // pushes deferred for retry (transient failures)
}

// CycleHook is invoked after every completed cycle with its stats.
// Hooks run on the sync goroutine and must not block.
type CycleHook func(Stats)

// Syncer drives synchronization between the local store and the remote.
//
// One cycle runs at a time; Trigger during an in-flight cycle coalesces
// into at most one follow-up cycle rather than starting a duplicate.
type Syncer interface {
	// SyncOnce runs a single pull-then-push cycle and returns its
	// stats. Safe to call concurrently with local mutations; cycles
	// are serialized internally.
	//
	// Example:
	//
	//	stats, err := eng.SyncOnce(ctx)
	//	if err != nil && model.IsRetryable(err) {
	//	    // network blip, next cycle will retry
	//	}
	SyncOnce(ctx context.Context) (Stats, error)

	// Run loops SyncOnce on the configured interval until ctx is
	// cancelled. Transient failures are logged and the loop
	// continues; Run returns only on cancellation.
	Run(ctx context.Context) error

	// Trigger requests an immediate cycle from a running Run loop.
	// Never blocks; triggers during a cycle coalesce.
	Trigger()

	// Resolve settles a conflicted entity. ChoiceLocal re-journals
	// the local state for push; ChoiceRemote applies the conflicting
	// remote state and discards pending local changes. Returns
	// model.ErrNotFound if no conflict is recorded for the entity.
	Resolve(ctx context.Context, collection model.Collection, id string, choice Choice) error
}

// Config tunes engine behavior. Zero values get defaults.
type Config struct {
	// Interval between automatic cycles in Run. Default 30s.
	Interval time.Duration

	// CallTimeout bounds each individual remote call, not the cycle.
	// A timed-out push is a transient failure. Default 10s.
	CallTimeout time.Duration

	// SkewWindow is the timestamp distance under which concurrent
	// edits to the same fields are conflicts instead of
	// last-write-wins. Default 5m.
	SkewWindow time.Duration

	// PushBudget caps journal entries pushed per cycle, so a huge
	// backlog cannot starve pulls. Default 500.
	PushBudget int

	// Hook, if set, observes completed cycles.
	Hook CycleHook

	// Logger receives cycle diagnostics. Defaults to stderr with a
	// "[syncer] " prefix.
	Logger *log.Logger
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		CallTimeout: 10 * time.Second,
		SkewWindow:  5 * time.Minute,
		PushBudget:  500,
	}
}
