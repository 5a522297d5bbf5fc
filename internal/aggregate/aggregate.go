// Package aggregate computes derived counts over the local store.
//
// Counts are always derived from the live collections - never from a
// stored counter field - so they can never drift from reality even after
// partial failures elsewhere. A small materialized cache keyed by scope
// id avoids rescanning hot spaces and lists; entries are validated
// against the store's write sequence, so any committed write instantly
// invalidates them and a stale count is never served.
package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
)

// Progress is a checklist's derived completion state.
// Checked never exceeds Total.
type Progress struct {
	Checked int
	Total   int
}

// Index answers count queries against the local store.
//
// Reads never block on network I/O; everything is served from the
// embedded database or the in-memory cache.
type Index struct {
	db *store.DB

	mu         sync.Mutex
	spaceCache map[string]cached[int]
	listCache  map[string]cached[Progress]
}

type cached[T any] struct {
	value T
	seq   int64
}

// New creates an Index over the store.
func New(db *store.DB) *Index {
	return &Index{
		db:         db,
		spaceCache: make(map[string]cached[int]),
		listCache:  make(map[string]cached[Progress]),
	}
}

// CountItemsInSpace returns the number of content entities owned by the
// space, across all content collections. Unknown space ids are
// vacuously empty: the result is 0, never an error.
func (ix *Index) CountItemsInSpace(ctx context.Context, spaceID string) (int, error) {
	seq := ix.db.WriteSeq()

	ix.mu.Lock()
	if c, ok := ix.spaceCache[spaceID]; ok && c.seq == seq {
		ix.mu.Unlock()
		return c.value, nil
	}
	ix.mu.Unlock()

	n, err := ix.db.CountSpaceContent(ctx, spaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in space %s: %w", spaceID, err)
	}

	ix.store(seq, func() {
		ix.spaceCache[spaceID] = cached[int]{value: n, seq: seq}
	})
	return n, nil
}

// CountListProgress returns (checked, total) for a checklist, derived
// by scanning its live items. Unknown list ids yield (0, 0), never an
// error. Runs in time proportional to the list's item count.
func (ix *Index) CountListProgress(ctx context.Context, listID string) (Progress, error) {
	seq := ix.db.WriteSeq()

	ix.mu.Lock()
	if c, ok := ix.listCache[listID]; ok && c.seq == seq {
		ix.mu.Unlock()
		return c.value, nil
	}
	ix.mu.Unlock()

	recs, err := ix.db.Query(ctx, model.CollectionListItems, store.Filter{ParentID: listID})
	if err != nil {
		return Progress{}, fmt.Errorf("failed to scan items of list %s: %w", listID, err)
	}

	var p Progress
	for _, rec := range recs {
		item, err := model.ListItemFromRecord(rec)
		if err != nil {
			return Progress{}, fmt.Errorf("failed to decode item of list %s: %w", listID, err)
		}
		p.Total++
		if item.IsChecked {
			p.Checked++
		}
	}

	ix.store(seq, func() {
		ix.listCache[listID] = cached[Progress]{value: p, seq: seq}
	})
	return p, nil
}

// store caches a computed value, unless a write landed while it was
// being computed (the value may already be stale).
func (ix *Index) store(seq int64, put func()) {
	if ix.db.WriteSeq() != seq {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	put()
}
