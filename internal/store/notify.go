package store

import (
	"sync"

	"github.com/satchelhq/satchel/internal/model"
)

// EventOp represents the kind of committed mutation.
type EventOp int

const (
	// OpCreate indicates a new entity was written.
	OpCreate EventOp = iota
	// OpUpdate indicates an existing entity was rewritten.
	OpUpdate
	// OpDelete indicates an entity was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event describes one committed write, published after the transaction
// commits. Presentation layers and the aggregate index subscribe to
// refresh derived state.
type Event struct {
	// Collection is the entity's collection.
	Collection model.Collection
	// ID is the entity id.
	ID string
	// SpaceID is the owning space, empty for spaces themselves.
	SpaceID string
	// ParentID is the owning list for item collections, empty otherwise.
	ParentID string
	// Op is the committed operation.
	Op EventOp
	// FromRemote is true when the write originated from a remote pull.
	FromRemote bool
}

// notifier fans committed-write events out to subscribers.
//
// Publishing never blocks a writer: events to a subscriber whose buffer
// is full are dropped. Subscribers that need exactness must re-read the
// store, which is always authoritative.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener for committed writes.
//
// buffer is the channel capacity; 0 uses a sensible default. The
// returned cancel function removes the subscription and closes the
// channel. Always call it to avoid leaks.
func (db *DB) Subscribe(buffer int) (<-chan Event, func()) {
	return db.notifier.subscribe(buffer)
}

func (n *notifier) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	ch := make(chan Event, buffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers ev to all subscribers without blocking.
func (n *notifier) publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is lagging; drop rather than block the writer.
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
