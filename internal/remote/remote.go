// Package remote defines the wire contract between the local store and
// the hosted change log, plus the libSQL-backed implementation.
//
// The remote is modeled as an append-only log of changes. Devices push
// their own mutations and pull everyone's changes since a cursor; the
// cursor is an opaque string owned by the remote, and an empty cursor
// means "from the beginning". The remote never interprets payloads - it
// is a dumb, ordered mailbox.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/satchelhq/satchel/internal/model"
)

// Change is one entity mutation on the wire.
//
// For deletes the Payload is nil; for creates and updates it carries
// the full entity snapshot as produced by the local store, so applying
// a change never requires the receiver to have seen earlier versions.
type Change struct {
	Collection model.Collection `json:"collection"`
	EntityID   string           `json:"entity_id"`
	Op         model.Mutation   `json:"op"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
	DeviceID   string           `json:"device_id"`
}

// Client talks to the hosted change log.
//
// Implementations must make Push idempotent: re-pushing a change that
// the remote already has (same collection, entity, op, and updated_at)
// is a no-op, so a crash between a successful push and the local ack
// never duplicates data.
//
// Errors are classified through the model sentinels: failures worth
// retrying wrap model.ErrSyncTransient, definitive rejections wrap
// model.ErrSyncRejected.
type Client interface {
	// Push appends one change to the remote log.
	Push(ctx context.Context, ch Change) error

	// PullSince returns changes recorded after the cursor, oldest
	// first, along with the cursor to use for the next pull. Changes
	// originated by this device are filtered out. An empty result
	// with the same cursor means the device is caught up.
	PullSince(ctx context.Context, cursor string) ([]Change, string, error)

	// Close releases the underlying connection.
	Close() error
}

// TokenProvider supplies the credential attached to remote sessions.
// Implementations return model.ErrNoSession when the user has never
// authenticated or the stored credential is gone.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider backed by a fixed string, as loaded
// from configuration.
type StaticToken string

// Token returns the fixed token, or model.ErrNoSession if it is empty.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", model.ErrNoSession
	}
	return string(s), nil
}
