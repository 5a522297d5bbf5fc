// Package model defines the persisted entity types for the satchel core.
//
// Every domain object (space, note, todo list, todo item, checklist,
// checklist item) is stored as a Record: a small envelope of indexed
// fields plus the full entity encoded as a JSON payload. The payload
// round-trips identically through local persistence and through the
// remote store, so the envelope columns are the authoritative copy of
// the shared fields and are re-applied on decode.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection identifies a typed collection of entities in the local store.
type Collection string

const (
	// CollectionSpaces holds Space records.
	CollectionSpaces Collection = "spaces"
	// CollectionNotes holds Note records.
	CollectionNotes Collection = "notes"
	// CollectionTodoLists holds TodoList records.
	CollectionTodoLists Collection = "todo_lists"
	// CollectionTodoItems holds TodoItem records.
	CollectionTodoItems Collection = "todo_items"
	// CollectionLists holds ListModel (checklist) records.
	CollectionLists Collection = "lists"
	// CollectionListItems holds ListItem records.
	CollectionListItems Collection = "list_items"
)

// Collections returns all known collections in dependency order
// (parents before children).
func Collections() []Collection {
	return []Collection{
		CollectionSpaces,
		CollectionNotes,
		CollectionTodoLists,
		CollectionTodoItems,
		CollectionLists,
		CollectionListItems,
	}
}

// ContentCollections returns the collections owned by a space,
// i.e. everything except spaces themselves.
func ContentCollections() []Collection {
	return []Collection{
		CollectionNotes,
		CollectionTodoLists,
		CollectionTodoItems,
		CollectionLists,
		CollectionListItems,
	}
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionSpaces, CollectionNotes, CollectionTodoLists,
		CollectionTodoItems, CollectionLists, CollectionListItems:
		return true
	}
	return false
}

// SyncStatus tracks an entity's position in the sync state machine.
//
// The lifecycle is: local_only -> pending_push -> synced, with
// synced -> pending_push on local edit, and any state -> conflict
// after exhausted retries or a detected concurrent remote edit.
type SyncStatus string

const (
	// StatusLocalOnly means the entity has never been pushed.
	StatusLocalOnly SyncStatus = "local_only"
	// StatusPendingPush means a local mutation awaits remote confirmation.
	StatusPendingPush SyncStatus = "pending_push"
	// StatusSynced means local and remote copies agree.
	StatusSynced SyncStatus = "synced"
	// StatusConflict means local and remote diverged and explicit
	// resolution is required. Terminal until resolved.
	StatusConflict SyncStatus = "conflict"
)

// Record is the persistence envelope for one entity.
//
// The envelope fields are stored in indexed columns; Payload carries the
// typed entity JSON. On read, envelope values override whatever the
// payload claims, which guarantees the two can never drift apart.
type Record struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	SpaceID    string          `json:"space_id,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	SortOrder  int             `json:"sort_order"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	SyncStatus SyncStatus      `json:"sync_status"`
	Payload    json.RawMessage `json:"payload"`
}

// Validate checks the envelope invariants shared by all collections.
func (r *Record) Validate() error {
	if !r.Collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", ErrValidation, r.Collection)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if r.Collection != CollectionSpaces && r.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required for %s", ErrValidation, r.Collection)
	}
	switch r.Collection {
	case CollectionTodoItems, CollectionListItems:
		if r.ParentID == "" {
			return fmt.Errorf("%w: parent_id is required for %s", ErrValidation, r.Collection)
		}
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	return nil
}

// Mutation identifies the kind of local change captured in a journal entry.
type Mutation string

const (
	// MutationCreate records a new entity.
	MutationCreate Mutation = "create"
	// MutationUpdate records a change to an existing entity.
	MutationUpdate Mutation = "update"
	// MutationDelete records an entity removal.
	MutationDelete Mutation = "delete"
)

// Valid reports whether m is a known mutation kind.
func (m Mutation) Valid() bool {
	switch m {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}
