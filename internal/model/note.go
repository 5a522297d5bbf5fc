package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Note is a free-form text note owned by exactly one space.
type Note struct {
	ID         string     `json:"id"`
	SpaceID    string     `json:"space_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body,omitempty"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the note has valid field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if n.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: note title must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the note into its persistence envelope.
func (n *Note) Record() (*Record, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note %s: %w", n.ID, err)
	}
	return &Record{
		Collection: CollectionNotes,
		ID:         n.ID,
		SpaceID:    n.SpaceID,
		SortOrder:  n.SortOrder,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		SyncStatus: n.SyncStatus,
		Payload:    payload,
	}, nil
}

// NoteFromRecord decodes a note from its persistence envelope.
func NoteFromRecord(r *Record) (*Note, error) {
	if r.Collection != CollectionNotes {
		return nil, fmt.Errorf("record %s is a %s, not a note", r.ID, r.Collection)
	}
	var n Note
	if err := json.Unmarshal(r.Payload, &n); err != nil {
		return nil, fmt.Errorf("failed to decode note %s: %w", r.ID, err)
	}
	n.ID = r.ID
	n.SpaceID = r.SpaceID
	n.SortOrder = r.SortOrder
	n.CreatedAt = r.CreatedAt
	n.UpdatedAt = r.UpdatedAt
	n.SyncStatus = r.SyncStatus
	return &n, nil
}
