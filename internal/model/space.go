package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Space is a user-defined context partitioning content (e.g. "Work").
//
// Spaces are archived (soft-hidden) rather than hard-deleted by default.
// Hard deletion requires explicit confirmation and cascades to all owned
// content entities. The currently active space can never be deleted.
type Space struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	IsArchived bool       `json:"is_archived,omitempty"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the space has valid field values.
func (s *Space) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: space name must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the space into its persistence envelope.
func (s *Space) Record() (*Record, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal space %s: %w", s.ID, err)
	}
	return &Record{
		Collection: CollectionSpaces,
		ID:         s.ID,
		SortOrder:  s.SortOrder,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		SyncStatus: s.SyncStatus,
		Payload:    payload,
	}, nil
}

// SpaceFromRecord decodes a space from its persistence envelope.
// Envelope fields override whatever the payload claims.
func SpaceFromRecord(r *Record) (*Space, error) {
	if r.Collection != CollectionSpaces {
		return nil, fmt.Errorf("record %s is a %s, not a space", r.ID, r.Collection)
	}
	var s Space
	if err := json.Unmarshal(r.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode space %s: %w", r.ID, err)
	}
	s.ID = r.ID
	s.SortOrder = r.SortOrder
	s.CreatedAt = r.CreatedAt
	s.UpdatedAt = r.UpdatedAt
	s.SyncStatus = r.SyncStatus
	return &s, nil
}
