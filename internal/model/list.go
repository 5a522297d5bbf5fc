package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ListModel is a checklist (e.g. groceries) owned by one space.
//
// Checked/total item counts are intentionally absent from the persisted
// shape: they are derived by the aggregate index from live list items,
// never stored, so they cannot drift.
type ListModel struct {
	ID         string     `json:"id"`
	SpaceID    string     `json:"space_id"`
	Name       string     `json:"name"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the checklist has valid field values.
func (l *ListModel) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if l.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrValidation)
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: list name must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the checklist into its persistence envelope.
func (l *ListModel) Record() (*Record, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list %s: %w", l.ID, err)
	}
	return &Record{
		Collection: CollectionLists,
		ID:         l.ID,
		SpaceID:    l.SpaceID,
		SortOrder:  l.SortOrder,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
		SyncStatus: l.SyncStatus,
		Payload:    payload,
	}, nil
}

// ListFromRecord decodes a checklist from its persistence envelope.
func ListFromRecord(r *Record) (*ListModel, error) {
	if r.Collection != CollectionLists {
		return nil, fmt.Errorf("record %s is a %s, not a list", r.ID, r.Collection)
	}
	var l ListModel
	if err := json.Unmarshal(r.Payload, &l); err != nil {
		return nil, fmt.Errorf("failed to decode list %s: %w", r.ID, err)
	}
	l.ID = r.ID
	l.SpaceID = r.SpaceID
	l.SortOrder = r.SortOrder
	l.CreatedAt = r.CreatedAt
	l.UpdatedAt = r.UpdatedAt
	l.SyncStatus = r.SyncStatus
	return &l, nil
}

// ListItem is a single checkable entry inside a checklist.
type ListItem struct {
	ID         string     `json:"id"`
	SpaceID    string     `json:"space_id"`
	ListID     string     `json:"list_id"`
	Name       string     `json:"name"`
	IsChecked  bool       `json:"is_checked,omitempty"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the list item has valid field values.
func (i *ListItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if i.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrValidation)
	}
	if i.ListID == "" {
		return fmt.Errorf("%w: list_id is required", ErrValidation)
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: list item name must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the list item into its persistence envelope.
func (i *ListItem) Record() (*Record, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list item %s: %w", i.ID, err)
	}
	return &Record{
		Collection: CollectionListItems,
		ID:         i.ID,
		SpaceID:    i.SpaceID,
		ParentID:   i.ListID,
		SortOrder:  i.SortOrder,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
		SyncStatus: i.SyncStatus,
		Payload:    payload,
	}, nil
}

// ListItemFromRecord decodes a list item from its persistence envelope.
func ListItemFromRecord(r *Record) (*ListItem, error) {
	if r.Collection != CollectionListItems {
		return nil, fmt.Errorf("record %s is a %s, not a list item", r.ID, r.Collection)
	}
	var i ListItem
	if err := json.Unmarshal(r.Payload, &i); err != nil {
		return nil, fmt.Errorf("failed to decode list item %s: %w", r.ID, err)
	}
	i.ID = r.ID
	i.SpaceID = r.SpaceID
	i.ListID = r.ParentID
	i.SortOrder = r.SortOrder
	i.CreatedAt = r.CreatedAt
	i.UpdatedAt = r.UpdatedAt
	i.SyncStatus = r.SyncStatus
	return &i, nil
}
