package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TodoList is an ordered collection of todo items owned by one space.
type TodoList struct {
	ID         string     `json:"id"`
	SpaceID    string     `json:"space_id"`
	Name       string     `json:"name"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the todo list has valid field values.
func (l *TodoList) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if l.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrValidation)
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: todo list name must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the todo list into its persistence envelope.
func (l *TodoList) Record() (*Record, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal todo list %s: %w", l.ID, err)
	}
	return &Record{
		Collection: CollectionTodoLists,
		ID:         l.ID,
		SpaceID:    l.SpaceID,
		SortOrder:  l.SortOrder,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
		SyncStatus: l.SyncStatus,
		Payload:    payload,
	}, nil
}

// TodoListFromRecord decodes a todo list from its persistence envelope.
func TodoListFromRecord(r *Record) (*TodoList, error) {
	if r.Collection != CollectionTodoLists {
		return nil, fmt.Errorf("record %s is a %s, not a todo list", r.ID, r.Collection)
	}
	var l TodoList
	if err := json.Unmarshal(r.Payload, &l); err != nil {
		return nil, fmt.Errorf("failed to decode todo list %s: %w", r.ID, err)
	}
	l.ID = r.ID
	l.SpaceID = r.SpaceID
	l.SortOrder = r.SortOrder
	l.CreatedAt = r.CreatedAt
	l.UpdatedAt = r.UpdatedAt
	l.SyncStatus = r.SyncStatus
	return &l, nil
}

// TodoItem is a single task inside a todo list.
//
// DueAt is optional; the CLI accepts natural-language schedules
// ("tomorrow 5pm") and stores the resolved timestamp.
type TodoItem struct {
	ID         string     `json:"id"`
	SpaceID    string     `json:"space_id"`
	ListID     string     `json:"list_id"`
	Title      string     `json:"title"`
	IsDone     bool       `json:"is_done,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	SortOrder  int        `json:"sort_order"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Validate checks that the todo item has valid field values.
func (t *TodoItem) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if t.SpaceID == "" {
		return fmt.Errorf("%w: space_id is required", ErrValidation)
	}
	if t.ListID == "" {
		return fmt.Errorf("%w: list_id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: todo title must not be blank", ErrValidation)
	}
	return nil
}

// Record converts the todo item into its persistence envelope.
func (t *TodoItem) Record() (*Record, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal todo item %s: %w", t.ID, err)
	}
	return &Record{
		Collection: CollectionTodoItems,
		ID:         t.ID,
		SpaceID:    t.SpaceID,
		ParentID:   t.ListID,
		SortOrder:  t.SortOrder,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		SyncStatus: t.SyncStatus,
		Payload:    payload,
	}, nil
}

// TodoItemFromRecord decodes a todo item from its persistence envelope.
func TodoItemFromRecord(r *Record) (*TodoItem, error) {
	if r.Collection != CollectionTodoItems {
		return nil, fmt.Errorf("record %s is a %s, not a todo item", r.ID, r.Collection)
	}
	var t TodoItem
	if err := json.Unmarshal(r.Payload, &t); err != nil {
		return nil, fmt.Errorf("failed to decode todo item %s: %w", r.ID, err)
	}
	t.ID = r.ID
	t.SpaceID = r.SpaceID
	t.ListID = r.ParentID
	t.SortOrder = r.SortOrder
	t.CreatedAt = r.CreatedAt
	t.UpdatedAt = r.UpdatedAt
	t.SyncStatus = r.SyncStatus
	return &t, nil
}
