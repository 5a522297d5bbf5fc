package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/journal"
	"github.com/satchelhq/satchel/internal/model"
)

// openTestDB creates an initialized store in a temp directory.
func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satchel.db")
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func putSpace(t *testing.T, db *DB, id, name string) *model.Record {
	t.Helper()
	rec, err := (&model.Space{ID: id, Name: name}).Record()
	if err != nil {
		t.Fatalf("space Record() failed: %v", err)
	}
	if err := db.Put(context.Background(), rec, PutOptions{}); err != nil {
		t.Fatalf("Put(space %s) failed: %v", id, err)
	}
	return rec
}

func putNote(t *testing.T, db *DB, id, spaceID, title string) *model.Record {
	t.Helper()
	rec, err := (&model.Note{ID: id, SpaceID: spaceID, Title: title}).Record()
	if err != nil {
		t.Fatalf("note Record() failed: %v", err)
	}
	if err := db.Put(context.Background(), rec, PutOptions{}); err != nil {
		t.Fatalf("Put(note %s) failed: %v", id, err)
	}
	return rec
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	putNote(t, db, "n-1", "sp-1", "Meeting notes")

	rec, err := db.Get(ctx, model.CollectionNotes, "n-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	note, err := model.NoteFromRecord(rec)
	if err != nil {
		t.Fatalf("NoteFromRecord() failed: %v", err)
	}
	if note.Title != "Meeting notes" {
		t.Errorf("Title = %q, want %q", note.Title, "Meeting notes")
	}
	if rec.SpaceID != "sp-1" {
		t.Errorf("SpaceID = %q, want %q", rec.SpaceID, "sp-1")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on create")
	}
}

func TestGetNotFound(t *testing.T) {
	db := openTestDB(t, DefaultOptions())

	_, err := db.Get(context.Background(), model.CollectionNotes, "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	db := openTestDB(t, DefaultOptions())

	err := db.Put(context.Background(), &model.Record{Collection: model.CollectionNotes, ID: "n-1"}, PutOptions{})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Put(invalid) = %v, want ErrValidation", err)
	}
}

// New records append at the end of their scope with dense sort orders;
// scopes are independent of each other.
func TestPutAssignsDenseSortOrder(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	putSpace(t, db, "sp-2", "Home")
	putNote(t, db, "n-1", "sp-1", "first")
	putNote(t, db, "n-2", "sp-1", "second")
	putNote(t, db, "n-3", "sp-2", "other space")

	recs, err := db.Query(ctx, model.CollectionNotes, Filter{SpaceID: "sp-1"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	for i, rec := range recs {
		if rec.SortOrder != i {
			t.Errorf("recs[%d].SortOrder = %d, want %d", i, rec.SortOrder, i)
		}
	}

	other, err := db.Get(ctx, model.CollectionNotes, "n-3")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if other.SortOrder != 0 {
		t.Errorf("other-space note SortOrder = %d, want 0", other.SortOrder)
	}
}

// updated_at moves strictly forward per entity even when the wall clock
// does not.
func TestPutUpdatedAtMonotone(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts := DefaultOptions()
	opts.Now = func() time.Time { return frozen }
	db := openTestDB(t, opts)
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	first := putNote(t, db, "n-1", "sp-1", "v1")

	updated, err := (&model.Note{ID: "n-1", SpaceID: "sp-1", Title: "v2"}).Record()
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := db.Put(ctx, updated, PutOptions{}); err != nil {
		t.Fatalf("Put(update) failed: %v", err)
	}

	got, err := db.Get(ctx, model.CollectionNotes, "n-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, first.UpdatedAt)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v != %v", got.CreatedAt, first.CreatedAt)
	}
}

func TestPutSyncStatus(t *testing.T) {
	t.Run("sync disabled", func(t *testing.T) {
		db := openTestDB(t, Options{})
		putSpace(t, db, "sp-1", "Work")

		rec, err := db.Get(context.Background(), model.CollectionSpaces, "sp-1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec.SyncStatus != model.StatusLocalOnly {
			t.Errorf("SyncStatus = %q, want %q", rec.SyncStatus, model.StatusLocalOnly)
		}
	})

	t.Run("sync enabled", func(t *testing.T) {
		db := openTestDB(t, Options{SyncEnabled: true})
		putSpace(t, db, "sp-1", "Work")

		rec, err := db.Get(context.Background(), model.CollectionSpaces, "sp-1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec.SyncStatus != model.StatusPendingPush {
			t.Errorf("SyncStatus = %q, want %q", rec.SyncStatus, model.StatusPendingPush)
		}

		jr := journal.New(db.RawDB(), journal.DefaultConfig())
		n, err := jr.PendingCount(context.Background())
		if err != nil {
			t.Fatalf("PendingCount() failed: %v", err)
		}
		if n != 1 {
			t.Errorf("PendingCount() = %d, want 1", n)
		}
	})
}

// Remote writes keep their timestamps, land as synced and are not
// journaled, so a pull can never trigger a re-push.
func TestPutFromRemote(t *testing.T) {
	db := openTestDB(t, Options{SyncEnabled: true})
	ctx := context.Background()

	remoteTime := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	rec, err := (&model.Space{ID: "sp-1", Name: "Work"}).Record()
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	rec.UpdatedAt = remoteTime
	if err := db.Put(ctx, rec, PutOptions{FromRemote: true}); err != nil {
		t.Fatalf("Put(fromRemote) failed: %v", err)
	}

	got, err := db.Get(ctx, model.CollectionSpaces, "sp-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.UpdatedAt.Equal(remoteTime) {
		t.Errorf("UpdatedAt = %v, want remote %v", got.UpdatedAt, remoteTime)
	}
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, model.StatusSynced)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(remoteTime) {
		t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, remoteTime)
	}

	jr := journal.New(db.RawDB(), journal.DefaultConfig())
	n, err := jr.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("PendingCount() = %d, want 0 (remote writes are not journaled)", n)
	}
}

func TestDeleteNotFound(t *testing.T) {
	db := openTestDB(t, DefaultOptions())

	err := db.Delete(context.Background(), model.CollectionNotes, "missing", DeleteOptions{})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteSpacesRequiresDeleteSpace(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	putSpace(t, db, "sp-1", "Work")

	if err := db.Delete(context.Background(), model.CollectionSpaces, "sp-1", DeleteOptions{}); err == nil {
		t.Error("Delete(spaces) succeeded, want error")
	}
}

// Deleting from the middle of a scope closes the gap: survivors keep
// their relative order with dense 0..n-1 positions.
func TestDeleteCompactsScope(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	putNote(t, db, "n-1", "sp-1", "first")
	putNote(t, db, "n-2", "sp-1", "second")
	putNote(t, db, "n-3", "sp-1", "third")

	if err := db.Delete(ctx, model.CollectionNotes, "n-2", DeleteOptions{}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	recs, err := db.Query(ctx, model.CollectionNotes, Filter{SpaceID: "sp-1"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	wantIDs := []string{"n-1", "n-3"}
	for i, rec := range recs {
		if rec.ID != wantIDs[i] {
			t.Errorf("recs[%d].ID = %q, want %q", i, rec.ID, wantIDs[i])
		}
		if rec.SortOrder != i {
			t.Errorf("recs[%d].SortOrder = %d, want %d", i, rec.SortOrder, i)
		}
	}
}

// Deleting a list takes its items with it, in child-before-container
// journal order, and leaves sibling lists untouched.
func TestDeleteListCascadesItems(t *testing.T) {
	db := openTestDB(t, Options{SyncEnabled: true})
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	put := func(rec *model.Record, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
		if err := db.Put(ctx, rec, PutOptions{}); err != nil {
			t.Fatalf("Put(%s %s) failed: %v", rec.Collection, rec.ID, err)
		}
	}
	put((&model.TodoList{ID: "tl-doomed", SpaceID: "sp-1", Name: "Chores"}).Record())
	put((&model.TodoItem{ID: "t-1", SpaceID: "sp-1", ListID: "tl-doomed", Title: "mop"}).Record())
	put((&model.TodoItem{ID: "t-2", SpaceID: "sp-1", ListID: "tl-doomed", Title: "dust"}).Record())
	put((&model.TodoList{ID: "tl-keep", SpaceID: "sp-1", Name: "Errands"}).Record())
	put((&model.TodoItem{ID: "t-keep", SpaceID: "sp-1", ListID: "tl-keep", Title: "mail"}).Record())

	if err := db.Delete(ctx, model.CollectionTodoLists, "tl-doomed", DeleteOptions{}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	for _, id := range []string{"t-1", "t-2"} {
		if _, err := db.Get(ctx, model.CollectionTodoItems, id); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("item %s survived the cascade: %v", id, err)
		}
	}
	if _, err := db.Get(ctx, model.CollectionTodoItems, "t-keep"); err != nil {
		t.Errorf("sibling list's item deleted: %v", err)
	}

	// The cascade journals a delete per item before the list's own.
	jr := journal.New(db.RawDB(), journal.DefaultConfig())
	entries, err := jr.PeekPending(ctx, 100)
	if err != nil {
		t.Fatalf("PeekPending() failed: %v", err)
	}
	deleted := make(map[string]int)
	for i, e := range entries {
		if e.Op == model.MutationDelete {
			deleted[e.EntityID] = i
		}
	}
	for _, id := range []string{"t-1", "t-2", "tl-doomed"} {
		if _, ok := deleted[id]; !ok {
			t.Errorf("no journaled delete for %s", id)
		}
	}
	if deleted["tl-doomed"] < deleted["t-1"] || deleted["tl-doomed"] < deleted["t-2"] {
		t.Error("list delete journaled before its items' deletes")
	}
}

// Checklist deletion cascades the same way as todo lists.
func TestDeleteChecklistCascadesItems(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	listRec, err := (&model.ListModel{ID: "l-1", SpaceID: "sp-1", Name: "Packing"}).Record()
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := db.Put(ctx, listRec, PutOptions{}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	itemRec, err := (&model.ListItem{ID: "li-1", SpaceID: "sp-1", ListID: "l-1", Name: "socks"}).Record()
	if err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := db.Put(ctx, itemRec, PutOptions{}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := db.Delete(ctx, model.CollectionLists, "l-1", DeleteOptions{}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := db.Get(ctx, model.CollectionListItems, "li-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("checklist item survived the cascade: %v", err)
	}
}

func TestQueryParentFilter(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	for _, tl := range []string{"tl-1", "tl-2"} {
		rec, err := (&model.TodoList{ID: tl, SpaceID: "sp-1", Name: tl}).Record()
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
		if err := db.Put(ctx, rec, PutOptions{}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	items := []struct{ id, list string }{
		{"t-1", "tl-1"}, {"t-2", "tl-1"}, {"t-3", "tl-2"},
	}
	for _, it := range items {
		rec, err := (&model.TodoItem{ID: it.id, SpaceID: "sp-1", ListID: it.list, Title: it.id}).Record()
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
		if err := db.Put(ctx, rec, PutOptions{}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	recs, err := db.Query(ctx, model.CollectionTodoItems, Filter{ParentID: "tl-1"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len(recs) = %d, want 2", len(recs))
	}

	n, err := db.Count(ctx, model.CollectionTodoItems, Filter{ParentID: "tl-2"})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestReorder(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	putNote(t, db, "n-1", "sp-1", "a")
	putNote(t, db, "n-2", "sp-1", "b")
	putNote(t, db, "n-3", "sp-1", "c")

	scope := Filter{SpaceID: "sp-1"}
	if err := db.Reorder(ctx, model.CollectionNotes, scope, []string{"n-3", "n-1", "n-2"}); err != nil {
		t.Fatalf("Reorder() failed: %v", err)
	}

	recs, err := db.Query(ctx, model.CollectionNotes, scope)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	wantIDs := []string{"n-3", "n-1", "n-2"}
	for i, rec := range recs {
		if rec.ID != wantIDs[i] {
			t.Errorf("recs[%d].ID = %q, want %q", i, rec.ID, wantIDs[i])
		}
		if rec.SortOrder != i {
			t.Errorf("recs[%d].SortOrder = %d, want %d", i, rec.SortOrder, i)
		}
	}
}

func TestReorderValidation(t *testing.T) {
	db := openTestDB(t, DefaultOptions())
	ctx := context.Background()

	putSpace(t, db, "sp-1", "Work")
	putNote(t, db, "n-1", "sp-1", "a")
	putNote(t, db, "n-2", "sp-1", "b")

	scope := Filter{SpaceID: "sp-1"}
	tests := []struct {
		name string
		ids  []string
	}{
		{"too few ids", []string{"n-1"}},
		{"unknown id", []string{"n-1", "n-9"}},
		{"duplicate id", []string{"n-1", "n-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Reorder(ctx, model.CollectionNotes, scope, tt.ids)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("Reorder(%v) = %v, want ErrValidation", tt.ids, err)
			}
		})
	}
}

func TestSubscribeReceivesWriteEvents(t *testing.T) {
	db := openTestDB(t, DefaultOptions())

	events, cancel := db.Subscribe(8)
	defer cancel()

	putSpace(t, db, "sp-1", "Work")
	putNote(t, db, "n-1", "sp-1", "hello")

	want := []struct {
		coll model.Collection
		id   string
		op   EventOp
	}{
		{model.CollectionSpaces, "sp-1", OpCreate},
		{model.CollectionNotes, "n-1", OpCreate},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.Collection != w.coll || ev.ID != w.id || ev.Op != w.op {
				t.Errorf("event[%d] = %+v, want {%s %s %s}", i, ev, w.coll, w.id, w.op)
			}
			if ev.FromRemote {
				t.Errorf("event[%d].FromRemote = true, want false", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	if err := db.Delete(context.Background(), model.CollectionNotes, "n-1", DeleteOptions{}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Op != OpDelete || ev.ID != "n-1" {
			t.Errorf("delete event = %+v, want {notes n-1 delete}", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

func TestWriteSeqAdvancesOnWrite(t *testing.T) {
	db := openTestDB(t, DefaultOptions())

	before := db.WriteSeq()
	putSpace(t, db, "sp-1", "Work")
	if got := db.WriteSeq(); got <= before {
		t.Errorf("WriteSeq() = %d after write, want > %d", got, before)
	}
}
