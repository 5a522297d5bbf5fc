package aggregate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/satchelhq/satchel/internal/aggregate"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satchel.db")
	db, err := store.Open(path, store.DefaultOptions())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func putRecord(t *testing.T, db *store.DB) func(*model.Record, error) {
	return func(rec *model.Record, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
		if err := db.Put(context.Background(), rec, store.PutOptions{}); err != nil {
			t.Fatalf("Put(%s %s) failed: %v", rec.Collection, rec.ID, err)
		}
	}
}

// The space count tracks the store through every write: adds, deletes
// and repeat queries always match a direct recount.
func TestCountItemsInSpace(t *testing.T) {
	db := openTestStore(t)
	ix := aggregate.New(db)
	ctx := context.Background()
	put := putRecord(t, db)

	put((&model.Space{ID: "sp-1", Name: "Work"}).Record())

	n, err := ix.CountItemsInSpace(ctx, "sp-1")
	if err != nil {
		t.Fatalf("CountItemsInSpace() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("empty space count = %d, want 0", n)
	}

	put((&model.Note{ID: "n-1", SpaceID: "sp-1", Title: "a"}).Record())
	put((&model.TodoList{ID: "tl-1", SpaceID: "sp-1", Name: "Chores"}).Record())
	put((&model.TodoItem{ID: "t-1", SpaceID: "sp-1", ListID: "tl-1", Title: "mop"}).Record())

	for i := 0; i < 2; i++ { // second read exercises the cache
		n, err = ix.CountItemsInSpace(ctx, "sp-1")
		if err != nil {
			t.Fatalf("CountItemsInSpace() failed: %v", err)
		}
		want, err := db.CountSpaceContent(ctx, "sp-1")
		if err != nil {
			t.Fatalf("CountSpaceContent() failed: %v", err)
		}
		if n != want {
			t.Errorf("read %d: count = %d, want %d", i, n, want)
		}
	}

	if err := db.Delete(ctx, model.CollectionNotes, "n-1", store.DeleteOptions{}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	n, err = ix.CountItemsInSpace(ctx, "sp-1")
	if err != nil {
		t.Fatalf("CountItemsInSpace() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("count after delete = %d, want 2", n)
	}
}

func TestCountItemsInSpaceUnknown(t *testing.T) {
	db := openTestStore(t)
	ix := aggregate.New(db)

	n, err := ix.CountItemsInSpace(context.Background(), "no-such-space")
	if err != nil {
		t.Fatalf("CountItemsInSpace(unknown) failed: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d for unknown space, want 0", n)
	}
}

// Checking and unchecking items recomputes the derived progress; there
// is no stored counter to drift.
func TestCountListProgress(t *testing.T) {
	db := openTestStore(t)
	ix := aggregate.New(db)
	ctx := context.Background()
	put := putRecord(t, db)

	put((&model.Space{ID: "sp-1", Name: "Home"}).Record())
	put((&model.ListModel{ID: "l-1", SpaceID: "sp-1", Name: "Groceries"}).Record())
	put((&model.ListItem{ID: "i-1", SpaceID: "sp-1", ListID: "l-1", Name: "milk"}).Record())
	put((&model.ListItem{ID: "i-2", SpaceID: "sp-1", ListID: "l-1", Name: "eggs", IsChecked: true}).Record())
	put((&model.ListItem{ID: "i-3", SpaceID: "sp-1", ListID: "l-1", Name: "bread"}).Record())

	p, err := ix.CountListProgress(ctx, "l-1")
	if err != nil {
		t.Fatalf("CountListProgress() failed: %v", err)
	}
	if p.Checked != 1 || p.Total != 3 {
		t.Errorf("progress = %d/%d, want 1/3", p.Checked, p.Total)
	}

	put((&model.ListItem{ID: "i-1", SpaceID: "sp-1", ListID: "l-1", Name: "milk", IsChecked: true}).Record())
	p, err = ix.CountListProgress(ctx, "l-1")
	if err != nil {
		t.Fatalf("CountListProgress() failed: %v", err)
	}
	if p.Checked != 2 || p.Total != 3 {
		t.Errorf("progress after check = %d/%d, want 2/3", p.Checked, p.Total)
	}

	put((&model.ListItem{ID: "i-2", SpaceID: "sp-1", ListID: "l-1", Name: "eggs"}).Record())
	p, err = ix.CountListProgress(ctx, "l-1")
	if err != nil {
		t.Fatalf("CountListProgress() failed: %v", err)
	}
	if p.Checked != 1 || p.Total != 3 {
		t.Errorf("progress after uncheck = %d/%d, want 1/3", p.Checked, p.Total)
	}
}

func TestCountListProgressUnknown(t *testing.T) {
	db := openTestStore(t)
	ix := aggregate.New(db)

	p, err := ix.CountListProgress(context.Background(), "no-such-list")
	if err != nil {
		t.Fatalf("CountListProgress(unknown) failed: %v", err)
	}
	if p.Checked != 0 || p.Total != 0 {
		t.Errorf("progress = %d/%d for unknown list, want 0/0", p.Checked, p.Total)
	}
}
