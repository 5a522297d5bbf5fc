package export_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/satchelhq/satchel/internal/export"
	"github.com/satchelhq/satchel/internal/journal"
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

func seedStore(t *testing.T, db *store.DB) {
	t.Helper()
	put := func(rec *model.Record, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
		if err := db.Put(context.Background(), rec, store.PutOptions{}); err != nil {
			t.Fatalf("Put(%s %s) failed: %v", rec.Collection, rec.ID, err)
		}
	}
	put((&model.Space{ID: "sp-1", Name: "Work"}).Record())
	put((&model.Note{ID: "n-1", SpaceID: "sp-1", Title: "Standup", Body: "notes"}).Record())
	put((&model.TodoList{ID: "tl-1", SpaceID: "sp-1", Name: "Today"}).Record())
	put((&model.TodoItem{ID: "t-1", SpaceID: "sp-1", ListID: "tl-1", Title: "review"}).Record())
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, format := range []export.Format{export.FormatJSON, export.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			src := openTestStore(t)
			seedStore(t, src)
			dir := t.TempDir()
			ctx := context.Background()

			result, err := export.Export(ctx, src, export.Options{Dir: dir, Format: format})
			if err != nil {
				t.Fatalf("Export() failed: %v", err)
			}
			if result.Entities != 4 {
				t.Errorf("Entities = %d, want 4", result.Entities)
			}
			if len(result.Errors) != 0 {
				t.Errorf("Errors = %v, want none", result.Errors)
			}
			// 4 entity files + manifest.
			if result.FilesWritten != 5 {
				t.Errorf("FilesWritten = %d, want 5", result.FilesWritten)
			}

			manifest, err := export.ReadManifest(dir)
			if err != nil {
				t.Fatalf("ReadManifest() failed: %v", err)
			}
			if manifest.Counts["notes"] != 1 || manifest.Counts["spaces"] != 1 {
				t.Errorf("manifest counts = %v", manifest.Counts)
			}

			dst := openTestStore(t)
			got, err := export.Import(ctx, dst, export.Options{Dir: dir})
			if err != nil {
				t.Fatalf("Import() failed: %v", err)
			}
			if got.Entities != 4 || len(got.Errors) != 0 {
				t.Fatalf("Import() = %+v, want 4 entities and no errors", got)
			}

			rec, err := dst.Get(ctx, model.CollectionNotes, "n-1")
			if err != nil {
				t.Fatalf("Get() after import failed: %v", err)
			}
			note, err := model.NoteFromRecord(rec)
			if err != nil {
				t.Fatalf("NoteFromRecord() failed: %v", err)
			}
			if note.Title != "Standup" || note.Body != "notes" {
				t.Errorf("imported note = %+v", note)
			}

			item, err := dst.Get(ctx, model.CollectionTodoItems, "t-1")
			if err != nil {
				t.Fatalf("Get(todo item) failed: %v", err)
			}
			if item.ParentID != "tl-1" {
				t.Errorf("imported item ParentID = %q, want tl-1", item.ParentID)
			}
		})
	}
}

func TestExportDryRunWritesNothing(t *testing.T) {
	db := openTestStore(t)
	seedStore(t, db)
	dir := filepath.Join(t.TempDir(), "snapshot")

	result, err := export.Export(context.Background(), db, export.Options{Dir: dir, DryRun: true})
	if err != nil {
		t.Fatalf("Export(dry run) failed: %v", err)
	}
	if result.Entities != 4 {
		t.Errorf("Entities = %d, want 4", result.Entities)
	}
	if result.FilesWritten != 0 {
		t.Errorf("FilesWritten = %d on dry run, want 0", result.FilesWritten)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dry run created %s", dir)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	db := openTestStore(t)

	_, err := export.Export(context.Background(), db, export.Options{Dir: t.TempDir(), Format: "xml"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Export(xml) = %v, want ErrValidation", err)
	}
}

// A corrupt entity file is reported and skipped; the rest of the
// snapshot still imports.
func TestImportSkipsInvalidFiles(t *testing.T) {
	src := openTestStore(t)
	seedStore(t, src)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := export.Export(ctx, src, export.Options{Dir: dir}); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	bad := filepath.Join(dir, "notes", "broken.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	dst := openTestStore(t)
	result, err := export.Import(ctx, dst, export.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want exactly one", result.Errors)
	}
	if result.Entities != 4 {
		t.Errorf("Entities = %d, want 4 despite the broken file", result.Entities)
	}
}

func TestImportRequiresManifest(t *testing.T) {
	db := openTestStore(t)

	_, err := export.Import(context.Background(), db, export.Options{Dir: t.TempDir()})
	if err == nil {
		t.Error("Import() without manifest succeeded, want error")
	}
}

// TestImportAsRemoteIsNotJournaled verifies that --as-remote imports
// land as already-synced state instead of queueing a re-push of every
// entity.
func TestImportAsRemoteIsNotJournaled(t *testing.T) {
	src := openTestStore(t)
	seedStore(t, src)
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := export.Export(ctx, src, export.Options{Dir: dir}); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	dst := openTestStore(t)
	result, err := export.Import(ctx, dst, export.Options{Dir: dir, AsRemote: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Entities != 4 {
		t.Fatalf("Entities = %d, want 4", result.Entities)
	}

	pending, err := journal.New(dst.RawDB(), journal.DefaultConfig()).PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("PendingCount = %d after as-remote import, want 0", pending)
	}

	rec, err := dst.Get(ctx, model.CollectionNotes, "n-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.SyncStatus != model.StatusSynced {
		t.Errorf("SyncStatus = %q, want %q", rec.SyncStatus, model.StatusSynced)
	}
}

func TestReadEntityFileValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "n-1.json")
	// Well-formed JSON, but missing the owning space.
	if err := os.WriteFile(path, []byte(`{"collection":"notes","id":"n-1","payload":{"title":"x"}}`), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	_, err := export.ReadEntityFile(path)
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("ReadEntityFile() = %v, want ErrValidation", err)
	}
}
