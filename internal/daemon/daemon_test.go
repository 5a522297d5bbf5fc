package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
)

// fakeEngine satisfies syncer.Syncer and records Trigger calls so tests
// can observe the daemon's reaction to store events.
type fakeEngine struct {
	mu       sync.Mutex
	triggers int
}

func (f *fakeEngine) SyncOnce(ctx context.Context) (syncer.Stats, error) {
	return syncer.Stats{}, nil
}

func (f *fakeEngine) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEngine) Trigger() {
	f.mu.Lock()
	f.triggers++
	f.mu.Unlock()
}

func (f *fakeEngine) Resolve(ctx context.Context, collection model.Collection, id string, choice syncer.Choice) error {
	return model.ErrNotFound
}

func (f *fakeEngine) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "satchel.db"), store.Options{SyncEnabled: true})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return db
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// startDaemon runs d.Start in the background and returns a cancel func
// that stops it and waits for Start to return.
func startDaemon(t *testing.T, d *Daemon) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	// Start subscribes to store events before blocking on ctx. On a
	// single-CPU runner the test body can outrun that goroutine and
	// publish before the subscription exists, losing the event; yield
	// long enough for Start to reach its blocking point.
	time.Sleep(100 * time.Millisecond)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Start returned error: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("daemon did not stop within 5s")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeSnapshot(t *testing.T, dir, name string, rec *model.Record) string {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	return path
}

// TestNewValidates verifies that the daemon refuses to start without a
// store or a sync engine.
func TestNewValidates(t *testing.T) {
	db := openTestStore(t)
	eng := &fakeEngine{}

	if _, err := New(nil, eng, nil, Config{}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(db, nil, nil, Config{}); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := New(db, eng, nil, Config{}); err != nil {
		t.Errorf("valid daemon config rejected: %v", err)
	}
}

// TestInboxSweepImportsPreexistingSnapshot verifies that a snapshot
// dropped in the inbox before the daemon starts is imported on startup
// and archived under processed/.
func TestInboxSweepImportsPreexistingSnapshot(t *testing.T) {
	db := openTestStore(t)
	inbox := t.TempDir()

	space := &model.Space{ID: "sp-inbox", Name: "Dropped"}
	rec, err := space.Record()
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	writeSnapshot(t, inbox, "sp-inbox.json", rec)

	d, err := New(db, &fakeEngine{}, nil, Config{
		InboxDir:         inbox,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "snapshot import", func() bool {
		_, err := db.Get(context.Background(), model.CollectionSpaces, "sp-inbox")
		return err == nil
	})

	got, err := db.Get(context.Background(), model.CollectionSpaces, "sp-inbox")
	if err != nil {
		t.Fatalf("imported space missing: %v", err)
	}
	sp, err := model.SpaceFromRecord(got)
	if err != nil {
		t.Fatalf("failed to decode imported space: %v", err)
	}
	if sp.Name != "Dropped" {
		t.Errorf("Name = %q, want %q", sp.Name, "Dropped")
	}

	// The source file moves to processed/ with a timestamp prefix.
	waitFor(t, "snapshot archive", func() bool {
		entries, err := os.ReadDir(filepath.Join(inbox, processedDir))
		return err == nil && len(entries) == 1
	})
	if _, err := os.Stat(filepath.Join(inbox, "sp-inbox.json")); !os.IsNotExist(err) {
		t.Error("snapshot should be removed from the inbox after import")
	}
}

// TestInboxImportsDroppedSnapshot verifies that a file created while
// the daemon is running is picked up by the watcher after the debounce
// interval.
func TestInboxImportsDroppedSnapshot(t *testing.T) {
	db := openTestStore(t)
	inbox := t.TempDir()

	d, err := New(db, &fakeEngine{}, nil, Config{
		InboxDir:         inbox,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	startDaemon(t, d)

	// Give the watcher a moment to register before dropping the file.
	waitFor(t, "inbox watcher", func() bool { return d.watcher != nil })

	space := &model.Space{ID: "sp-live", Name: "Live Drop"}
	rec, err := space.Record()
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	writeSnapshot(t, inbox, "sp-live.json", rec)

	waitFor(t, "snapshot import", func() bool {
		_, err := db.Get(context.Background(), model.CollectionSpaces, "sp-live")
		return err == nil
	})
}

// TestInboxLeavesInvalidSnapshot verifies that a malformed file is
// logged and left in place rather than archived or deleted.
func TestInboxLeavesInvalidSnapshot(t *testing.T) {
	db := openTestStore(t)
	inbox := t.TempDir()

	bad := filepath.Join(inbox, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write bad file: %v", err)
	}
	// Valid sibling, to prove the sweep ran to completion.
	space := &model.Space{ID: "sp-ok", Name: "Fine"}
	rec, err := space.Record()
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	writeSnapshot(t, inbox, "sp-ok.json", rec)

	d, err := New(db, &fakeEngine{}, nil, Config{
		InboxDir:         inbox,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "valid sibling import", func() bool {
		_, err := db.Get(context.Background(), model.CollectionSpaces, "sp-ok")
		return err == nil
	})

	if _, err := os.Stat(bad); err != nil {
		t.Errorf("invalid snapshot should stay in the inbox: %v", err)
	}
}

// TestTriggerOnLocalMutation verifies that local writes request a sync
// cycle while remote applies do not.
func TestTriggerOnLocalMutation(t *testing.T) {
	db := openTestStore(t)
	eng := &fakeEngine{}

	d, err := New(db, eng, nil, Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	startDaemon(t, d)

	ctx := context.Background()
	space := &model.Space{ID: "sp-1", Name: "Work"}
	rec, err := space.Record()
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	if err := db.Put(ctx, rec, store.PutOptions{}); err != nil {
		t.Fatalf("failed to put space: %v", err)
	}

	waitFor(t, "trigger after local write", func() bool {
		return eng.triggerCount() == 1
	})

	// A remote apply must not re-trigger; pulling would spin.
	remote := &model.Space{ID: "sp-2", Name: "Remote"}
	rrec, err := remote.Record()
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	rrec.CreatedAt = time.Now().UTC()
	rrec.UpdatedAt = rrec.CreatedAt
	if err := db.Put(ctx, rrec, store.PutOptions{FromRemote: true}); err != nil {
		t.Fatalf("failed to put remote space: %v", err)
	}
	waitFor(t, "remote apply to land", func() bool {
		_, err := db.Get(ctx, model.CollectionSpaces, "sp-2")
		return err == nil
	})

	// Give the trigger loop time to (wrongly) react before checking.
	time.Sleep(50 * time.Millisecond)
	if got := eng.triggerCount(); got != 1 {
		t.Errorf("triggers = %d after remote apply, want 1", got)
	}
}

// TestStartStopsOnCancel verifies a clean shutdown with every
// subsystem enabled except the dashboard.
func TestStartStopsOnCancel(t *testing.T) {
	db := openTestStore(t)

	d, err := New(db, &fakeEngine{}, nil, Config{
		InboxDir: t.TempDir(),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	stop := startDaemon(t, d)
	stop()
}
