// Package daemon runs the background half of the application: the sync
// engine loop, the dashboard feed, and the inbox watcher.
//
// The inbox is a directory where other tools (or another device, via
// file transfer) drop entity snapshot files. Dropped *.json files are
// imported as local mutations - so they flow through the normal
// journal/sync path - and archived under inbox/processed. Invalid
// files are logged and left in place.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satchelhq/satchel/internal/dashboard"
	"github.com/satchelhq/satchel/internal/export"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
)

const processedDir = "processed"

// Config holds daemon configuration.
type Config struct {
	// InboxDir is the snapshot drop directory. Empty disables the
	// inbox watcher.
	InboxDir string

	// DebounceInterval batches rapid file events before import.
	// Default 200ms.
	DebounceInterval time.Duration

	// Logger for daemon activity. Defaults to stderr with a
	// "[daemon] " prefix.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the sync engine, dashboard, and inbox watcher together.
type Daemon struct {
	db     *store.DB
	engine syncer.Syncer
	dash   *dashboard.Server // nil disables the dashboard
	cfg    Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon. The dashboard server may be nil.
func New(db *store.DB, engine syncer.Syncer, dash *dashboard.Server, cfg Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("sync engine cannot be nil")
	}
	def := DefaultConfig()
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = def.DebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Daemon{
		db:          db,
		engine:      engine,
		dash:        dash,
		cfg:         cfg,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.cfg.Logger.Println("starting")

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		events, cancelSub := d.db.Subscribe(100)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer cancelSub()
			d.dash.Feed(ctx, events)
		}()
	}

	// Local mutations should reach the remote promptly, not on the
	// next interval tick.
	triggerEvents, cancelTrigger := d.db.Subscribe(100)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancelTrigger()
		d.triggerLoop(ctx, triggerEvents)
	}()

	if d.cfg.InboxDir != "" {
		if err := d.startInbox(ctx); err != nil {
			return err
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.cfg.Logger.Printf("sync loop exited: %v", err)
		}
	}()

	<-ctx.Done()
	return d.stop()
}

func (d *Daemon) stop() error {
	d.cfg.Logger.Println("stopping")
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.cfg.Logger.Printf("error closing watcher: %v", err)
		}
	}
	d.wg.Wait()
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			return err
		}
	}
	d.cfg.Logger.Println("stopped")
	return nil
}

// triggerLoop requests a sync cycle after each local mutation. Remote
// applies are skipped; re-triggering on a pull would spin.
func (d *Daemon) triggerLoop(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.FromRemote {
				d.engine.Trigger()
			}
		}
	}
}

func (d *Daemon) startInbox(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(d.cfg.InboxDir, processedDir), 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	// Catch up on files dropped while the daemon was down.
	d.sweepInbox(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	if err := watcher.Add(d.cfg.InboxDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch inbox %s: %w", d.cfg.InboxDir, err)
	}
	d.watcher = watcher
	d.cfg.Logger.Printf("watching inbox: %s", d.cfg.InboxDir)

	d.wg.Add(2)
	go d.watchInboxEvents(ctx)
	go d.processChangeQueue(ctx)
	return nil
}

func (d *Daemon) sweepInbox(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.InboxDir)
	if err != nil {
		d.cfg.Logger.Printf("failed to read inbox: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		d.importSnapshot(ctx, filepath.Join(d.cfg.InboxDir, e.Name()))
	}
}

func (d *Daemon) watchInboxEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.cfg.Logger.Printf("watcher error: %v", err)
		}
	}
}

// queueChange records a file event for debounced processing, so a file
// still being written settles before import.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

func (d *Daemon) processPendingChanges(ctx context.Context) {
	d.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.cfg.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.importSnapshot(ctx, path)
	}
}

// importSnapshot imports one dropped snapshot file as a local mutation
// and archives it. Failures are logged; the file stays in the inbox so
// the user can inspect it.
func (d *Daemon) importSnapshot(ctx context.Context, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return // deleted before we got to it
	}

	rec, err := export.ReadEntityFile(path)
	if err != nil {
		d.cfg.Logger.Printf("skipping invalid snapshot %s: %v", path, err)
		return
	}

	if err := d.db.Put(ctx, rec, store.PutOptions{}); err != nil {
		if errors.Is(err, model.ErrValidation) {
			d.cfg.Logger.Printf("skipping invalid snapshot %s: %v", path, err)
			return
		}
		d.cfg.Logger.Printf("failed to import %s: %v", path, err)
		return
	}
	d.cfg.Logger.Printf("imported %s %s from %s", rec.Collection, rec.ID, filepath.Base(path))

	archived := filepath.Join(d.cfg.InboxDir, processedDir,
		time.Now().UTC().Format("20060102-150405")+"-"+filepath.Base(path))
	if err := os.Rename(path, archived); err != nil {
		d.cfg.Logger.Printf("failed to archive %s: %v", path, err)
	}
}
