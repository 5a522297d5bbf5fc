// Command satchel is an offline-first personal organizer: spaces,
// notes, todos, and checklists stored locally in SQLite and
// synchronized with a hosted change log when a remote is configured.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/journal"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
	"github.com/satchelhq/satchel/internal/ui"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Offline-first personal organizer with background sync",
	Long: `Satchel keeps your notes, todos, and checklists in local SQLite,
organized into spaces. Everything works offline; when a remote is
configured, changes are journaled and synchronized in the background.

Start with:
  satchel init
  satchel space add "Personal"
  satchel note add "Hello" --body "first note"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: satchel.{toml,yaml} in . or ~/.satchel)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "content", Title: "Content Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Errorf("Error: %s", ui.Message(err)))
		os.Exit(1)
	}
}

// app bundles the open handles a command needs.
type app struct {
	cfg *config.Config
	db  *store.DB
	jr  *journal.Journal
}

// openApp loads config, opens the database, and prepares the journal.
// Callers must Close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath(), store.Options{SyncEnabled: cfg.SyncConfigured()})
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		cfg: cfg,
		db:  db,
		jr:  journal.New(db.RawDB(), journal.DefaultConfig()),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

// activeSpace returns the active space id, with a friendly error when
// none is selected yet.
func (a *app) activeSpace(ctx context.Context) (string, error) {
	id, err := a.db.ActiveSpace(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no active space; create one with 'satchel space add NAME': %w", model.ErrNotFound)
	}
	return id, nil
}

// openRemote connects to the configured change log.
func (a *app) openRemote(ctx context.Context) (remote.Client, error) {
	deviceID, err := a.cfg.DeviceID()
	if err != nil {
		return nil, err
	}
	return remote.OpenLibSQL(ctx, remote.LibSQLConfig{
		URL:      a.cfg.Remote.URL,
		Tokens:   remote.StaticToken(a.cfg.Remote.Token),
		DeviceID: deviceID,
	})
}

// openEngine builds a sync engine over a fresh remote connection.
func (a *app) openEngine(ctx context.Context) (syncer.Syncer, remote.Client, error) {
	client, err := a.openRemote(ctx)
	if err != nil {
		return nil, nil, err
	}
	eng := syncer.New(a.db, a.jr, client, syncer.Config{
		Interval:    a.cfg.Sync.Interval,
		CallTimeout: a.cfg.Sync.CallTimeout,
		SkewWindow:  a.cfg.Sync.SkewWindow,
	})
	return eng, client, nil
}

func newID() string {
	return uuid.NewString()
}
