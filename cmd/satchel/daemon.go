package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/daemon"
	"github.com/satchelhq/satchel/internal/dashboard"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync loop, the WebSocket dashboard, and the snapshot inbox
watcher in the foreground until interrupted.

The dashboard broadcasts to connected clients:
- entity_update: an entity was created, updated, or deleted
- sync_complete: a sync cycle finished
- conflict: an entity entered conflict state
- stats: store statistics

Drop *.json entity snapshots into <data_dir>/inbox to import them as
local mutations.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		eng, client, err := a.openEngine(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		var dash *dashboard.Server
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = a.cfg.Daemon.DashboardPort
		}
		if port > 0 {
			dash = dashboard.NewServer(dashboard.Config{
				Port:   port,
				Logger: a.cfg.NewLogger("dashboard"),
			})
		}

		// Forward cycle outcomes to dashboard clients.
		if dash != nil {
			eng = syncer.New(a.db, a.jr, client, syncer.Config{
				Interval:    a.cfg.Sync.Interval,
				CallTimeout: a.cfg.Sync.CallTimeout,
				SkewWindow:  a.cfg.Sync.SkewWindow,
				Hook: func(s syncer.Stats) {
					dash.BroadcastSyncComplete(s)
					if s.Conflicts > 0 {
						if shadows, err := a.db.Conflicts(ctx); err == nil {
							for _, sh := range shadows {
								dash.BroadcastConflict(string(sh.Collection), sh.EntityID)
							}
						}
					}
					broadcastStats(ctx, a, dash)
				},
			})
		}

		d, err := daemon.New(a.db, eng, dash, daemon.Config{
			InboxDir: a.cfg.InboxDir(),
			Logger:   a.cfg.NewLogger("daemon"),
		})
		if err != nil {
			return err
		}

		if dash != nil {
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", port)
		}
		fmt.Println("Daemon running. Press Ctrl+C to stop.")
		return d.Start(ctx)
	},
}

// broadcastStats publishes current store counts to dashboard clients.
func broadcastStats(ctx context.Context, a *app, dash *dashboard.Server) {
	stats := dashboard.StatsData{ByCollection: make(map[string]int)}
	for _, coll := range model.Collections() {
		n, err := a.db.Count(ctx, coll, store.Filter{})
		if err != nil {
			return
		}
		stats.ByCollection[string(coll)] = n
		stats.Total += n
	}
	if shadows, err := a.db.Conflicts(ctx); err == nil {
		stats.Conflicts = len(shadows)
	}
	if pending, err := a.jr.PendingCount(ctx); err == nil {
		stats.Pending = pending
	}
	dash.BroadcastStats(stats)
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "dashboard port (0 = from config)")
	rootCmd.AddCommand(daemonCmd)
}
