package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Pull remote changes and push pending local mutations once. Requires a
remote url and token in the config; without one, satchel works purely
locally and this command reports that sync is not set up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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

		stats, err := eng.SyncOnce(ctx)
		if err != nil {
			return err
		}

		fmt.Println(ui.Success(fmt.Sprintf("Synced: pulled %d, pushed %d", stats.Pulled, stats.Pushed)))
		if stats.Deferred > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("%d pushes deferred for retry", stats.Deferred)))
		}
		if stats.Conflicts > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("%d new conflicts (run 'satchel conflicts')", stats.Conflicts)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
