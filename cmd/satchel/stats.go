package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/aggregate"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "content",
	Short:   "Show per-space item counts and sync state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		spaces, err := a.db.Query(ctx, model.CollectionSpaces, store.Filter{})
		if err != nil {
			return err
		}
		active, err := a.db.ActiveSpace(ctx)
		if err != nil {
			return err
		}

		ix := aggregate.New(a.db)
		var rows [][]string
		for _, rec := range spaces {
			sp, err := model.SpaceFromRecord(rec)
			if err != nil {
				return err
			}
			count, err := ix.CountItemsInSpace(ctx, sp.ID)
			if err != nil {
				return err
			}
			marker := ""
			if sp.ID == active {
				marker = "*"
			}
			rows = append(rows, []string{marker, sp.Name, fmt.Sprintf("%d", count), ui.StatusBadge(sp.SyncStatus)})
		}
		if len(rows) == 0 {
			fmt.Println(ui.Faint("No spaces yet."))
			return nil
		}
		fmt.Print(ui.Table([]string{"", "SPACE", "ITEMS", "SYNC"}, rows))

		pending, err := a.jr.PendingCount(ctx)
		if err != nil {
			return err
		}
		conflicts, err := a.db.Conflicts(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("Pending pushes: %d\n", pending)
		if len(conflicts) > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Conflicts: %d (run 'satchel conflicts')", len(conflicts))))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
