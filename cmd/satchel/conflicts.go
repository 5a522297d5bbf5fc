package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/syncer"
	"github.com/satchelhq/satchel/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List entities with unresolved sync conflicts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		shadows, err := a.db.Conflicts(ctx)
		if err != nil {
			return err
		}
		if len(shadows) == 0 {
			fmt.Println(ui.Success("No conflicts."))
			return nil
		}

		var rows [][]string
		for _, s := range shadows {
			remoteState := "edited remotely " + s.RemoteUpdatedAt.Format("2006-01-02 15:04")
			if s.RemoteDeleted {
				remoteState = "deleted remotely"
			}
			rows = append(rows, []string{string(s.Collection), s.EntityID, remoteState})
		}
		fmt.Print(ui.Table([]string{"COLLECTION", "ID", "REMOTE"}, rows))
		fmt.Println(ui.Faint("\nResolve with: satchel conflicts resolve COLLECTION ID --keep local|remote"))
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve COLLECTION ID",
	Short: "Resolve a conflict by keeping one side",
	Long: `Resolve a conflicted entity. --keep local re-queues your version for
push; --keep remote applies the remote version and discards pending
local changes for the entity.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		coll := model.Collection(args[0])
		if !coll.Valid() {
			return fmt.Errorf("unknown collection %q: %w", args[0], model.ErrValidation)
		}

		keep, _ := cmd.Flags().GetString("keep")
		choice := syncer.Choice(keep)

		// Resolution is a local decision; no remote connection needed.
		eng := syncer.New(a.db, a.jr, nil, syncer.Config{})
		if err := eng.Resolve(ctx, coll, args[1], choice); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Resolved %s %s keeping %s", coll, args[1], keep)))
		return nil
	},
}

func init() {
	conflictsResolveCmd.Flags().String("keep", "", "which side to keep: local or remote")
	_ = conflictsResolveCmd.MarkFlagRequired("keep")

	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
