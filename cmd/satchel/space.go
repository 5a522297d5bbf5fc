package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var spaceCmd = &cobra.Command{
	Use:     "space",
	GroupID: "content",
	Short:   "Manage spaces (contexts like Work or Personal)",
}

var spaceAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sp := &model.Space{ID: newID(), Name: args[0]}
		rec, err := sp.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}

		// First space becomes active automatically.
		active, err := a.db.ActiveSpace(ctx)
		if err != nil {
			return err
		}
		if active == "" {
			if err := a.db.SetActiveSpace(ctx, sp.ID); err != nil {
				return err
			}
			fmt.Println(ui.Success(fmt.Sprintf("Created space %q (%s), now active", sp.Name, sp.ID)))
			return nil
		}
		fmt.Println(ui.Success(fmt.Sprintf("Created space %q (%s)", sp.Name, sp.ID)))
		return nil
	},
}

var spaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.db.Query(ctx, model.CollectionSpaces, store.Filter{})
		if err != nil {
			return err
		}
		active, err := a.db.ActiveSpace(ctx)
		if err != nil {
			return err
		}

		showArchived, _ := cmd.Flags().GetBool("archived")
		var rows [][]string
		for _, rec := range recs {
			sp, err := model.SpaceFromRecord(rec)
			if err != nil {
				return err
			}
			if sp.IsArchived && !showArchived {
				continue
			}
			marker := ""
			if sp.ID == active {
				marker = "*"
			}
			name := sp.Name
			if sp.IsArchived {
				name += " (archived)"
			}
			rows = append(rows, []string{marker, sp.ID, name, string(sp.SyncStatus)})
		}
		if len(rows) == 0 {
			fmt.Println(ui.Faint("No spaces yet. Create one with 'satchel space add NAME'."))
			return nil
		}
		fmt.Print(ui.Table([]string{"", "ID", "NAME", "SYNC"}, rows))
		return nil
	},
}

var spaceSwitchCmd = &cobra.Command{
	Use:   "switch ID",
	Short: "Set the active space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.SetActiveSpace(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println(ui.Success("Switched active space to " + args[0]))
		return nil
	},
}

var spaceArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive a space (hide it without deleting content)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.db.Get(ctx, model.CollectionSpaces, args[0])
		if err != nil {
			return err
		}
		sp, err := model.SpaceFromRecord(rec)
		if err != nil {
			return err
		}
		sp.IsArchived = true
		updated, err := sp.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, updated, store.PutOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Archived space %q", sp.Name)))
		return nil
	},
}

var spaceRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a space and everything it contains",
	Long: `Permanently delete a space and all notes, todos, and checklists it
owns. The active space cannot be deleted; switch first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.db.Get(ctx, model.CollectionSpaces, args[0])
		if err != nil {
			return err
		}
		sp, err := model.SpaceFromRecord(rec)
		if err != nil {
			return err
		}
		count, err := a.db.CountSpaceContent(ctx, sp.ID)
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force && ui.Interactive() {
			var confirmed bool
			form := huh.NewConfirm().
				Title(fmt.Sprintf("Delete space %q and its %d items?", sp.Name, count)).
				Description("This cannot be undone.").
				Value(&confirmed)
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		} else if !force {
			return fmt.Errorf("refusing to delete space %q non-interactively; use --force", sp.Name)
		}

		if err := a.db.DeleteSpace(ctx, sp.ID, store.DeleteOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Deleted space %q and %d items", sp.Name, count)))
		return nil
	},
}

func init() {
	spaceListCmd.Flags().Bool("archived", false, "include archived spaces")
	spaceRmCmd.Flags().BoolP("force", "f", false, "skip confirmation")

	spaceCmd.AddCommand(spaceAddCmd, spaceListCmd, spaceSwitchCmd, spaceArchiveCmd, spaceRmCmd)
	rootCmd.AddCommand(spaceCmd)
}
