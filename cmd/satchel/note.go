package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "content",
	Short:   "Manage notes in the active space",
}

var noteAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		spaceID, err := a.activeSpace(ctx)
		if err != nil {
			return err
		}

		body, _ := cmd.Flags().GetString("body")
		n := &model.Note{ID: newID(), SpaceID: spaceID, Title: args[0], Body: body}
		rec, err := n.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Created note %q (%s)", n.Title, n.ID)))
		return nil
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes in the active space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		spaceID, err := a.activeSpace(ctx)
		if err != nil {
			return err
		}

		recs, err := a.db.Query(ctx, model.CollectionNotes, store.Filter{SpaceID: spaceID})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(ui.Faint("No notes in this space."))
			return nil
		}

		var rows [][]string
		for _, rec := range recs {
			n, err := model.NoteFromRecord(rec)
			if err != nil {
				return err
			}
			rows = append(rows, []string{n.ID, n.Title, ui.StatusBadge(n.SyncStatus)})
		}
		fmt.Print(ui.Table([]string{"ID", "TITLE", "SYNC"}, rows))
		return nil
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a note's body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.db.Get(ctx, model.CollectionNotes, args[0])
		if err != nil {
			return err
		}
		n, err := model.NoteFromRecord(rec)
		if err != nil {
			return err
		}
		fmt.Println(ui.Title(n.Title))
		if n.Body != "" {
			fmt.Println(n.Body)
		}
		fmt.Println(ui.Faint(fmt.Sprintf("updated %s, %s", n.UpdatedAt.Format("2006-01-02 15:04"), n.SyncStatus)))
		return nil
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.Delete(ctx, model.CollectionNotes, args[0], store.DeleteOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success("Deleted note " + args[0]))
		return nil
	},
}

func init() {
	noteAddCmd.Flags().StringP("body", "b", "", "note body text")

	noteCmd.AddCommand(noteAddCmd, noteListCmd, noteShowCmd, noteRmCmd)
	rootCmd.AddCommand(noteCmd)
}
