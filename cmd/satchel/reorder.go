package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var reorderCmd = &cobra.Command{
	Use:     "reorder COLLECTION ID...",
	GroupID: "content",
	Short:   "Reorder entities within their scope",
	Long: `Reorder entities by listing every id in the scope in the desired
order. The id list must be exactly the scope's members - no omissions,
no strangers.

Scopes: spaces order globally; notes, todo lists, and checklists order
within the active space; todo items and list items order within their
parent list (pass --parent).

Example:
  satchel reorder notes 3f2a... 9c1b... 77de...
  satchel reorder todo_items --parent 5a8f... id1 id2 id3`,
	Args: cobra.MinimumNArgs(2),
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
		ids := args[1:]

		var scope store.Filter
		switch coll {
		case model.CollectionSpaces:
			// global scope
		case model.CollectionTodoItems, model.CollectionListItems:
			parent, _ := cmd.Flags().GetString("parent")
			if parent == "" {
				return fmt.Errorf("reordering %s requires --parent: %w", coll, model.ErrValidation)
			}
			scope = store.Filter{ParentID: parent}
		default:
			spaceID, err := a.activeSpace(ctx)
			if err != nil {
				return err
			}
			scope = store.Filter{SpaceID: spaceID}
		}

		if err := a.db.Reorder(ctx, coll, scope, ids); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Reordered %d %s", len(ids), coll)))
		return nil
	},
}

func init() {
	reorderCmd.Flags().StringP("parent", "p", "", "parent list id (item collections)")
	rootCmd.AddCommand(reorderCmd)
}
