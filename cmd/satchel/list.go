package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/aggregate"
	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "content",
	Short:   "Manage checklists in the active space",
}

var listAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a checklist",
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
		l := &model.ListModel{ID: newID(), SpaceID: spaceID, Name: args[0]}
		rec, err := l.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Created checklist %q (%s)", l.Name, l.ID)))
		return nil
	},
}

var listLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List checklists with progress",
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
		recs, err := a.db.Query(ctx, model.CollectionLists, store.Filter{SpaceID: spaceID})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(ui.Faint("No checklists. Create one with 'satchel list add NAME'."))
			return nil
		}

		ix := aggregate.New(a.db)
		var rows [][]string
		for _, rec := range recs {
			l, err := model.ListFromRecord(rec)
			if err != nil {
				return err
			}
			p, err := ix.CountListProgress(ctx, l.ID)
			if err != nil {
				return err
			}
			rows = append(rows, []string{l.ID, l.Name, fmt.Sprintf("%d/%d", p.Checked, p.Total)})
		}
		fmt.Print(ui.Table([]string{"ID", "NAME", "PROGRESS"}, rows))
		return nil
	},
}

var listItemCmd = &cobra.Command{
	Use:   "item LIST_ID NAME",
	Short: "Add an item to a checklist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		listRec, err := a.db.Get(ctx, model.CollectionLists, args[0])
		if err != nil {
			return err
		}
		item := &model.ListItem{
			ID:      newID(),
			SpaceID: listRec.SpaceID,
			ListID:  listRec.ID,
			Name:    args[1],
		}
		rec, err := item.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Added %q (%s)", item.Name, item.ID)))
		return nil
	},
}

var listShowCmd = &cobra.Command{
	Use:   "show LIST_ID",
	Short: "Show a checklist's items and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		listRec, err := a.db.Get(ctx, model.CollectionLists, args[0])
		if err != nil {
			return err
		}
		l, err := model.ListFromRecord(listRec)
		if err != nil {
			return err
		}

		ix := aggregate.New(a.db)
		p, err := ix.CountListProgress(ctx, l.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", ui.Title(l.Name), ui.Faint(fmt.Sprintf("%d/%d", p.Checked, p.Total)))

		recs, err := a.db.Query(ctx, model.CollectionListItems, store.Filter{ParentID: l.ID})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			item, err := model.ListItemFromRecord(rec)
			if err != nil {
				return err
			}
			box := "[ ]"
			if item.IsChecked {
				box = "[x]"
			}
			fmt.Printf("  %s %s  %s\n", box, item.Name, ui.Faint(item.ID))
		}
		return nil
	},
}

var listCheckCmd = &cobra.Command{
	Use:   "check ITEM_ID",
	Short: "Check a checklist item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setItemChecked(cmd, args[0], true)
	},
}

var listUncheckCmd = &cobra.Command{
	Use:   "uncheck ITEM_ID",
	Short: "Uncheck a checklist item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setItemChecked(cmd, args[0], false)
	},
}

var listRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a checklist item, or with --list, a checklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		coll := model.CollectionListItems
		if isList, _ := cmd.Flags().GetBool("list"); isList {
			coll = model.CollectionLists
		}
		if err := a.db.Delete(ctx, coll, args[0], store.DeleteOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success("Deleted " + args[0]))
		return nil
	},
}

func setItemChecked(cmd *cobra.Command, id string, checked bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.db.Get(ctx, model.CollectionListItems, id)
	if err != nil {
		return err
	}
	item, err := model.ListItemFromRecord(rec)
	if err != nil {
		return err
	}
	item.IsChecked = checked
	updated, err := item.Record()
	if err != nil {
		return err
	}
	if err := a.db.Put(ctx, updated, store.PutOptions{}); err != nil {
		return err
	}
	if checked {
		fmt.Println(ui.Success("Checked: " + item.Name))
	} else {
		fmt.Println(ui.Success("Unchecked: " + item.Name))
	}
	return nil
}

func init() {
	listRmCmd.Flags().Bool("list", false, "delete a checklist instead of an item")

	listCmd.AddCommand(listAddCmd, listLsCmd, listItemCmd, listShowCmd, listCheckCmd, listUncheckCmd, listRmCmd)
	rootCmd.AddCommand(listCmd)
}
