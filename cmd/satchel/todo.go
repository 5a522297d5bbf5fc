package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var todoCmd = &cobra.Command{
	Use:     "todo",
	GroupID: "content",
	Short:   "Manage todo lists and items in the active space",
}

var todoAddListCmd = &cobra.Command{
	Use:   "add-list NAME",
	Short: "Create a todo list",
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
		l := &model.TodoList{ID: newID(), SpaceID: spaceID, Name: args[0]}
		rec, err := l.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success(fmt.Sprintf("Created todo list %q (%s)", l.Name, l.ID)))
		return nil
	},
}

var todoListsCmd = &cobra.Command{
	Use:   "lists",
	Short: "List todo lists in the active space",
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
		recs, err := a.db.Query(ctx, model.CollectionTodoLists, store.Filter{SpaceID: spaceID})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(ui.Faint("No todo lists. Create one with 'satchel todo add-list NAME'."))
			return nil
		}

		var rows [][]string
		for _, rec := range recs {
			l, err := model.TodoListFromRecord(rec)
			if err != nil {
				return err
			}
			open, err := a.db.Count(ctx, model.CollectionTodoItems, store.Filter{ParentID: l.ID})
			if err != nil {
				return err
			}
			rows = append(rows, []string{l.ID, l.Name, fmt.Sprintf("%d items", open)})
		}
		fmt.Print(ui.Table([]string{"ID", "NAME", "ITEMS"}, rows))
		return nil
	},
}

var todoAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a todo item",
	Long: `Add a todo item to a list. With a single todo list in the space the
--list flag may be omitted. Due dates accept natural language:

  satchel todo add "Buy groceries" --due "tomorrow 5pm"
  satchel todo add "File taxes" --list 3f2a... --due "April 14"`,
	Args: cobra.ExactArgs(1),
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

		listID, _ := cmd.Flags().GetString("list")
		if listID == "" {
			listID, err = soleTodoList(cmd, a, spaceID)
			if err != nil {
				return err
			}
		}

		item := &model.TodoItem{ID: newID(), SpaceID: spaceID, ListID: listID, Title: args[0]}
		if dueText, _ := cmd.Flags().GetString("due"); dueText != "" {
			due, err := parseDue(dueText)
			if err != nil {
				return err
			}
			item.DueAt = &due
		}

		rec, err := item.Record()
		if err != nil {
			return err
		}
		if err := a.db.Put(ctx, rec, store.PutOptions{}); err != nil {
			return err
		}

		msg := fmt.Sprintf("Added %q (%s)", item.Title, item.ID)
		if item.DueAt != nil {
			msg += ", due " + item.DueAt.Format("Mon Jan 2 15:04")
		}
		fmt.Println(ui.Success(msg))
		return nil
	},
}

var todoShowCmd = &cobra.Command{
	Use:   "show LIST_ID",
	Short: "Show the items of a todo list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		listRec, err := a.db.Get(ctx, model.CollectionTodoLists, args[0])
		if err != nil {
			return err
		}
		l, err := model.TodoListFromRecord(listRec)
		if err != nil {
			return err
		}

		recs, err := a.db.Query(ctx, model.CollectionTodoItems, store.Filter{ParentID: l.ID})
		if err != nil {
			return err
		}

		fmt.Println(ui.Title(l.Name))
		if len(recs) == 0 {
			fmt.Println(ui.Faint("  (empty)"))
			return nil
		}
		for _, rec := range recs {
			item, err := model.TodoItemFromRecord(rec)
			if err != nil {
				return err
			}
			box := "[ ]"
			if item.IsDone {
				box = "[x]"
			}
			line := fmt.Sprintf("  %s %s  %s", box, item.Title, ui.Faint(item.ID))
			if item.DueAt != nil {
				line += "  " + ui.Warn("due "+item.DueAt.Format("Jan 2 15:04"))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var todoDoneCmd = &cobra.Command{
	Use:   "done ITEM_ID",
	Short: "Mark a todo item as done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTodoDone(cmd, args[0], true)
	},
}

var todoUndoneCmd = &cobra.Command{
	Use:   "undone ITEM_ID",
	Short: "Mark a todo item as not done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTodoDone(cmd, args[0], false)
	},
}

var todoRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a todo item or list",
	Long: `Delete a todo item, or with --list, a todo list. Deleting a list
cascades to its items.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		coll := model.CollectionTodoItems
		if isList, _ := cmd.Flags().GetBool("list"); isList {
			coll = model.CollectionTodoLists
		}
		if err := a.db.Delete(ctx, coll, args[0], store.DeleteOptions{}); err != nil {
			return err
		}
		fmt.Println(ui.Success("Deleted " + args[0]))
		return nil
	},
}

func setTodoDone(cmd *cobra.Command, id string, done bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.db.Get(ctx, model.CollectionTodoItems, id)
	if err != nil {
		return err
	}
	item, err := model.TodoItemFromRecord(rec)
	if err != nil {
		return err
	}
	item.IsDone = done
	updated, err := item.Record()
	if err != nil {
		return err
	}
	if err := a.db.Put(ctx, updated, store.PutOptions{}); err != nil {
		return err
	}
	if done {
		fmt.Println(ui.Success(fmt.Sprintf("Done: %s", item.Title)))
	} else {
		fmt.Println(ui.Success(fmt.Sprintf("Reopened: %s", item.Title)))
	}
	return nil
}

// soleTodoList resolves the implicit target list when the space has
// exactly one.
func soleTodoList(cmd *cobra.Command, a *app, spaceID string) (string, error) {
	recs, err := a.db.Query(cmd.Context(), model.CollectionTodoLists, store.Filter{SpaceID: spaceID})
	if err != nil {
		return "", err
	}
	switch len(recs) {
	case 0:
		return "", fmt.Errorf("no todo lists in this space; create one with 'satchel todo add-list NAME': %w", model.ErrNotFound)
	case 1:
		return recs[0].ID, nil
	default:
		return "", fmt.Errorf("multiple todo lists in this space; pick one with --list")
	}
}

// parseDue resolves natural-language schedules like "tomorrow 5pm".
func parseDue(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q: %w", text, model.ErrValidation)
	}
	return r.Time, nil
}

func init() {
	todoAddCmd.Flags().StringP("list", "l", "", "target todo list id")
	todoAddCmd.Flags().StringP("due", "d", "", "due date, natural language allowed")
	todoRmCmd.Flags().Bool("list", false, "delete a todo list instead of an item")

	todoCmd.AddCommand(todoAddListCmd, todoListsCmd, todoAddCmd, todoShowCmd, todoDoneCmd, todoUndoneCmd, todoRmCmd)
	rootCmd.AddCommand(todoCmd)
}
