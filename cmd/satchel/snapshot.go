package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/export"
	"github.com/satchelhq/satchel/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export DIR",
	GroupID: "advanced",
	Short:   "Write a snapshot of all entities to a directory",
	Long: `Export every entity to DIR, one file per entity grouped by
collection, plus a manifest.toml. Formats: json (default), yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		format, _ := cmd.Flags().GetString("format")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		result, err := export.Export(ctx, a.db, export.Options{
			Dir:    args[0],
			Format: export.Format(format),
			DryRun: dryRun,
		})
		if err != nil {
			return err
		}

		reportSnapshot(result, dryRun, "Exported")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import DIR",
	GroupID: "advanced",
	Short:   "Import a snapshot directory as local mutations",
	Long: `Replay a snapshot produced by 'satchel export'. Imported entities go
through the normal journal path, so they sync like any local edit. With
--as-remote they are applied as already-synced remote state instead,
which avoids re-pushing a snapshot the remote already has.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asRemote, _ := cmd.Flags().GetBool("as-remote")
		result, err := export.Import(ctx, a.db, export.Options{
			Dir:      args[0],
			DryRun:   dryRun,
			AsRemote: asRemote,
		})
		if err != nil {
			return err
		}

		reportSnapshot(result, dryRun, "Imported")
		return nil
	},
}

func reportSnapshot(result *export.Result, dryRun bool, verb string) {
	if dryRun {
		fmt.Printf("%s (dry run): %d entities\n", verb, result.Entities)
	} else {
		fmt.Println(ui.Success(fmt.Sprintf("%s %d entities (%d files)", verb, result.Entities, result.FilesWritten)))
	}
	for _, msg := range result.Errors {
		fmt.Println(ui.Warn("  " + msg))
	}
}

func init() {
	exportCmd.Flags().String("format", "json", "snapshot format: json or yaml")
	exportCmd.Flags().Bool("dry-run", false, "preview without writing")
	importCmd.Flags().Bool("dry-run", false, "preview without writing")
	importCmd.Flags().Bool("as-remote", false, "apply entities as already-synced remote state")

	rootCmd.AddCommand(exportCmd, importCmd)
}
