package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "content",
	Short:   "Create the data directory and database",
	Long: `Initialize satchel's data directory (default ~/.satchel) with an
empty database. Safe to run again on an existing installation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := os.MkdirAll(a.cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		fmt.Printf("Initialized satchel at %s\n", a.cfg.DataDir)
		if a.cfg.SyncConfigured() {
			fmt.Println("Sync: configured")
		} else {
			fmt.Println("Sync: not configured (local only)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
