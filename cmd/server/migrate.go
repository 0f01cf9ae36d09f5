package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/fieldver/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the default version table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return db.RunMigrations(cfg.Database)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
