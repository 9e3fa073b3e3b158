package main

import (
	"github.com/spf13/cobra"

	"novapharm/m/internal/database"
	"novapharm/m/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Run(db); err != nil {
			return err
		}
		logger.Info("schema is up to date")
		return nil
	},
}
