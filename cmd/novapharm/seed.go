package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"novapharm/m/internal/database"
	"novapharm/m/internal/migrations"
	"novapharm/m/internal/seed"
)

var (
	seedPharmacy string
	seedCSV      string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load reference data",
}

var seedProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Load a product catalog CSV into a pharmacy",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Run(db); err != nil {
			return err
		}
		res, err := seed.LoadProductsFile(cmd.Context(), db, logger, seedPharmacy, seedCSV)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "inserted %d products, skipped %d rows\n", res.Inserted, res.Skipped)
		return nil
	},
}

func init() {
	seedProductsCmd.Flags().StringVar(&seedPharmacy, "pharmacy", "", "pharmacy id (the owner's user id)")
	seedProductsCmd.Flags().StringVar(&seedCSV, "csv", "", "path to the catalog CSV")
	_ = seedProductsCmd.MarkFlagRequired("pharmacy")
	_ = seedProductsCmd.MarkFlagRequired("csv")
	seedCmd.AddCommand(seedProductsCmd)
}
