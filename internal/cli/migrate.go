package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ideaforge/api/internal/config"
	"ideaforge/api/internal/store"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  `Applies every *.up.sql file in the migrations directory that is not yet recorded in schema_migrations. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			if len(applied) == 0 {
				fmt.Println("Schema is up to date.")
				return nil
			}
			for _, version := range applied {
				fmt.Printf("  %s %s\n", color.New(color.FgGreen).Sprint("APPLIED"), version)
			}
			return nil
		},
	}
}
