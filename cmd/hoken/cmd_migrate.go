package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken/internal/config"
	"github.com/ashita-ai/hoken/internal/storage"
	"github.com/ashita-ai/hoken/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations (DATABASE_URL)",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

// openDB connects to DATABASE_URL for the maintenance commands.
func openDB(cmd *cobra.Command) (*storage.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s: DATABASE_URL is not set", cmd.Name())
	}
	return storage.New(cmd.Context(), cfg.DatabaseURL, slog.Default())
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.RunMigrations(cmd.Context(), migrations.FS)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema is up to date.")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(out, "Applied %s\n", name)
	}
	return nil
}
