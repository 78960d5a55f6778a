package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cleanupCompletedTTL  time.Duration
	cleanupInProgressTTL time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired settlement idempotency keys (DATABASE_URL)",
	Long: "Deletes completed idempotency records older than --completed-ttl and\n" +
		"abandoned in-progress reservations older than --in-progress-ttl.",
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupCompletedTTL, "completed-ttl", 30*24*time.Hour, "age after which completed keys are removed")
	cleanupCmd.Flags().DurationVar(&cleanupInProgressTTL, "in-progress-ttl", time.Hour, "age after which unfinished reservations are removed")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	if cleanupCompletedTTL <= 0 || cleanupInProgressTTL <= 0 {
		return errors.New("cleanup: TTLs must be positive")
	}
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.CleanupIdempotencyKeys(cmd.Context(), cleanupCompletedTTL, cleanupInProgressTTL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d idempotency keys.\n", n)
	return nil
}
