package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken/internal/audit"
)

var auditFlags struct {
	db string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify or seal the SQLite audit ledger",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every chain hash and seal in the ledger",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal records appended since the last seal under a Merkle root",
	Args:  cobra.NoArgs,
	RunE:  runAuditSeal,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditFlags.db, "db", "", "Ledger path (default $HOKEN_AUDIT_SQLITE)")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditSealCmd)
}

func openLedger(cmd *cobra.Command) (*audit.SQLiteSink, error) {
	path := auditFlags.db
	if path == "" {
		path = os.Getenv("HOKEN_AUDIT_SQLITE")
	}
	if path == "" {
		return nil, errors.New("audit: no ledger path; pass --db or set HOKEN_AUDIT_SQLITE")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audit: ledger %s: %w", path, err)
	}
	return audit.OpenSQLite(cmd.Context(), path)
}

func runAuditVerify(cmd *cobra.Command, _ []string) error {
	ledger, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	n, err := ledger.Verify(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Verified %d records.\n", n)
	return nil
}

func runAuditSeal(cmd *cobra.Command, _ []string) error {
	ledger, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	seal, err := ledger.Seal(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if seal.SeqTo == 0 {
		fmt.Fprintln(out, "Nothing to seal.")
		return nil
	}
	fmt.Fprintf(out, "Sealed records %d-%d: %s\n", seal.SeqFrom, seal.SeqTo, seal.MerkleRoot)
	return nil
}
