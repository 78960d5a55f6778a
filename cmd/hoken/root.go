package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hoken",
	Short: "Risk scoring, premium quotes and claim settlement for insured robots",
	Long: "hoken scores robot risk from specifications and diagnostics, prices coverage,\n" +
		"assesses claim damage and settles approved claims against policy limits.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.Version = version
}
