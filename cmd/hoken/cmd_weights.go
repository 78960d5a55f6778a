package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken/internal/risk"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect risk weight tables",
}

var weightsValidateCmd = &cobra.Command{
	Use:   "validate <table.yaml>",
	Short: "Check that a weight table is well formed before deploying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWeightsValidate,
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the embedded default weight table version and categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printTable(cmd, risk.DefaultWeightTable())
		return nil
	},
}

func init() {
	weightsCmd.AddCommand(weightsValidateCmd)
	weightsCmd.AddCommand(weightsShowCmd)
}

func runWeightsValidate(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open weight table: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := risk.LoadWeightTable(f)
	if err != nil {
		return err
	}
	printTable(cmd, t)
	if cur := risk.DefaultWeightTable(); !t.Newer(cur) {
		fmt.Fprintf(cmd.OutOrStdout(), "note: version %s is not newer than the embedded %s\n", t.Version, cur.Version)
	}
	return nil
}

func printTable(cmd *cobra.Command, t *risk.WeightTable) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version:    %s\n", t.Version)
	fmt.Fprintf(out, "Bands:      %d\n", len(t.Bands))
	names := make([]string, 0, len(t.Categories))
	for name := range t.Categories {
		names = append(names, name)
	}
	slices.Sort(names)
	fmt.Fprintf(out, "Categories:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %s (%d factors)\n", name, len(t.Categories[name]))
	}
}
