package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken"
)

var quoteFlags struct {
	file     string
	coverage string
	tier     string
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Score the scenario's robot and price coverage",
	Long: "Score the scenario's robot and price coverage. If the scenario has a policy,\n" +
		"its terms are priced and compliance-checked; otherwise --coverage is priced.",
	RunE: runQuote,
}

func init() {
	f := quoteCmd.Flags()
	f.StringVarP(&quoteFlags.file, "file", "f", "", "Scenario file, YAML or JSON (required)")
	f.StringVar(&quoteFlags.coverage, "coverage", "physical_damage", "Coverage type when the scenario has no policy")
	f.StringVar(&quoteFlags.tier, "tier", string(hoken.TierNone), "Discount tier: none, bronze, silver, gold")
	_ = quoteCmd.MarkFlagRequired("file")
}

func runQuote(cmd *cobra.Command, _ []string) error {
	sc, err := loadScenario(quoteFlags.file)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	eng, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine(eng)

	if _, err := scoreScenario(ctx, eng, sc); err != nil {
		return err
	}
	tier := hoken.Tier(quoteFlags.tier)
	var q hoken.Quote
	if sc.Policy != nil {
		q, err = eng.BindableQuote(ctx, sc.Robot.RobotID, *sc.Policy, tier)
		switch {
		case errors.Is(err, hoken.ErrNotAvailable):
			// The CLI has no compliance service; the price is still useful.
			fmt.Fprintln(cmd.ErrOrStderr(), "note: no compliance checker configured; quote is not bindable")
			err = nil
		case errors.Is(err, hoken.ErrComplianceViolation):
			// A compliance failure still prints the quote, marked not bindable.
			if perr := printJSON(cmd.OutOrStdout(), q); perr != nil {
				return perr
			}
			return err
		}
	} else {
		q, err = eng.Quote(ctx, sc.Robot.RobotID, hoken.CoverageType(quoteFlags.coverage), tier)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), q)
}
