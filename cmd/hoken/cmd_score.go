package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken"
)

var scoreFlags struct {
	file string
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute a risk profile for the robot in a scenario file",
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreFlags.file, "file", "f", "", "Scenario file, YAML or JSON (required)")
	_ = scoreCmd.MarkFlagRequired("file")
}

func runScore(cmd *cobra.Command, _ []string) error {
	sc, err := loadScenario(scoreFlags.file)
	if err != nil {
		return err
	}
	eng, err := openEngine(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer closeEngine(eng)

	profile, err := scoreScenario(cmd.Context(), eng, sc)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), profile)
}

// openEngine builds an engine from the environment. Claims need a payment
// gateway; the CLI uses the sandbox gateway, which moves no money.
func openEngine(ctx context.Context, withClaims bool) (*hoken.Engine, error) {
	opts := []hoken.Option{
		hoken.WithLogger(slog.Default()),
		hoken.WithVersion(version),
	}
	if withClaims {
		opts = append(opts, hoken.WithPaymentGateway(&hoken.SandboxGateway{}))
	}
	eng, err := hoken.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return eng, nil
}

func closeEngine(eng *hoken.Engine) {
	if err := eng.Close(context.Background()); err != nil {
		slog.Warn("engine close failed", "error", err)
	}
}

func scoreScenario(ctx context.Context, eng *hoken.Engine, sc scenario) (hoken.RiskProfile, error) {
	if err := eng.RegisterRobot(ctx, sc.Robot); err != nil {
		return hoken.RiskProfile{}, fmt.Errorf("register robot: %w", err)
	}
	profile, err := eng.ScoreRobot(ctx, sc.Robot.RobotID, sc.Snapshot, sc.History)
	if err != nil {
		return hoken.RiskProfile{}, fmt.Errorf("score: %w", err)
	}
	return profile, nil
}
