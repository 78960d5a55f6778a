package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/hoken"
	"github.com/ashita-ai/hoken/internal/ctxutil"
	"github.com/ashita-ai/hoken/internal/model"
)

var assessFlags struct {
	file   string
	settle bool
	actor  string
}

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "File the scenario's claim, run automated assessment and optionally settle it",
	RunE:  runAssess,
}

func init() {
	f := assessCmd.Flags()
	f.StringVarP(&assessFlags.file, "file", "f", "", "Scenario file with robot, policy and claim (required)")
	f.BoolVar(&assessFlags.settle, "settle", false, "Settle an approved claim through the sandbox gateway")
	f.StringVar(&assessFlags.actor, "actor", "cli", "Actor recorded in the claim history")
	_ = assessCmd.MarkFlagRequired("file")
}

type assessOutput struct {
	Claim    hoken.Claim               `json:"claim"`
	Decision *hoken.SettlementDecision `json:"decision,omitempty"`
}

func runAssess(cmd *cobra.Command, _ []string) error {
	sc, err := loadScenario(assessFlags.file)
	if err != nil {
		return err
	}
	if sc.Policy == nil || sc.Claim == nil {
		return errors.New("assess: scenario needs both a policy and a claim")
	}
	ctx := ctxutil.WithActor(cmd.Context(), assessFlags.actor)
	ctx = ctxutil.WithRequestID(ctx, uuid.NewString())

	eng, err := openEngine(ctx, true)
	if err != nil {
		return err
	}
	defer closeEngine(eng)

	if _, err := scoreScenario(ctx, eng, sc); err != nil {
		return err
	}
	if err := eng.BindPolicy(ctx, *sc.Policy); err != nil {
		return fmt.Errorf("bind policy: %w", err)
	}
	svc, err := eng.Claims()
	if err != nil {
		return err
	}

	c, err := svc.Create(ctx, *sc.Claim)
	if err != nil {
		return err
	}
	if _, err := svc.Submit(ctx, c.ID); err != nil {
		return err
	}
	if c, err = svc.Assess(ctx, c.ID); err != nil {
		return err
	}

	out := assessOutput{Claim: c, Decision: c.Decision}
	if assessFlags.settle && c.State == model.StateApproved {
		dec, err := svc.Settle(ctx, c.ID, c.IdempotencyKey)
		if err != nil {
			return err
		}
		out.Decision = &dec
		if out.Claim, err = svc.Get(ctx, c.ID); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), out)
}
