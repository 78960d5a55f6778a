// Package settlement applies coverage terms to a damage estimate to produce a
// payout decision.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
)

// Input is everything a settlement decision depends on. PriorPayouts must
// already be restricted to the coverage period containing IncidentDate.
// LineagePayouts is what earlier claims for the same incident (the parents of
// a dispute or reopen follow-up) were already paid; it is included in
// PriorPayouts as well.
type Input struct {
	ClaimID        uuid.UUID            `json:"claim_id"`
	Estimate       model.DamageEstimate `json:"estimate"`
	Terms          model.CoverageTerms  `json:"terms"`
	IncidentType   model.IncidentType   `json:"incident_type"`
	IncidentDate   time.Time            `json:"incident_date"`
	PriorPayouts   decimal.Decimal      `json:"prior_payouts"`
	LineagePayouts decimal.Decimal      `json:"lineage_payouts"`
	Basis          model.DecisionBasis  `json:"basis"`
	DecidedAt      time.Time            `json:"-"`
}

// Calculate produces the settlement decision. Denials are returned as
// decisions, not errors; an error means the inputs were unusable or the
// computed amount broke its bounds.
//
//	approved = min(estimate − deductible − lineagePayouts, limit − priorPayouts)
//
// A follow-up claim is therefore only paid the top-up over what its incident
// already received. Total-loss estimates are additionally capped at the policy limit.
func Calculate(in Input) (model.SettlementDecision, error) {
	if err := validate(in); err != nil {
		return model.SettlementDecision{}, err
	}
	hash, err := integrity.ContentHash(in)
	if err != nil {
		return model.SettlementDecision{}, fmt.Errorf("settlement: hash input: %w", err)
	}
	estimateID := in.Estimate.ID
	d := model.SettlementDecision{
		ClaimID:           in.ClaimID,
		EstimateID:        &estimateID,
		ApprovedAmount:    decimal.Zero,
		AppliedDeductible: in.Terms.Deductible,
		DecisionBasis:     in.Basis,
		DecidedAt:         in.DecidedAt.UTC(),
		InputHash:         hash,
	}

	remaining := in.Terms.Limit.Sub(in.PriorPayouts)
	d.AppliedLimit = decimal.Max(remaining, decimal.Zero)

	switch {
	case in.Terms.Excludes(in.IncidentType):
		d.DeniedReason = model.DenialExcludedIncident
		return d, nil
	case !in.Terms.InForce(in.IncidentDate):
		d.DeniedReason = model.DenialNotInForce
		return d, nil
	case !remaining.IsPositive():
		d.DeniedReason = model.DenialLimitExhausted
		return d, nil
	}

	net := in.Estimate.EstimatedAmount.Sub(in.Terms.Deductible)
	if !net.IsPositive() {
		d.DeniedReason = model.DenialBelowDeductible
		return d, nil
	}
	gross := net.Sub(in.LineagePayouts)
	if !gross.IsPositive() {
		d.DeniedReason = model.DenialAlreadyPaid
		return d, nil
	}

	approved := decimal.Min(gross, remaining)
	if in.Estimate.SeverityClass == model.SeverityTotalLoss {
		approved = decimal.Min(approved, in.Terms.Limit)
	}
	d.ApprovedAmount = approved.RoundBank(2)

	if err := checkBounds(d.ApprovedAmount, gross, remaining, in.Terms.Limit); err != nil {
		return model.SettlementDecision{}, err
	}
	return d, nil
}

func validate(in Input) error {
	if err := in.Terms.Validate(); err != nil {
		return err
	}
	if err := model.ValidateAmount("estimated amount", in.Estimate.EstimatedAmount); err != nil {
		return err
	}
	if err := model.ValidateAmount("prior payouts", in.PriorPayouts); err != nil {
		return err
	}
	if err := model.ValidateAmount("lineage payouts", in.LineagePayouts); err != nil {
		return err
	}
	if in.LineagePayouts.GreaterThan(in.PriorPayouts) {
		return fmt.Errorf("%w: lineage payouts %s exceed prior payouts %s", model.ErrValidation, in.LineagePayouts, in.PriorPayouts)
	}
	if in.Basis != model.BasisAutomated && in.Basis != model.BasisAdjusterOverride {
		return fmt.Errorf("%w: unknown decision basis %q", model.ErrValidation, in.Basis)
	}
	return nil
}

// checkBounds enforces 0 ≤ approved ≤ min(gross, remaining, limit), where
// gross is already net of the deductible and of lineage payouts.
func checkBounds(approved, gross, remaining, limit decimal.Decimal) error {
	switch {
	case approved.IsNegative():
		return fmt.Errorf("%w: approved amount %s is negative", model.ErrInvariantViolation, approved)
	case approved.GreaterThan(gross):
		return fmt.Errorf("%w: approved amount %s exceeds estimate net of deductible %s", model.ErrInvariantViolation, approved, gross)
	case approved.GreaterThan(remaining):
		return fmt.Errorf("%w: approved amount %s exceeds remaining limit %s", model.ErrInvariantViolation, approved, remaining)
	case approved.GreaterThan(limit):
		return fmt.Errorf("%w: approved amount %s exceeds policy limit %s", model.ErrInvariantViolation, approved, limit)
	}
	return nil
}

// PeriodPayouts sums the payouts that count against the coverage period
// containing incidentDate.
func PeriodPayouts(terms model.CoverageTerms, payouts []model.Payout) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payouts {
		if p.PolicyID == terms.PolicyID && terms.InForce(p.IncidentDate) {
			total = total.Add(p.Amount)
		}
	}
	return total
}
