package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/assessment"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/settlement"
)

// Review reasons recorded on Claim.ReviewReasons.
const (
	ReviewLowConfidence        = "low_confidence"
	ReviewAboveCeiling         = "above_auto_approval_ceiling"
	ReviewInsufficientEvidence = "insufficient_evidence"
)

// Assess runs automated assessment on a Submitted claim and routes it to
// Approved, Denied or PendingAdjusterReview. A claim left in
// AutomatedAssessment by an earlier failure (for example a diagnostic
// timeout) can be assessed again.
func (s *Service) Assess(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	switch c.State {
	case model.StateSubmitted:
		if !c.HasEvidence() {
			return model.Claim{}, fmt.Errorf("%w: claim %s has no diagnostic evidence attached", model.ErrIllegalTransition, c.ID)
		}
		if c, err = s.advance(ctx, c, EventStartAssessment, "", nil); err != nil {
			return model.Claim{}, err
		}
	case model.StateAutomatedAssessment:
	default:
		_, err := Transition(c.State, EventStartAssessment)
		return model.Claim{}, err
	}

	pre, post, err := s.fetchMissingSnapshots(ctx, c)
	if err != nil {
		return c, err
	}
	c.PreIncident, c.PostIncident = pre, post

	robot, err := s.deps.Robots.Robot(ctx, c.RobotID)
	if err != nil {
		return c, fmt.Errorf("claims: assess: robot %s: %w", c.RobotID, err)
	}
	terms, err := s.deps.Coverage.Terms(ctx, c.PolicyID)
	if err != nil {
		return c, fmt.Errorf("claims: assess: policy %s: %w", c.PolicyID, err)
	}
	var profile *model.RiskProfile
	if s.deps.Profiles != nil {
		p, err := ignoreNotFound(s.deps.Profiles.LatestProfile(ctx, c.RobotID))
		if err != nil {
			return c, fmt.Errorf("claims: assess: risk profile: %w", err)
		}
		if p.RobotID != uuid.Nil {
			profile = &p
		}
	}

	est, err := s.deps.Assessor.Assess(ctx, assessment.Input{
		ClaimID:          c.ID,
		IncidentType:     c.IncidentType,
		ReplacementValue: robot.ReplacementValue,
		Pre:              pre,
		Post:             post,
		Profile:          profile,
	})
	if errors.Is(err, model.ErrInsufficientEvidence) {
		c.ReviewReasons = append(c.ReviewReasons, ReviewInsufficientEvidence)
		s.logger.Info("claims: routed to review", "claim_id", c.ID, "reason", err)
		return s.advance(ctx, c, EventRequireReview, ReviewInsufficientEvidence, nil)
	}
	if err != nil {
		return c, fmt.Errorf("claims: assess %s: %w", c.ID, err)
	}
	c.DamageEstimates = append(c.DamageEstimates, est)
	c.Priority = assessment.PriorityFor(est.SeverityClass)
	s.deps.Audit.Emit(ctx, model.AuditDamageEstimate, c.ID.String(), est.InputHash, est)

	prior, lineage, err := s.priorPayouts(ctx, c, terms)
	if err != nil {
		return c, err
	}
	preview, err := settlement.Calculate(settlement.Input{
		ClaimID:        c.ID,
		Estimate:       est,
		Terms:          terms,
		IncidentType:   c.IncidentType,
		IncidentDate:   c.IncidentDate,
		PriorPayouts:   prior,
		LineagePayouts: lineage,
		Basis:          model.BasisAutomated,
		DecidedAt:      s.now(),
	})
	if err != nil {
		s.logger.Error("claims: settlement preview failed", "claim_id", c.ID, "error", err)
		return c, fmt.Errorf("claims: assess %s: %w", c.ID, err)
	}

	// Policy-level denials hold regardless of estimate quality, so they are
	// decided before review routing. Below-deductible and already-paid depend
	// on the estimate and only stand once the estimate is trusted.
	if preview.Denied() && !dependsOnEstimate(preview.DeniedReason) {
		return s.autoDeny(ctx, c, preview)
	}
	if reasons := s.reviewReasons(est); len(reasons) > 0 {
		c.ReviewReasons = append(c.ReviewReasons, reasons...)
		return s.advance(ctx, c, EventRequireReview, reasons[0], nil)
	}
	if preview.Denied() {
		return s.autoDeny(ctx, c, preview)
	}
	return s.advance(ctx, c, EventAutoApprove, "", nil)
}

func (s *Service) reviewReasons(est model.DamageEstimate) []string {
	var reasons []string
	if est.Confidence < s.cfg.ConfidenceFloor {
		reasons = append(reasons, ReviewLowConfidence)
	}
	if est.EstimatedAmount.GreaterThan(s.cfg.AutoApprovalCeiling) {
		reasons = append(reasons, ReviewAboveCeiling)
	}
	return reasons
}

func (s *Service) autoDeny(ctx context.Context, c model.Claim, d model.SettlementDecision) (model.Claim, error) {
	c.Decision = &d
	out, err := s.advance(ctx, c, EventAutoDeny, d.DeniedReason, nil)
	if err != nil {
		return model.Claim{}, err
	}
	s.deps.Audit.Emit(ctx, model.AuditSettlementDecision, out.ID.String(), d.InputHash, d)
	return out, nil
}

// priorPayouts sums what the policy already paid in the coverage period,
// excluding any payout for c itself. lineage is the part of that paid to the
// claims c follows up on, which a follow-up may only top up.
func (s *Service) priorPayouts(ctx context.Context, c model.Claim, terms model.CoverageTerms) (prior, lineage decimal.Decimal, err error) {
	payouts, err := s.deps.Payouts.Payouts(ctx, c.PolicyID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("claims: payouts for policy %s: %w", c.PolicyID, err)
	}
	ancestors, err := s.ancestors(ctx, c)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	others := payouts[:0:0]
	var family []model.Payout
	for _, p := range payouts {
		if p.ClaimID == c.ID {
			continue
		}
		others = append(others, p)
		if _, ok := ancestors[p.ClaimID]; ok {
			family = append(family, p)
		}
	}
	return settlement.PeriodPayouts(terms, others), settlement.PeriodPayouts(terms, family), nil
}

// ancestors returns the ids of every claim c was opened as a follow-up of.
func (s *Service) ancestors(ctx context.Context, c model.Claim) (map[uuid.UUID]struct{}, error) {
	seen := make(map[uuid.UUID]struct{})
	for next := c.ParentClaimID; next != nil; {
		if _, ok := seen[*next]; ok || *next == c.ID {
			return nil, fmt.Errorf("%w: claim %s has a cyclic parent chain", model.ErrInvariantViolation, c.ID)
		}
		parent, err := s.deps.Claims.GetClaim(ctx, *next)
		if err != nil {
			return nil, fmt.Errorf("claims: parent claim %s: %w", *next, err)
		}
		seen[parent.ID] = struct{}{}
		next = parent.ParentClaimID
	}
	return seen, nil
}

func dependsOnEstimate(reason string) bool {
	return reason == model.DenialBelowDeductible || reason == model.DenialAlreadyPaid
}
