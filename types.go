package hoken

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/claims"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/premium"
)

// Domain types shared with the engine's internal packages. They are aliases,
// so values flow across the boundary without conversion.
type (
	RobotSpec          = model.RobotSpec
	DiagnosticSnapshot = model.DiagnosticSnapshot
	IncidentHistory    = model.IncidentHistory
	RiskProfile        = model.RiskProfile
	CoverageType       = model.CoverageType
	CoverageTerms      = model.CoverageTerms
	Claim              = model.Claim
	ClaimState         = model.ClaimState
	DamageEstimate     = model.DamageEstimate
	SettlementDecision = model.SettlementDecision
	Authorization      = claims.Authorization
	Tier               = premium.Tier
	Quote              = premium.Quote
	Verdict            = premium.Verdict
)

// Discount tiers for quotes.
const (
	TierNone   = premium.TierNone
	TierBronze = premium.TierBronze
	TierSilver = premium.TierSilver
	TierGold   = premium.TierGold
)

// Errors callers classify with errors.Is.
var (
	ErrValidation          = model.ErrValidation
	ErrNotFound            = model.ErrNotFound
	ErrNotAvailable        = model.ErrNotAvailable
	ErrExternalTimeout     = model.ErrExternalTimeout
	ErrIllegalTransition   = model.ErrIllegalTransition
	ErrClaimClosed         = model.ErrClaimClosed
	ErrPaymentDeclined     = model.ErrPaymentDeclined
	ErrSettlementFailed    = model.ErrSettlementFailed
	ErrComplianceViolation = model.ErrComplianceViolation
)

// SandboxGateway authorizes every payout without moving money. It is meant
// for local runs and tests. Repeated keys return the original reference.
type SandboxGateway struct {
	mu   sync.Mutex
	refs map[string]string
}

// Authorize implements PaymentGateway.
func (g *SandboxGateway) Authorize(_ context.Context, claimID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (Authorization, error) {
	if !amount.IsPositive() {
		return Authorization{}, fmt.Errorf("%w: sandbox refuses non-positive amount %s", ErrPaymentDeclined, amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs == nil {
		g.refs = make(map[string]string)
	}
	ref, ok := g.refs[idempotencyKey]
	if !ok {
		ref = "sandbox-" + claimID.String()[:8] + "-" + fmt.Sprint(len(g.refs)+1)
		g.refs[idempotencyKey] = ref
	}
	return Authorization{Reference: ref}, nil
}
