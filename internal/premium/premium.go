// Package premium prices coverage from a risk profile.
package premium

import (
	"context"
	"fmt"
	"maps"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/model"
)

// Tier is a volume or partnership discount tier.
type Tier string

const (
	TierNone   Tier = "none"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

var tierDiscount = map[Tier]decimal.Decimal{
	TierNone:   decimal.Zero,
	TierBronze: decimal.RequireFromString("0.05"),
	TierSilver: decimal.RequireFromString("0.10"),
	TierGold:   decimal.RequireFromString("0.15"),
}

// Discount returns the fractional discount for a tier.
func (t Tier) Discount() (decimal.Decimal, bool) {
	d, ok := tierDiscount[t]
	return d, ok
}

// DefaultBaseRates are annual base premiums per coverage type.
func DefaultBaseRates() map[model.CoverageType]decimal.Decimal {
	return map[model.CoverageType]decimal.Decimal{
		model.CoveragePhysicalDamage:       decimal.NewFromInt(500),
		model.CoverageLiability:            decimal.NewFromInt(350),
		model.CoverageCyberSecurity:        decimal.NewFromInt(400),
		model.CoverageBusinessInterruption: decimal.NewFromInt(300),
		model.CoverageProductRecall:        decimal.NewFromInt(250),
		model.CoverageComprehensive:        decimal.NewFromInt(1200),
	}
}

// Verdict is a compliance checker's answer for a set of terms.
type Verdict struct {
	Passed bool
	Reason string
}

// ComplianceChecker validates coverage terms against a jurisdiction's rules.
type ComplianceChecker interface {
	Validate(ctx context.Context, terms model.CoverageTerms, jurisdiction string) (Verdict, error)
}

// Quote is a priced coverage offer.
type Quote struct {
	RobotID        string             `json:"robot_id"`
	ProfileVersion int                `json:"profile_version"`
	CoverageType   model.CoverageType `json:"coverage_type"`
	Tier           Tier               `json:"tier"`
	BaseRate       decimal.Decimal    `json:"base_rate"`
	Multiplier     decimal.Decimal    `json:"multiplier"`
	Discount       decimal.Decimal    `json:"discount"`
	Premium        decimal.Decimal    `json:"premium"`
	Currency       string             `json:"currency"`
	Bindable       bool               `json:"bindable"`
}

// Calculator prices coverage. It holds no mutable state.
type Calculator struct {
	rates    map[model.CoverageType]decimal.Decimal
	currency string
}

// NewCalculator creates a calculator. A nil rates map uses DefaultBaseRates.
func NewCalculator(rates map[model.CoverageType]decimal.Decimal, currency string) *Calculator {
	if rates == nil {
		rates = DefaultBaseRates()
	}
	if currency == "" {
		currency = "USD"
	}
	return &Calculator{rates: maps.Clone(rates), currency: currency}
}

// Premium returns baseRate × multiplier × (1 − discount), banker's-rounded to cents.
func (c *Calculator) Premium(profile model.RiskProfile, coverage model.CoverageType, tier Tier) (Quote, error) {
	base, ok := c.rates[coverage]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q has no base rate", model.ErrUnsupportedCoverageType, coverage)
	}
	discount, ok := tier.Discount()
	if !ok {
		return Quote{}, fmt.Errorf("%w: unknown tier %q", model.ErrValidation, tier)
	}
	if profile.PremiumMultiplier.IsNegative() {
		return Quote{}, fmt.Errorf("%w: negative premium multiplier %s", model.ErrInvariantViolation, profile.PremiumMultiplier)
	}
	amount := base.Mul(profile.PremiumMultiplier).Mul(decimal.NewFromInt(1).Sub(discount)).RoundBank(2)
	return Quote{
		RobotID:        profile.RobotID.String(),
		ProfileVersion: profile.Version,
		CoverageType:   coverage,
		Tier:           tier,
		BaseRate:       base,
		Multiplier:     profile.PremiumMultiplier,
		Discount:       discount,
		Premium:        amount,
		Currency:       c.currency,
	}, nil
}

// BindableQuote prices the terms and asks the compliance checker whether the
// result may be bound. A violation is returned as ErrComplianceViolation with
// the checker's reason; the quote is still returned for display. Without a
// checker nothing can vouch for the terms, so the quote is returned unbindable
// with ErrNotAvailable.
func (c *Calculator) BindableQuote(ctx context.Context, checker ComplianceChecker, profile model.RiskProfile, terms model.CoverageTerms, tier Tier) (Quote, error) {
	if err := terms.Validate(); err != nil {
		return Quote{}, err
	}
	q, err := c.Premium(profile, terms.CoverageType, tier)
	if err != nil {
		return Quote{}, err
	}
	if checker == nil {
		return q, fmt.Errorf("%w: no compliance checker configured", model.ErrNotAvailable)
	}
	verdict, err := checker.Validate(ctx, terms, terms.Jurisdiction)
	if err != nil {
		return q, fmt.Errorf("premium: compliance check: %w", err)
	}
	if !verdict.Passed {
		return q, fmt.Errorf("%w: %s", model.ErrComplianceViolation, verdict.Reason)
	}
	q.Bindable = true
	return q, nil
}
