package model

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CoverageType is the kind of coverage a policy provides.
type CoverageType string

const (
	CoveragePhysicalDamage       CoverageType = "physical_damage"
	CoverageLiability            CoverageType = "liability"
	CoverageCyberSecurity        CoverageType = "cyber_security"
	CoverageBusinessInterruption CoverageType = "business_interruption"
	CoverageProductRecall        CoverageType = "product_recall"
	CoverageComprehensive        CoverageType = "comprehensive"
)

// MaxAmount is the largest monetary amount accepted anywhere in the engine.
var MaxAmount = decimal.NewFromInt(10_000_000)

var jurisdictionPattern = regexp.MustCompile(`^[A-Z]{2,3}(-[A-Z]{2,3})?$`)

// CoverageTerms are the read-only terms attached to a policy record.
type CoverageTerms struct {
	PolicyID       uuid.UUID       `json:"policy_id"`
	CoverageType   CoverageType    `json:"coverage_type"`
	Limit          decimal.Decimal `json:"limit"`
	Deductible     decimal.Decimal `json:"deductible"`
	EffectiveDate  time.Time       `json:"effective_date"`
	ExpirationDate time.Time       `json:"expiration_date"`
	Exclusions     []IncidentType  `json:"exclusions,omitempty"`
	Jurisdiction   string          `json:"jurisdiction,omitempty"`
}

// InForce reports whether the policy covered the given date (inclusive on both ends).
func (t CoverageTerms) InForce(at time.Time) bool {
	return !at.Before(t.EffectiveDate) && !at.After(t.ExpirationDate)
}

// Excludes reports whether the incident type is excluded by the terms.
func (t CoverageTerms) Excludes(it IncidentType) bool {
	return slices.Contains(t.Exclusions, it)
}

// Validate checks the terms are internally consistent.
func (t CoverageTerms) Validate() error {
	if t.CoverageType == "" {
		return fmt.Errorf("%w: coverage type is required", ErrValidation)
	}
	if err := ValidateAmount("limit", t.Limit); err != nil {
		return err
	}
	if err := ValidateAmount("deductible", t.Deductible); err != nil {
		return err
	}
	if !t.Limit.IsPositive() {
		return fmt.Errorf("%w: limit must be positive", ErrValidation)
	}
	if !t.ExpirationDate.After(t.EffectiveDate) {
		return fmt.Errorf("%w: expiration date must be after effective date", ErrValidation)
	}
	if t.Jurisdiction != "" && !jurisdictionPattern.MatchString(t.Jurisdiction) {
		return fmt.Errorf("%w: jurisdiction %q must look like US, CA or EU-DE", ErrValidation, t.Jurisdiction)
	}
	return nil
}

// ValidateAmount enforces the monetary rules shared by every amount:
// non-negative, at most two decimal places, at most MaxAmount.
func ValidateAmount(name string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s must be non-negative", ErrValidation, name)
	}
	if !d.Equal(d.Round(2)) {
		return fmt.Errorf("%w: %s cannot have more than 2 decimal places", ErrValidation, name)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds maximum allowed", ErrValidation, name)
	}
	return nil
}

// Payout is a single settled payment recorded against a policy.
// It counts toward the coverage period containing IncidentDate.
type Payout struct {
	ClaimID          uuid.UUID       `json:"claim_id"`
	PolicyID         uuid.UUID       `json:"policy_id"`
	Amount           decimal.Decimal `json:"amount"`
	IdempotencyKey   string          `json:"idempotency_key"`
	AuthorizationRef string          `json:"authorization_ref"`
	IncidentDate     time.Time       `json:"incident_date"`
	PaidAt           time.Time       `json:"paid_at"`
}
