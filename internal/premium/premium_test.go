package premium

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hoken/internal/model"
)

func profile(mult string) model.RiskProfile {
	return model.RiskProfile{
		RobotID:           uuid.MustParse("0b8f7a4e-5f8e-4a8e-9c1e-7b9e8f6a5d40"),
		Version:           3,
		RiskScore:         35,
		PremiumMultiplier: decimal.RequireFromString(mult),
	}
}

func terms(ct model.CoverageType) model.CoverageTerms {
	return model.CoverageTerms{
		PolicyID:       uuid.New(),
		CoverageType:   ct,
		Limit:          decimal.NewFromInt(10000),
		Deductible:     decimal.NewFromInt(500),
		EffectiveDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		Jurisdiction:   "US",
	}
}

type stubChecker struct {
	verdict Verdict
	err     error
	got     string
}

func (s *stubChecker) Validate(_ context.Context, _ model.CoverageTerms, jurisdiction string) (Verdict, error) {
	s.got = jurisdiction
	return s.verdict, s.err
}

func TestPremium_BronzePhysicalDamage(t *testing.T) {
	c := NewCalculator(nil, "")
	q, err := c.Premium(profile("1.0"), model.CoveragePhysicalDamage, TierBronze)
	require.NoError(t, err)

	assert.Equal(t, "475.00", q.Premium.StringFixed(2))
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, 3, q.ProfileVersion)
	assert.False(t, q.Bindable)
}

func TestPremium_Tiers(t *testing.T) {
	c := NewCalculator(nil, "EUR")
	cases := map[Tier]string{
		TierNone:   "600.00",
		TierBronze: "570.00",
		TierSilver: "540.00",
		TierGold:   "510.00",
	}
	for tier, want := range cases {
		q, err := c.Premium(profile("1.5"), model.CoverageCyberSecurity, tier)
		require.NoError(t, err, tier)
		assert.Equal(t, want, q.Premium.StringFixed(2), tier)
	}
}

func TestPremium_BankersRounding(t *testing.T) {
	rates := map[model.CoverageType]decimal.Decimal{
		model.CoverageLiability: decimal.RequireFromString("0.25"),
	}
	c := NewCalculator(rates, "USD")

	// 0.25 × 0.5 = 0.125 rounds to the even cent.
	q, err := c.Premium(profile("0.5"), model.CoverageLiability, TierNone)
	require.NoError(t, err)
	assert.Equal(t, "0.12", q.Premium.StringFixed(2))

	// 0.25 × 1.5 = 0.375 rounds up to the even cent.
	q, err = c.Premium(profile("1.5"), model.CoverageLiability, TierNone)
	require.NoError(t, err)
	assert.Equal(t, "0.38", q.Premium.StringFixed(2))
}

func TestPremium_Errors(t *testing.T) {
	c := NewCalculator(map[model.CoverageType]decimal.Decimal{
		model.CoverageLiability: decimal.NewFromInt(350),
	}, "USD")

	_, err := c.Premium(profile("1.0"), model.CoverageProductRecall, TierNone)
	require.ErrorIs(t, err, model.ErrUnsupportedCoverageType)

	_, err = c.Premium(profile("1.0"), model.CoverageLiability, Tier("platinum"))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = c.Premium(profile("-1"), model.CoverageLiability, TierNone)
	require.ErrorIs(t, err, model.ErrInvariantViolation)
}

func TestPremium_CalculatorCopiesRates(t *testing.T) {
	rates := DefaultBaseRates()
	c := NewCalculator(rates, "USD")
	delete(rates, model.CoveragePhysicalDamage)

	_, err := c.Premium(profile("1.0"), model.CoveragePhysicalDamage, TierNone)
	require.NoError(t, err)
}

func TestBindableQuote(t *testing.T) {
	ctx := context.Background()
	c := NewCalculator(nil, "USD")

	t.Run("pass", func(t *testing.T) {
		chk := &stubChecker{verdict: Verdict{Passed: true}}
		q, err := c.BindableQuote(ctx, chk, profile("1.0"), terms(model.CoveragePhysicalDamage), TierBronze)
		require.NoError(t, err)
		assert.True(t, q.Bindable)
		assert.Equal(t, "US", chk.got)
	})

	t.Run("violation", func(t *testing.T) {
		chk := &stubChecker{verdict: Verdict{Reason: "deductible below statutory minimum"}}
		q, err := c.BindableQuote(ctx, chk, profile("1.0"), terms(model.CoveragePhysicalDamage), TierBronze)
		require.ErrorIs(t, err, model.ErrComplianceViolation)
		assert.Contains(t, err.Error(), "statutory minimum")
		assert.False(t, q.Bindable)
		assert.Equal(t, "475.00", q.Premium.StringFixed(2))
	})

	t.Run("no checker", func(t *testing.T) {
		q, err := c.BindableQuote(ctx, nil, profile("1.0"), terms(model.CoveragePhysicalDamage), TierBronze)
		require.ErrorIs(t, err, model.ErrNotAvailable)
		assert.False(t, q.Bindable)
		assert.Equal(t, "475.00", q.Premium.StringFixed(2))
	})

	t.Run("checker error", func(t *testing.T) {
		boom := errors.New("rules service down")
		_, err := c.BindableQuote(ctx, &stubChecker{err: boom}, profile("1.0"), terms(model.CoveragePhysicalDamage), TierNone)
		require.ErrorIs(t, err, boom)
	})

	t.Run("invalid terms", func(t *testing.T) {
		bad := terms(model.CoveragePhysicalDamage)
		bad.Jurisdiction = "usa!"
		_, err := c.BindableQuote(ctx, nil, profile("1.0"), bad, TierNone)
		require.ErrorIs(t, err, model.ErrValidation)
	})
}

func TestPremium_MonotonicInMultiplier(t *testing.T) {
	c := NewCalculator(nil, "USD")
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("a larger multiplier never yields a cheaper premium", prop.ForAll(
		func(a, b float64) bool {
			lo, hi := min(a, b), max(a, b)
			pl := profile("0")
			pl.PremiumMultiplier = decimal.NewFromFloat(lo)
			ph := profile("0")
			ph.PremiumMultiplier = decimal.NewFromFloat(hi)
			ql, errL := c.Premium(pl, model.CoverageComprehensive, TierSilver)
			qh, errH := c.Premium(ph, model.CoverageComprehensive, TierSilver)
			return errL == nil && errH == nil && ql.Premium.LessThanOrEqual(qh.Premium)
		},
		gen.Float64Range(0, 5),
		gen.Float64Range(0, 5),
	))

	properties.TestingRun(t)
}
