package settlement

import (
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

var (
	policyID = uuid.MustParse("5d2c9a8b-1e3f-4a6b-8c7d-9e0f1a2b3c4d")
	decided  = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func terms() model.CoverageTerms {
	return model.CoverageTerms{
		PolicyID:       policyID,
		CoverageType:   model.CoveragePhysicalDamage,
		Limit:          d("10000"),
		Deductible:     d("500"),
		EffectiveDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Exclusions:     []model.IncidentType{model.IncidentCyberIntrusion},
	}
}

func in(estimate, prior string) Input {
	return Input{
		ClaimID: uuid.New(),
		Estimate: model.DamageEstimate{
			ID:              uuid.New(),
			EstimatedAmount: d(estimate),
			SeverityClass:   model.SeverityModerate,
			Confidence:      0.9,
		},
		Terms:        terms(),
		IncidentType: model.IncidentCollision,
		IncidentDate: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		PriorPayouts: d(prior),
		Basis:        model.BasisAutomated,
		DecidedAt:    decided,
	}
}

func TestCalculate_FirstClaim(t *testing.T) {
	dec, err := Calculate(in("3000", "0"))
	require.NoError(t, err)

	assert.False(t, dec.Denied())
	assert.Equal(t, "2500.00", dec.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "500.00", dec.AppliedDeductible.StringFixed(2))
	assert.Equal(t, "10000.00", dec.AppliedLimit.StringFixed(2))
	assert.Equal(t, model.BasisAutomated, dec.DecisionBasis)
	assert.Equal(t, decided, dec.DecidedAt)
	require.NotNil(t, dec.EstimateID)
}

func TestCalculate_SecondClaimSamePeriod(t *testing.T) {
	dec, err := Calculate(in("9000", "2500"))
	require.NoError(t, err)
	assert.Equal(t, "7500.00", dec.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "7500.00", dec.AppliedLimit.StringFixed(2))
}

func TestCalculate_CappedByRemainingLimit(t *testing.T) {
	dec, err := Calculate(in("9000", "8000"))
	require.NoError(t, err)
	assert.Equal(t, "2000.00", dec.ApprovedAmount.StringFixed(2))
}

func TestCalculate_Denials(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Input)
		want   string
	}{
		"excluded incident": {
			mutate: func(i *Input) { i.IncidentType = model.IncidentCyberIntrusion },
			want:   model.DenialExcludedIncident,
		},
		"before effective date": {
			mutate: func(i *Input) { i.IncidentDate = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC) },
			want:   model.DenialNotInForce,
		},
		"after expiration": {
			mutate: func(i *Input) { i.IncidentDate = time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC) },
			want:   model.DenialNotInForce,
		},
		"limit exhausted": {
			mutate: func(i *Input) { i.PriorPayouts = d("10000") },
			want:   model.DenialLimitExhausted,
		},
		"below deductible": {
			mutate: func(i *Input) { i.Estimate.EstimatedAmount = d("400") },
			want:   model.DenialBelowDeductible,
		},
		"equal to deductible": {
			mutate: func(i *Input) { i.Estimate.EstimatedAmount = d("500") },
			want:   model.DenialBelowDeductible,
		},
		"exclusion wins over period": {
			mutate: func(i *Input) {
				i.IncidentType = model.IncidentCyberIntrusion
				i.IncidentDate = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			},
			want: model.DenialExcludedIncident,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			i := in("3000", "0")
			tc.mutate(&i)
			dec, err := Calculate(i)
			require.NoError(t, err)
			assert.True(t, dec.Denied())
			assert.Equal(t, tc.want, dec.DeniedReason)
			assert.True(t, dec.ApprovedAmount.IsZero())
		})
	}
}

func TestCalculate_BoundaryDatesInForce(t *testing.T) {
	i := in("3000", "0")
	i.IncidentDate = i.Terms.EffectiveDate
	dec, err := Calculate(i)
	require.NoError(t, err)
	assert.False(t, dec.Denied())

	i.IncidentDate = i.Terms.ExpirationDate
	dec, err = Calculate(i)
	require.NoError(t, err)
	assert.False(t, dec.Denied())
}

func TestCalculate_TotalLossCappedAtLimit(t *testing.T) {
	i := in("50000", "0")
	i.Estimate.SeverityClass = model.SeverityTotalLoss
	dec, err := Calculate(i)
	require.NoError(t, err)
	assert.Equal(t, "10000.00", dec.ApprovedAmount.StringFixed(2))
}

func TestCalculate_FollowUpPaysOnlyTopUp(t *testing.T) {
	// Parent claim was paid 2500 for a 3000 estimate; the dispute re-assessed
	// the same incident at 3500.
	i := in("3500", "2500")
	i.LineagePayouts = d("2500")
	dec, err := Calculate(i)
	require.NoError(t, err)
	assert.False(t, dec.Denied())
	assert.Equal(t, "500.00", dec.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "3000.00", dec.ApprovedAmount.Add(i.LineagePayouts).StringFixed(2),
		"the incident is paid estimate minus one deductible in total")
}

func TestCalculate_FollowUpAlreadyPaid(t *testing.T) {
	i := in("3000", "2500")
	i.LineagePayouts = d("2500")
	dec, err := Calculate(i)
	require.NoError(t, err)
	assert.True(t, dec.Denied())
	assert.Equal(t, model.DenialAlreadyPaid, dec.DeniedReason)
	assert.True(t, dec.ApprovedAmount.IsZero())
}

func TestCalculate_FollowUpStillBoundByRemainingLimit(t *testing.T) {
	// Another claim used most of the period; the top-up is cut to what is left.
	i := in("9500", "9000")
	i.LineagePayouts = d("2500")
	dec, err := Calculate(i)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", dec.ApprovedAmount.StringFixed(2))
}

func TestCalculate_RejectsBadInput(t *testing.T) {
	i := in("3000.001", "0")
	_, err := Calculate(i)
	require.ErrorIs(t, err, model.ErrValidation)

	i = in("3000", "-1")
	_, err = Calculate(i)
	require.ErrorIs(t, err, model.ErrValidation)

	i = in("3000", "100")
	i.LineagePayouts = d("200")
	_, err = Calculate(i)
	require.ErrorIs(t, err, model.ErrValidation, "lineage payouts are part of prior payouts")

	i = in("3000", "0")
	i.Basis = "vibes"
	_, err = Calculate(i)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCalculate_DeterministicHash(t *testing.T) {
	i := in("3000", "0")
	a, err := Calculate(i)
	require.NoError(t, err)
	i.DecidedAt = decided.Add(time.Hour)
	b, err := Calculate(i)
	require.NoError(t, err)
	assert.Equal(t, a.InputHash, b.InputHash, "decision time is not an input")
}

func TestCheckBounds(t *testing.T) {
	require.ErrorIs(t, checkBounds(d("-1"), d("10"), d("10"), d("10")), model.ErrInvariantViolation)
	require.ErrorIs(t, checkBounds(d("11"), d("10"), d("20"), d("20")), model.ErrInvariantViolation)
	require.ErrorIs(t, checkBounds(d("11"), d("20"), d("10"), d("20")), model.ErrInvariantViolation)
	require.ErrorIs(t, checkBounds(d("11"), d("20"), d("20"), d("10")), model.ErrInvariantViolation)
	require.NoError(t, checkBounds(d("10"), d("10"), d("10"), d("10")))
}

func TestPeriodPayouts(t *testing.T) {
	tm := terms()
	payouts := []model.Payout{
		{PolicyID: policyID, Amount: d("1000"), IncidentDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PolicyID: policyID, Amount: d("250.50"), IncidentDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{PolicyID: policyID, Amount: d("9999"), IncidentDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
		{PolicyID: uuid.New(), Amount: d("7777"), IncidentDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, "1250.50", PeriodPayouts(tm, payouts).StringFixed(2))
}

func TestCalculate_BoundProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	properties.Property("0 ≤ approved ≤ min(estimate − deductible, limit − prior)", prop.ForAll(
		func(estCents, priorCents, dedCents int64) bool {
			i := in("0", "0")
			i.Estimate.EstimatedAmount = decimal.New(estCents, -2)
			i.PriorPayouts = decimal.New(priorCents, -2)
			i.Terms.Deductible = decimal.New(dedCents, -2)
			dec, err := Calculate(i)
			if err != nil {
				return false
			}
			gross := i.Estimate.EstimatedAmount.Sub(i.Terms.Deductible)
			remaining := i.Terms.Limit.Sub(i.PriorPayouts)
			bound := decimal.Max(decimal.Zero, decimal.Min(gross, remaining))
			return !dec.ApprovedAmount.IsNegative() && dec.ApprovedAmount.LessThanOrEqual(bound)
		},
		gen.Int64Range(0, 5_000_000),
		gen.Int64Range(0, 1_500_000),
		gen.Int64Range(0, 200_000),
	))

	properties.TestingRun(t)
}
