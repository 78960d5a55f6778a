package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/storage"
)

// store is the surface shared by storage.DB and storage.MemoryStore.
type store interface {
	CreateClaim(ctx context.Context, c model.Claim) error
	GetClaim(ctx context.Context, id uuid.UUID) (model.Claim, error)
	UpdateClaim(ctx context.Context, c model.Claim) (model.Claim, error)
	CreateFollowUp(ctx context.Context, original, followUp model.Claim) (model.Claim, error)
	ClaimsByPolicy(ctx context.Context, policyID uuid.UUID) ([]model.Claim, error)
	Payouts(ctx context.Context, policyID uuid.UUID) ([]model.Payout, error)
	CommitSettlement(ctx context.Context, c model.Claim, p model.Payout) (model.Claim, error)
	Begin(ctx context.Context, key, requestHash string) (model.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, response any) error
	Clear(ctx context.Context, key string) error
	PutRobot(ctx context.Context, spec model.RobotSpec) error
	Robot(ctx context.Context, robotID uuid.UUID) (model.RobotSpec, error)
	PutTerms(ctx context.Context, terms model.CoverageTerms) error
	Terms(ctx context.Context, policyID uuid.UUID) (model.CoverageTerms, error)
	AppendProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	LatestProfile(ctx context.Context, robotID uuid.UUID) (model.RiskProfile, error)
	ProfileVersions(ctx context.Context, robotID uuid.UUID) ([]model.RiskProfile, error)
}

var (
	_ store = (*storage.DB)(nil)
	_ store = (*storage.MemoryStore)(nil)
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func seedPolicy(t *testing.T, s store) model.CoverageTerms {
	t.Helper()
	terms := model.CoverageTerms{
		PolicyID:       uuid.New(),
		CoverageType:   model.CoveragePhysicalDamage,
		Limit:          decimal.NewFromInt(10000),
		Deductible:     decimal.NewFromInt(500),
		EffectiveDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Exclusions:     []model.IncidentType{model.IncidentCyberIntrusion},
	}
	require.NoError(t, s.PutTerms(context.Background(), terms))
	return terms
}

func newClaim(policyID uuid.UUID) model.Claim {
	return model.Claim{
		ID:             uuid.New(),
		PolicyID:       policyID,
		RobotID:        uuid.New(),
		State:          model.StateDraft,
		Priority:       model.PriorityLow,
		IncidentType:   model.IncidentCollision,
		IncidentDate:   testNow.Add(-48 * time.Hour),
		ReportedDate:   testNow,
		Description:    "arm struck a pallet rack during a pick",
		IdempotencyKey: uuid.NewString(),
		Version:        1,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func runStoreContract(t *testing.T, s store) {
	ctx := context.Background()

	t.Run("claim compare-and-swap", func(t *testing.T) {
		terms := seedPolicy(t, s)
		c := newClaim(terms.PolicyID)
		require.NoError(t, s.CreateClaim(ctx, c))
		require.ErrorIs(t, s.CreateClaim(ctx, c), model.ErrValidation)

		got, err := s.GetClaim(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Description, got.Description)
		assert.Equal(t, 1, got.Version)

		got.State = model.StateSubmitted
		updated, err := s.UpdateClaim(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		// A writer still holding version 1 loses.
		got.Description = "stale write"
		_, err = s.UpdateClaim(ctx, got)
		require.ErrorIs(t, err, model.ErrConcurrentUpdate)

		reread, err := s.GetClaim(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateSubmitted, reread.State)
		assert.Equal(t, c.Description, reread.Description)
	})

	t.Run("missing entities", func(t *testing.T) {
		_, err := s.GetClaim(ctx, uuid.New())
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.UpdateClaim(ctx, newClaim(uuid.New()))
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.Terms(ctx, uuid.New())
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.Robot(ctx, uuid.New())
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.LatestProfile(ctx, uuid.New())
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("follow-up is atomic with original update", func(t *testing.T) {
		terms := seedPolicy(t, s)
		c := newClaim(terms.PolicyID)
		require.NoError(t, s.CreateClaim(ctx, c))

		parent := c.ID
		fu := newClaim(terms.PolicyID)
		fu.ParentClaimID = &parent
		fu.State = model.StateSubmitted

		c.State = model.StateDisputed
		out, err := s.CreateFollowUp(ctx, c, fu)
		require.NoError(t, err)
		assert.Equal(t, model.StateDisputed, out.State)

		got, err := s.GetClaim(ctx, fu.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ParentClaimID)
		assert.Equal(t, parent, *got.ParentClaimID)

		// Stale original: neither write happens.
		fu2 := newClaim(terms.PolicyID)
		_, err = s.CreateFollowUp(ctx, c, fu2)
		require.ErrorIs(t, err, model.ErrConcurrentUpdate)
		_, err = s.GetClaim(ctx, fu2.ID)
		require.ErrorIs(t, err, model.ErrNotFound)

		list, err := s.ClaimsByPolicy(ctx, terms.PolicyID)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("commit settlement records one payout", func(t *testing.T) {
		terms := seedPolicy(t, s)
		c := newClaim(terms.PolicyID)
		c.State = model.StateApproved
		require.NoError(t, s.CreateClaim(ctx, c))

		p := model.Payout{
			ClaimID:          c.ID,
			PolicyID:         terms.PolicyID,
			Amount:           decimal.RequireFromString("2500.00"),
			IdempotencyKey:   c.IdempotencyKey,
			AuthorizationRef: "auth-1",
			IncidentDate:     c.IncidentDate,
			PaidAt:           testNow,
		}
		c.State = model.StateSettled
		out, err := s.CommitSettlement(ctx, c, p)
		require.NoError(t, err)
		assert.Equal(t, model.StateSettled, out.State)

		payouts, err := s.Payouts(ctx, terms.PolicyID)
		require.NoError(t, err)
		require.Len(t, payouts, 1)
		assert.Equal(t, "2500.00", payouts[0].Amount.StringFixed(2))
		assert.Equal(t, "auth-1", payouts[0].AuthorizationRef)

		_, err = s.CommitSettlement(ctx, out, p)
		require.ErrorIs(t, err, storage.ErrDuplicatePayout)
	})

	t.Run("commit settlement enforces the period limit", func(t *testing.T) {
		terms := seedPolicy(t, s)
		settle := func(amount string) (model.Claim, error) {
			c := newClaim(terms.PolicyID)
			c.State = model.StateApproved
			require.NoError(t, s.CreateClaim(ctx, c))
			c.State = model.StateSettled
			return s.CommitSettlement(ctx, c, model.Payout{
				ClaimID:          c.ID,
				PolicyID:         terms.PolicyID,
				Amount:           decimal.RequireFromString(amount),
				IdempotencyKey:   c.IdempotencyKey,
				AuthorizationRef: "auth-" + amount,
				IncidentDate:     c.IncidentDate,
				PaidAt:           testNow,
			})
		}

		_, err := settle("7000.00")
		require.NoError(t, err)
		_, err = settle("3000.00")
		require.NoError(t, err, "exactly reaching the limit is allowed")

		over, err := settle("0.01")
		require.ErrorIs(t, err, model.ErrInvariantViolation)
		require.ErrorIs(t, err, storage.ErrLimitExceeded)
		assert.Equal(t, model.Claim{}, over)

		payouts, err := s.Payouts(ctx, terms.PolicyID)
		require.NoError(t, err)
		assert.Len(t, payouts, 2)
		list, err := s.ClaimsByPolicy(ctx, terms.PolicyID)
		require.NoError(t, err)
		approved := 0
		for _, c := range list {
			if c.State == model.StateApproved {
				approved++
			}
		}
		assert.Equal(t, 1, approved, "the rejected claim is left as it was")
	})

	t.Run("idempotency begin complete replay", func(t *testing.T) {
		key := "settle-" + uuid.NewString()
		rec, err := s.Begin(ctx, key, "hash-a")
		require.NoError(t, err)
		assert.False(t, rec.Completed)

		_, err = s.Begin(ctx, key, "hash-a")
		require.ErrorIs(t, err, model.ErrIdempotencyInFlight)

		require.NoError(t, s.Complete(ctx, key, map[string]string{"approved_amount": "2500.00"}))
		replay, err := s.Begin(ctx, key, "hash-a")
		require.NoError(t, err)
		assert.True(t, replay.Completed)
		assert.JSONEq(t, `{"approved_amount":"2500.00"}`, string(replay.Response))

		_, err = s.Begin(ctx, key, "hash-b")
		require.ErrorIs(t, err, model.ErrIdempotencyMismatch)

		// Clear never removes a completed record.
		require.NoError(t, s.Clear(ctx, key))
		replay, err = s.Begin(ctx, key, "hash-a")
		require.NoError(t, err)
		assert.True(t, replay.Completed)
	})

	t.Run("idempotency clear allows retry", func(t *testing.T) {
		key := "settle-" + uuid.NewString()
		_, err := s.Begin(ctx, key, "hash-a")
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx, key))
		rec, err := s.Begin(ctx, key, "hash-a")
		require.NoError(t, err)
		assert.False(t, rec.Completed)
	})

	t.Run("robots and terms round trip", func(t *testing.T) {
		spec := model.RobotSpec{
			RobotID:          uuid.New(),
			Manufacturer:     "Kawada",
			Type:             model.RobotTypeIndustrial,
			Certifications:   []string{"ISO-10218"},
			ReplacementValue: decimal.NewFromInt(80000),
		}
		require.NoError(t, s.PutRobot(ctx, spec))
		got, err := s.Robot(ctx, spec.RobotID)
		require.NoError(t, err)
		assert.Equal(t, spec.Manufacturer, got.Manufacturer)
		assert.True(t, spec.ReplacementValue.Equal(got.ReplacementValue))

		terms := seedPolicy(t, s)
		gotTerms, err := s.Terms(ctx, terms.PolicyID)
		require.NoError(t, err)
		assert.True(t, gotTerms.Limit.Equal(terms.Limit))
		assert.True(t, gotTerms.Excludes(model.IncidentCyberIntrusion))
		assert.True(t, gotTerms.EffectiveDate.Equal(terms.EffectiveDate))

		bad := terms
		bad.CoverageType = ""
		require.ErrorIs(t, s.PutTerms(ctx, bad), model.ErrValidation)
	})

	t.Run("profiles are versioned", func(t *testing.T) {
		robotID := uuid.New()
		var wg sync.WaitGroup
		for i := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AppendProfile(ctx, model.RiskProfile{
					RobotID:    robotID,
					RiskScore:  float64(10 * (i + 1)),
					RiskLevel:  model.RiskLevelLow,
					ComputedAt: testNow,
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		versions, err := s.ProfileVersions(ctx, robotID)
		require.NoError(t, err)
		require.Len(t, versions, 5)
		for i, p := range versions {
			assert.Equal(t, i+1, p.Version)
		}
		latest, err := s.LatestProfile(ctx, robotID)
		require.NoError(t, err)
		assert.Equal(t, 5, latest.Version)
	})
}
