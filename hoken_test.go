package hoken_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hoken"
	"github.com/ashita-ai/hoken/internal/claims"
	"github.com/ashita-ai/hoken/internal/config"
	"github.com/ashita-ai/hoken/internal/model"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(t *testing.T, opts ...hoken.Option) *hoken.Engine {
	t.Helper()
	cfg := config.Defaults()
	cfg.SettlementBaseDelay = time.Millisecond
	cfg.SettlementMaxDelay = 2 * time.Millisecond
	base := []hoken.Option{
		hoken.WithConfig(cfg),
		hoken.WithLogger(discard()),
		hoken.WithClock(func() time.Time { return testNow }),
	}
	eng, err := hoken.New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func testRobot() hoken.RobotSpec {
	return hoken.RobotSpec{
		RobotID:          uuid.New(),
		Manufacturer:     "Kawada",
		Type:             model.RobotTypeIndustrial,
		ReplacementValue: decimal.NewFromInt(80000),
	}
}

func testTerms() hoken.CoverageTerms {
	return hoken.CoverageTerms{
		PolicyID:       uuid.New(),
		CoverageType:   model.CoveragePhysicalDamage,
		Limit:          decimal.NewFromInt(10000),
		Deductible:     decimal.NewFromInt(500),
		EffectiveDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.ConfidenceFloor = 2
	_, err := hoken.New(context.Background(), hoken.WithConfig(cfg), hoken.WithLogger(discard()))
	require.Error(t, err)
}

func TestClaimsUnavailableWithoutGateway(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Claims()
	require.ErrorIs(t, err, hoken.ErrNotAvailable)
}

func TestRegisterRobotValidates(t *testing.T) {
	eng := newEngine(t)
	spec := testRobot()
	spec.Manufacturer = ""
	err := eng.RegisterRobot(context.Background(), spec)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestScoreAndQuote(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	robot := testRobot()
	require.NoError(t, eng.RegisterRobot(ctx, robot))

	_, err := eng.Quote(ctx, robot.RobotID, model.CoveragePhysicalDamage, hoken.TierNone)
	require.ErrorIs(t, err, hoken.ErrNotFound, "no profile yet")

	p1, err := eng.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Version)
	assert.Equal(t, testNow, p1.ComputedAt)

	p2, err := eng.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{ClaimCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Version)

	history, err := eng.RiskHistory(ctx, robot.RobotID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, p1.InputSnapshotHash, history[0].InputSnapshotHash)

	q, err := eng.Quote(ctx, robot.RobotID, model.CoveragePhysicalDamage, hoken.TierNone)
	require.NoError(t, err)
	assert.Equal(t, 2, q.ProfileVersion)
	assert.Equal(t, "USD", q.Currency)
	assert.True(t, q.Premium.IsPositive())

	gold, err := eng.Quote(ctx, robot.RobotID, model.CoveragePhysicalDamage, hoken.TierGold)
	require.NoError(t, err)
	assert.True(t, gold.Premium.LessThan(q.Premium), "gold tier is discounted")
}

type denyAll struct{}

type allowAll struct{}

func (allowAll) Validate(context.Context, hoken.CoverageTerms, string) (hoken.Verdict, error) {
	return hoken.Verdict{Passed: true}, nil
}

func (denyAll) Validate(context.Context, hoken.CoverageTerms, string) (hoken.Verdict, error) {
	return hoken.Verdict{Passed: false, Reason: "not licensed"}, nil
}

func TestBindableQuoteUsesChecker(t *testing.T) {
	ctx := context.Background()
	robot := testRobot()

	open := newEngine(t)
	require.NoError(t, open.RegisterRobot(ctx, robot))
	_, err := open.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{})
	require.NoError(t, err)
	q, err := open.BindableQuote(ctx, robot.RobotID, testTerms(), hoken.TierNone)
	require.ErrorIs(t, err, hoken.ErrNotAvailable, "no checker means nothing vouched for the terms")
	assert.False(t, q.Bindable)
	assert.True(t, q.Premium.IsPositive())

	lenient := newEngine(t, hoken.WithComplianceChecker(allowAll{}))
	require.NoError(t, lenient.RegisterRobot(ctx, robot))
	_, err = lenient.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{})
	require.NoError(t, err)
	q, err = lenient.BindableQuote(ctx, robot.RobotID, testTerms(), hoken.TierNone)
	require.NoError(t, err)
	assert.True(t, q.Bindable)

	strict := newEngine(t, hoken.WithComplianceChecker(denyAll{}))
	require.NoError(t, strict.RegisterRobot(ctx, robot))
	_, err = strict.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{})
	require.NoError(t, err)
	_, err = strict.BindableQuote(ctx, robot.RobotID, testTerms(), hoken.TierNone)
	require.ErrorIs(t, err, hoken.ErrComplianceViolation)
}

func TestClaimToSettlement(t *testing.T) {
	gw := &hoken.SandboxGateway{}
	eng := newEngine(t, hoken.WithPaymentGateway(gw))
	ctx := context.Background()

	robot, terms := testRobot(), testTerms()
	require.NoError(t, eng.RegisterRobot(ctx, robot))
	require.NoError(t, eng.BindPolicy(ctx, terms))
	_, err := eng.ScoreRobot(ctx, robot.RobotID, nil, hoken.IncidentHistory{})
	require.NoError(t, err)

	svc, err := eng.Claims()
	require.NoError(t, err)
	c, err := svc.Create(ctx, claims.NewClaim{
		PolicyID:     terms.PolicyID,
		RobotID:      robot.RobotID,
		IncidentType: model.IncidentCollision,
		IncidentDate: time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC),
		Description:  "arm struck a pallet rack during a high-speed pick",
		PreIncident: &hoken.DiagnosticSnapshot{Subsystems: map[model.Subsystem]float64{
			model.SubsystemActuators: 0.9, model.SubsystemSensors: 0.95, model.SubsystemCompute: 1, model.SubsystemChassis: 0.9,
		}},
		PostIncident: &hoken.DiagnosticSnapshot{Subsystems: map[model.Subsystem]float64{
			model.SubsystemActuators: 0.5, model.SubsystemSensors: 0.95, model.SubsystemCompute: 1, model.SubsystemChassis: 0.7,
		}},
	})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, c.ID)
	require.NoError(t, err)
	c, err = svc.Assess(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateApproved, c.State)

	dec, err := svc.Settle(ctx, c.ID, c.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, "10000.00", dec.ApprovedAmount.StringFixed(2))
	assert.NotEmpty(t, dec.AuthorizationRef)

	again, err := svc.Settle(ctx, c.ID, c.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, dec.AuthorizationRef, again.AuthorizationRef)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSettled, got.State)
}

func TestSandboxGateway(t *testing.T) {
	gw := &hoken.SandboxGateway{}
	ctx := context.Background()
	id := uuid.New()

	a, err := gw.Authorize(ctx, id, decimal.NewFromInt(10), "k1")
	require.NoError(t, err)
	b, err := gw.Authorize(ctx, id, decimal.NewFromInt(10), "k1")
	require.NoError(t, err)
	assert.Equal(t, a.Reference, b.Reference)

	c, err := gw.Authorize(ctx, id, decimal.NewFromInt(10), "k2")
	require.NoError(t, err)
	assert.NotEqual(t, a.Reference, c.Reference)

	_, err = gw.Authorize(ctx, id, decimal.Zero, "k3")
	require.ErrorIs(t, err, hoken.ErrPaymentDeclined)
}
