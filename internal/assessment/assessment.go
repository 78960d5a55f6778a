// Package assessment estimates damage from pre- and post-incident diagnostic
// snapshots using per-incident-type severity tables.
package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/telemetry"
)

// Confidence penalties.
const (
	penaltyMissingBaseline  = 0.2
	penaltyMissingSubsystem = 0.1
	penaltyContradiction    = 0.3
	penaltyNoDelta          = 0.3
	plausibilityAdjustment  = 0.1
)

// Severity thresholds as a fraction of replacement value.
var (
	thresholdTotalLoss = decimal.RequireFromString("0.75")
	thresholdSevere    = decimal.RequireFromString("0.40")
	thresholdModerate  = decimal.RequireFromString("0.10")
)

// SeverityTable maps a unit of health lost in each subsystem to a fraction of
// replacement value. Primary subsystems are the ones an incident of this type
// is expected to damage; a zero delta there contradicts the report.
type SeverityTable struct {
	CostFraction map[model.Subsystem]decimal.Decimal
	Primary      []model.Subsystem
}

func table(primary []model.Subsystem, fractions map[model.Subsystem]string) SeverityTable {
	t := SeverityTable{CostFraction: make(map[model.Subsystem]decimal.Decimal, len(fractions)), Primary: primary}
	for sub, f := range fractions {
		t.CostFraction[sub] = decimal.RequireFromString(f)
	}
	return t
}

// DefaultTables returns the built-in severity tables.
func DefaultTables() map[model.IncidentType]SeverityTable {
	a, s, c, ch := model.SubsystemActuators, model.SubsystemSensors, model.SubsystemCompute, model.SubsystemChassis
	return map[model.IncidentType]SeverityTable{
		model.IncidentCollision:      table([]model.Subsystem{a, ch}, map[model.Subsystem]string{a: "0.35", ch: "0.30", s: "0.15", c: "0.10"}),
		model.IncidentFall:           table([]model.Subsystem{ch, a}, map[model.Subsystem]string{ch: "0.35", a: "0.30", s: "0.20", c: "0.10"}),
		model.IncidentLiquidIngress:  table([]model.Subsystem{c, s}, map[model.Subsystem]string{c: "0.45", s: "0.30", a: "0.15", ch: "0.05"}),
		model.IncidentCyberIntrusion: table([]model.Subsystem{c}, map[model.Subsystem]string{c: "0.40", s: "0.10"}),
		model.IncidentWearFailure:    table([]model.Subsystem{a}, map[model.Subsystem]string{a: "0.40", ch: "0.15", s: "0.10"}),
		model.IncidentElectrical:     table([]model.Subsystem{c}, map[model.Subsystem]string{c: "0.40", a: "0.25", s: "0.20"}),
		model.IncidentFire:           table([]model.Subsystem{ch, c}, map[model.Subsystem]string{ch: "0.40", c: "0.35", a: "0.25", s: "0.25"}),
	}
}

// Input is one assessment attempt. Profile is optional.
type Input struct {
	ClaimID          uuid.UUID                 `json:"claim_id"`
	IncidentType     model.IncidentType        `json:"incident_type"`
	ReplacementValue decimal.Decimal           `json:"replacement_value"`
	Pre              *model.DiagnosticSnapshot `json:"pre,omitempty"`
	Post             *model.DiagnosticSnapshot `json:"post,omitempty"`
	Profile          *model.RiskProfile        `json:"-"`
}

type hashedInput struct {
	IncidentType     model.IncidentType        `json:"incident_type"`
	ReplacementValue decimal.Decimal           `json:"replacement_value"`
	Pre              *model.DiagnosticSnapshot `json:"pre"`
	Post             *model.DiagnosticSnapshot `json:"post"`
	ProfileHash      string                    `json:"profile_hash,omitempty"`
	ProfileScore     float64                   `json:"profile_score,omitempty"`
}

// Engine produces damage estimates.
type Engine struct {
	tables     map[model.IncidentType]SeverityTable
	now        func() time.Time
	logger     *slog.Logger
	confidence metric.Float64Histogram
}

// NewEngine creates an assessment engine. A nil tables map uses DefaultTables.
func NewEngine(tables map[model.IncidentType]SeverityTable, logger *slog.Logger, now func() time.Time) *Engine {
	if tables == nil {
		tables = DefaultTables()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	hist, _ := telemetry.Meter("hoken/assessment").Float64Histogram("hoken.assessment.confidence",
		metric.WithDescription("Confidence of automated damage estimates"),
	)
	return &Engine{tables: tables, now: now, logger: logger, confidence: hist}
}

// Assess computes a damage estimate. It fails with ErrInsufficientEvidence
// when no subsystem delta can be computed at all.
func (e *Engine) Assess(ctx context.Context, in Input) (model.DamageEstimate, error) {
	tbl, ok := e.tables[in.IncidentType]
	if !ok {
		return model.DamageEstimate{}, fmt.Errorf("%w: %q", model.ErrUnsupportedIncidentType, in.IncidentType)
	}
	if !in.ReplacementValue.IsPositive() {
		return model.DamageEstimate{}, fmt.Errorf("%w: replacement value must be positive", model.ErrValidation)
	}
	if in.Post == nil || len(in.Post.Subsystems) == 0 {
		return model.DamageEstimate{}, fmt.Errorf("%w: no post-incident subsystem readings", model.ErrInsufficientEvidence)
	}

	confidence := 1.0
	var notes []string
	if in.Pre == nil {
		confidence -= penaltyMissingBaseline
		notes = append(notes, "pre-incident snapshot missing; nominal baseline assumed")
	}

	total := decimal.Zero
	anyDelta := false
	for _, sub := range model.Subsystems {
		post, ok := in.Post.Health(sub)
		if !ok {
			confidence -= penaltyMissingSubsystem
			notes = append(notes, fmt.Sprintf("%s: no post-incident reading", sub))
			continue
		}
		pre := 1.0
		if in.Pre != nil {
			if v, ok := in.Pre.Health(sub); ok {
				pre = v
			}
		}
		// Four decimal places keeps float noise out of the money math.
		delta := math.Round(math.Max(0, clamp01(pre)-clamp01(post))*1e4) / 1e4
		if delta == 0 {
			if slices.Contains(tbl.Primary, sub) {
				confidence -= penaltyContradiction
				notes = append(notes, fmt.Sprintf("%s: no degradation despite %s report", sub, in.IncidentType))
			}
			continue
		}
		anyDelta = true
		frac, ok := tbl.CostFraction[sub]
		if !ok {
			continue
		}
		cost := in.ReplacementValue.Mul(frac).Mul(decimal.NewFromFloat(delta))
		total = total.Add(cost)
		notes = append(notes, fmt.Sprintf("%s: delta %.2f, cost %s", sub, delta, cost.RoundBank(2).StringFixed(2)))
	}
	if !anyDelta {
		confidence -= penaltyNoDelta
		notes = append(notes, "no subsystem degradation observed")
	}

	amount := decimal.Min(total, in.ReplacementValue).RoundBank(2)
	severity := Classify(amount, in.ReplacementValue)

	if in.Profile != nil && severity == model.SeverityTotalLoss {
		switch {
		case in.Profile.RiskScore >= 50:
			confidence += plausibilityAdjustment
			notes = append(notes, "total loss consistent with elevated risk profile")
		case in.Profile.RiskScore < 20:
			confidence -= plausibilityAdjustment
			notes = append(notes, "total loss unusual for low risk profile")
		}
	}
	confidence = math.Round(clamp01(confidence)*100) / 100

	hash, err := integrity.ContentHash(hashed(in))
	if err != nil {
		return model.DamageEstimate{}, fmt.Errorf("assessment: hash input: %w", err)
	}

	est := model.DamageEstimate{
		ID:                  uuid.New(),
		ClaimID:             in.ClaimID,
		EstimatedAmount:     amount,
		SeverityClass:       severity,
		Confidence:          confidence,
		ContributingFactors: notes,
		Basis:               model.EstimateAutomated,
		InputHash:           hash,
		CreatedAt:           e.now().UTC(),
	}
	e.confidence.Record(ctx, confidence, metric.WithAttributes(attribute.String("incident_type", string(in.IncidentType))))
	e.logger.Debug("assessment: estimate computed",
		"claim_id", in.ClaimID, "amount", amount.StringFixed(2), "severity", severity, "confidence", confidence)
	return est, nil
}

// Manual records an adjuster-supplied estimate. It is fully trusted.
func (e *Engine) Manual(claimID uuid.UUID, amount, replacementValue decimal.Decimal, note string) (model.DamageEstimate, error) {
	if err := model.ValidateAmount("estimated amount", amount); err != nil {
		return model.DamageEstimate{}, err
	}
	severity := model.SeverityMinor
	if replacementValue.IsPositive() {
		severity = Classify(amount, replacementValue)
	}
	var factors []string
	if note != "" {
		factors = []string{note}
	}
	hash, err := integrity.ContentHash(map[string]string{
		"claim_id":          claimID.String(),
		"amount":            amount.StringFixed(2),
		"replacement_value": replacementValue.String(),
		"note":              note,
	})
	if err != nil {
		return model.DamageEstimate{}, fmt.Errorf("assessment: hash manual input: %w", err)
	}
	return model.DamageEstimate{
		ID:                  uuid.New(),
		ClaimID:             claimID,
		EstimatedAmount:     amount,
		SeverityClass:       severity,
		Confidence:          1,
		ContributingFactors: factors,
		Basis:               model.EstimateAdjuster,
		InputHash:           hash,
		CreatedAt:           e.now().UTC(),
	}, nil
}

// Classify buckets an amount by its share of replacement value.
func Classify(amount, replacementValue decimal.Decimal) model.SeverityClass {
	ratio := amount.Div(replacementValue)
	switch {
	case ratio.GreaterThanOrEqual(thresholdTotalLoss):
		return model.SeverityTotalLoss
	case ratio.GreaterThanOrEqual(thresholdSevere):
		return model.SeveritySevere
	case ratio.GreaterThanOrEqual(thresholdModerate):
		return model.SeverityModerate
	default:
		return model.SeverityMinor
	}
}

// PriorityFor derives claim priority from severity.
func PriorityFor(s model.SeverityClass) model.ClaimPriority {
	switch s {
	case model.SeverityTotalLoss:
		return model.PriorityUrgent
	case model.SeveritySevere:
		return model.PriorityHigh
	case model.SeverityModerate:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func hashed(in Input) hashedInput {
	h := hashedInput{
		IncidentType:     in.IncidentType,
		ReplacementValue: in.ReplacementValue,
		Pre:              in.Pre,
		Post:             in.Post,
	}
	if in.Profile != nil {
		h.ProfileHash = in.Profile.InputSnapshotHash
		h.ProfileScore = in.Profile.RiskScore
	}
	return h
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
