package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FactorSource identifies where a risk factor was derived from.
type FactorSource string

const (
	SourceSpec            FactorSource = "spec"
	SourceTelemetry       FactorSource = "telemetry"
	SourceIncidentHistory FactorSource = "incident-history"
)

// RiskFactor is a single normalized signal. NormalizedValue is in [0,1].
// Immutable once computed for a given input snapshot.
type RiskFactor struct {
	Name            string       `json:"name"`
	NormalizedValue float64      `json:"normalized_value"`
	Weight          float64      `json:"weight"`
	Source          FactorSource `json:"source"`
	Defaulted       bool         `json:"defaulted,omitempty"`
}

// RiskLevel is a display band derived from the risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskProfile is one immutable version of a robot's aggregate risk.
// New computations append a new version; prior versions are kept for audit.
type RiskProfile struct {
	RobotID            uuid.UUID       `json:"robot_id"`
	Version            int             `json:"version"`
	RiskScore          float64         `json:"risk_score"`
	RiskLevel          RiskLevel       `json:"risk_level"`
	Factors            []RiskFactor    `json:"factors"`
	PremiumMultiplier  decimal.Decimal `json:"premium_multiplier"`
	WeightTableVersion string          `json:"weight_table_version"`
	ComputedAt         time.Time       `json:"computed_at"`
	InputSnapshotHash  string          `json:"input_snapshot_hash"`
}

// Clone returns a deep copy so callers cannot alias the factor slice.
func (p RiskProfile) Clone() RiskProfile {
	out := p
	out.Factors = append([]RiskFactor(nil), p.Factors...)
	return out
}
