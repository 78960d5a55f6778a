// Package risk turns robot specifications, diagnostic telemetry and incident
// history into weighted risk factors, and aggregates them into versioned
// risk profiles.
package risk

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
)

// Factor names. Weight tables refer to factors by these names.
const (
	FactorRobotAge          = "robot_age"
	FactorKineticExposure   = "kinetic_exposure"
	FactorIngressProtection = "ingress_protection"
	FactorCertificationGap  = "certification_gap"
	FactorUsageExposure     = "usage_exposure"
	FactorErrorCodes        = "error_codes"
	FactorAnomalyRate       = "anomaly_rate"
	FactorOperatingHours    = "operating_hours"
	FactorSubsystemWear     = "subsystem_wear"
	FactorThermalStress     = "thermal_stress"
	FactorClaimFrequency    = "claim_frequency"
	FactorClaimSeverity     = "claim_severity"
)

// FactorNames lists every factor the extractor emits, sorted.
var FactorNames = []string{
	FactorAnomalyRate,
	FactorCertificationGap,
	FactorClaimFrequency,
	FactorClaimSeverity,
	FactorErrorCodes,
	FactorIngressProtection,
	FactorKineticExposure,
	FactorOperatingHours,
	FactorRobotAge,
	FactorSubsystemWear,
	FactorThermalStress,
	FactorUsageExposure,
}

// NeutralValue is the normalized value used for any factor whose input is
// missing. Partial telemetry lowers precision rather than blocking scoring.
const NeutralValue = 0.5

// Normalization ceilings: an input at or above the ceiling maps to 1.
const (
	ageCeilingYears     = 10.0
	weightCeilingKg     = 300.0
	speedCeilingKmh     = 50.0
	certificationTarget = 3.0
	errorCodeCeiling    = 10.0
	anomalyCeiling      = 5.0
	hoursCeiling        = 20000.0
	claimCountCeiling   = 5.0
	safeTempMin         = 0.0
	safeTempMax         = 45.0
	tempExcursionRange  = 30.0
)

var usageExposure = map[model.UsageScenario]float64{
	model.UsageDomestic:   0.3,
	model.UsageEducation:  0.4,
	model.UsageCommercial: 0.5,
	model.UsageHealthcare: 0.6,
	model.UsageResearch:   0.7,
	model.UsageIndustrial: 0.8,
}

var severityWeight = map[model.SeverityClass]float64{
	model.SeverityMinor:     0.25,
	model.SeverityModerate:  0.5,
	model.SeveritySevere:    0.75,
	model.SeverityTotalLoss: 1.0,
}

// Input is everything the extractor needs. AsOf anchors age computations so
// the result is a pure function of the input.
type Input struct {
	Spec     model.RobotSpec           `json:"spec"`
	Snapshot *model.DiagnosticSnapshot `json:"snapshot,omitempty"`
	History  model.IncidentHistory     `json:"history"`
	AsOf     time.Time                 `json:"as_of"`
}

// canonicalInput is the hashed form of Input: list fields sorted and
// deduplicated so order of reporting does not change the hash.
type canonicalInput struct {
	RobotID        uuid.UUID                 `json:"robot_id"`
	Manufacturer   string                    `json:"manufacturer"`
	Type           model.RobotType           `json:"type"`
	Usage          model.UsageScenario       `json:"usage"`
	ManufacturedAt *time.Time                `json:"manufactured_at"`
	WeightKg       float64                   `json:"weight_kg"`
	MaxSpeedKmh    float64                   `json:"max_speed_kmh"`
	IPRating       string                    `json:"ip_rating"`
	Certifications []string                  `json:"certifications"`
	Snapshot       *model.DiagnosticSnapshot `json:"snapshot"`
	ClaimCount     int                       `json:"claim_count"`
	Severities     []model.SeverityClass     `json:"severities"`
	AsOf           time.Time                 `json:"as_of"`
}

// Extractor normalizes raw inputs into risk factors. It holds no state.
type Extractor struct{}

// Validate checks the mandatory identity fields.
func (Extractor) Validate(in Input) error {
	var missing []string
	if strings.TrimSpace(string(in.Spec.Type)) == "" {
		missing = append(missing, "robot type")
	}
	if strings.TrimSpace(in.Spec.Manufacturer) == "" {
		missing = append(missing, "manufacturer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w: missing %s", model.ErrValidation, model.ErrInvalidSpecification, strings.Join(missing, ", "))
	}
	return nil
}

// Hash returns the content hash identifying the input snapshot.
func (e Extractor) Hash(in Input) (string, error) {
	return integrity.ContentHash(canonicalize(in))
}

// Extract returns the unweighted factor set sorted by name, and the input hash.
// The same input always yields the same factors regardless of the order in
// which list fields were reported.
func (e Extractor) Extract(in Input) ([]model.RiskFactor, string, error) {
	if err := e.Validate(in); err != nil {
		return nil, "", err
	}
	c := canonicalize(in)
	hash, err := integrity.ContentHash(c)
	if err != nil {
		return nil, "", fmt.Errorf("risk: hash input: %w", err)
	}

	factors := make([]model.RiskFactor, 0, len(FactorNames))
	factors = append(factors, specFactors(c)...)
	factors = append(factors, telemetryFactors(c.Snapshot)...)
	factors = append(factors, historyFactors(c)...)
	slices.SortFunc(factors, func(a, b model.RiskFactor) int { return strings.Compare(a.Name, b.Name) })
	return factors, hash, nil
}

func canonicalize(in Input) canonicalInput {
	c := canonicalInput{
		RobotID:        in.Spec.RobotID,
		Manufacturer:   strings.TrimSpace(in.Spec.Manufacturer),
		Type:           in.Spec.Type,
		Usage:          in.Spec.Usage,
		ManufacturedAt: in.Spec.ManufacturedAt,
		WeightKg:       in.Spec.WeightKg,
		MaxSpeedKmh:    in.Spec.MaxSpeedKmh,
		IPRating:       strings.ToUpper(strings.TrimSpace(in.Spec.IPRating)),
		Certifications: sortedSet(in.Spec.Certifications),
		ClaimCount:     in.History.ClaimCount,
		Severities:     slices.Sorted(slices.Values(in.History.Severities)),
		AsOf:           in.AsOf.UTC(),
	}
	if in.Snapshot != nil {
		s := *in.Snapshot
		s.TakenAt = s.TakenAt.UTC()
		s.ErrorCodes = sortedSet(s.ErrorCodes)
		s.MaintenanceAlerts = sortedSet(s.MaintenanceAlerts)
		s.AnomalyFlags = sortedSet(s.AnomalyFlags)
		c.Snapshot = &s
	}
	return c
}

func sortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func factor(name string, v float64, src model.FactorSource) model.RiskFactor {
	return model.RiskFactor{Name: name, NormalizedValue: clamp01(v), Source: src}
}

func neutral(name string, src model.FactorSource) model.RiskFactor {
	return model.RiskFactor{Name: name, NormalizedValue: NeutralValue, Source: src, Defaulted: true}
}

func specFactors(c canonicalInput) []model.RiskFactor {
	out := make([]model.RiskFactor, 0, 5)

	if c.ManufacturedAt != nil && !c.AsOf.IsZero() {
		years := c.AsOf.Sub(*c.ManufacturedAt).Hours() / (24 * 365.25)
		out = append(out, factor(FactorRobotAge, years/ageCeilingYears, model.SourceSpec))
	} else {
		out = append(out, neutral(FactorRobotAge, model.SourceSpec))
	}

	if c.WeightKg > 0 || c.MaxSpeedKmh > 0 {
		v := 0.5*clamp01(c.WeightKg/weightCeilingKg) + 0.5*clamp01(c.MaxSpeedKmh/speedCeilingKmh)
		out = append(out, factor(FactorKineticExposure, v, model.SourceSpec))
	} else {
		out = append(out, neutral(FactorKineticExposure, model.SourceSpec))
	}

	if water, ok := ipWaterDigit(c.IPRating); ok {
		out = append(out, factor(FactorIngressProtection, 1-float64(water)/8, model.SourceSpec))
	} else {
		out = append(out, neutral(FactorIngressProtection, model.SourceSpec))
	}

	out = append(out, factor(FactorCertificationGap, 1-clamp01(float64(len(c.Certifications))/certificationTarget), model.SourceSpec))

	if v, ok := usageExposure[c.Usage]; ok {
		out = append(out, factor(FactorUsageExposure, v, model.SourceSpec))
	} else {
		out = append(out, neutral(FactorUsageExposure, model.SourceSpec))
	}
	return out
}

// ipWaterDigit parses the liquid-ingress digit of an IP rating such as "IP67".
// "X" means untested and is treated as unknown.
func ipWaterDigit(rating string) (int, bool) {
	if len(rating) != 4 || !strings.HasPrefix(rating, "IP") {
		return 0, false
	}
	d, err := strconv.Atoi(rating[3:])
	if err != nil || d > 8 {
		return 0, false
	}
	return d, true
}

func telemetryFactors(s *model.DiagnosticSnapshot) []model.RiskFactor {
	if s == nil {
		return []model.RiskFactor{
			neutral(FactorErrorCodes, model.SourceTelemetry),
			neutral(FactorAnomalyRate, model.SourceTelemetry),
			neutral(FactorOperatingHours, model.SourceTelemetry),
			neutral(FactorSubsystemWear, model.SourceTelemetry),
			neutral(FactorThermalStress, model.SourceTelemetry),
		}
	}
	out := make([]model.RiskFactor, 0, 5)

	out = append(out, factor(FactorErrorCodes, float64(len(s.ErrorCodes))/errorCodeCeiling, model.SourceTelemetry))
	out = append(out, factor(FactorAnomalyRate, float64(len(s.AnomalyFlags))/anomalyCeiling, model.SourceTelemetry))

	if s.OperationalHours != nil {
		out = append(out, factor(FactorOperatingHours, *s.OperationalHours/hoursCeiling, model.SourceTelemetry))
	} else {
		out = append(out, neutral(FactorOperatingHours, model.SourceTelemetry))
	}

	var sum float64
	var n int
	for _, sub := range model.Subsystems {
		if h, ok := s.Health(sub); ok {
			sum += clamp01(h)
			n++
		}
	}
	if n > 0 {
		out = append(out, factor(FactorSubsystemWear, 1-sum/float64(n), model.SourceTelemetry))
	} else {
		out = append(out, neutral(FactorSubsystemWear, model.SourceTelemetry))
	}

	if s.Temperature != nil {
		t := *s.Temperature
		var excursion float64
		switch {
		case t < safeTempMin:
			excursion = safeTempMin - t
		case t > safeTempMax:
			excursion = t - safeTempMax
		}
		out = append(out, factor(FactorThermalStress, excursion/tempExcursionRange, model.SourceTelemetry))
	} else {
		out = append(out, neutral(FactorThermalStress, model.SourceTelemetry))
	}
	return out
}

func historyFactors(c canonicalInput) []model.RiskFactor {
	count := max(c.ClaimCount, len(c.Severities))
	out := []model.RiskFactor{
		factor(FactorClaimFrequency, float64(count)/claimCountCeiling, model.SourceIncidentHistory),
	}
	if len(c.Severities) == 0 {
		out = append(out, factor(FactorClaimSeverity, 0, model.SourceIncidentHistory))
		return out
	}
	var sum float64
	for _, s := range c.Severities {
		sum += severityWeight[s]
	}
	out = append(out, factor(FactorClaimSeverity, sum/float64(len(c.Severities)), model.SourceIncidentHistory))
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralValue
	}
	return math.Max(0, math.Min(1, v))
}
