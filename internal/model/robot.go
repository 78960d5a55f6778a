// Package model defines the core domain types for the risk scoring and
// claims settlement engine.
//
// Types use strong typing (UUIDs, time.Time, decimal money, string enums)
// and are treated as values: engines return new instances rather than
// mutating the ones they were given.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RobotType is the robot category. Weight tables are keyed by it.
type RobotType string

const (
	RobotTypeHumanoid   RobotType = "humanoid"
	RobotTypeIndustrial RobotType = "industrial"
	RobotTypeService    RobotType = "service"
	RobotTypeCompanion  RobotType = "companion"
	RobotTypeMedical    RobotType = "medical"
)

// UsageScenario is the usage class the robot is deployed under.
type UsageScenario string

const (
	UsageDomestic   UsageScenario = "domestic"
	UsageCommercial UsageScenario = "commercial"
	UsageIndustrial UsageScenario = "industrial"
	UsageHealthcare UsageScenario = "healthcare"
	UsageEducation  UsageScenario = "education"
	UsageResearch   UsageScenario = "research"
)

// RobotSpec is the static specification of an insured robot.
// Type and Manufacturer are mandatory identity fields; everything else
// degrades to a neutral risk contribution when absent.
type RobotSpec struct {
	RobotID          uuid.UUID       `json:"robot_id"`
	Manufacturer     string          `json:"manufacturer"`
	Model            string          `json:"model,omitempty"`
	SerialNumber     string          `json:"serial_number,omitempty"`
	Type             RobotType       `json:"type"`
	Usage            UsageScenario   `json:"usage,omitempty"`
	ManufacturedAt   *time.Time      `json:"manufactured_at,omitempty"`
	WeightKg         float64         `json:"weight_kg,omitempty"`
	MaxSpeedKmh      float64         `json:"max_speed_kmh,omitempty"`
	IPRating         string          `json:"ip_rating,omitempty"`
	Certifications   []string        `json:"certifications,omitempty"`
	ReplacementValue decimal.Decimal `json:"replacement_value"`
}

// Subsystem is one of the diagnostic subsystems tracked per robot.
type Subsystem string

const (
	SubsystemActuators Subsystem = "actuators"
	SubsystemSensors   Subsystem = "sensors"
	SubsystemCompute   Subsystem = "compute"
	SubsystemChassis   Subsystem = "chassis"
)

// Subsystems lists every tracked subsystem in canonical order.
var Subsystems = []Subsystem{SubsystemActuators, SubsystemSensors, SubsystemCompute, SubsystemChassis}

// DiagnosticSnapshot is a point-in-time telemetry reading for a robot.
// Pointer fields are optional: nil means the reading was not reported.
// Subsystem health is in [0,1] where 1 is nominal.
type DiagnosticSnapshot struct {
	RobotID           uuid.UUID             `json:"robot_id"`
	TakenAt           time.Time             `json:"taken_at"`
	BatteryLevel      *float64              `json:"battery_level,omitempty"`
	Temperature       *float64              `json:"temperature,omitempty"`
	OperationalHours  *float64              `json:"operational_hours,omitempty"`
	ErrorCodes        []string              `json:"error_codes,omitempty"`
	MaintenanceAlerts []string              `json:"maintenance_alerts,omitempty"`
	AnomalyFlags      []string              `json:"anomaly_flags,omitempty"`
	Subsystems        map[Subsystem]float64 `json:"subsystems,omitempty"`
}

// Health returns the reported health of a subsystem and whether it was present.
func (s *DiagnosticSnapshot) Health(sub Subsystem) (float64, bool) {
	if s == nil || s.Subsystems == nil {
		return 0, false
	}
	v, ok := s.Subsystems[sub]
	return v, ok
}

// IncidentHistory summarizes prior claims for a robot.
type IncidentHistory struct {
	ClaimCount int             `json:"claim_count"`
	Severities []SeverityClass `json:"severities,omitempty"`
}
