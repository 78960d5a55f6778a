package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IncidentType classifies the reported incident. Severity tables are keyed by it.
type IncidentType string

const (
	IncidentCollision      IncidentType = "collision"
	IncidentFall           IncidentType = "fall"
	IncidentLiquidIngress  IncidentType = "liquid-ingress"
	IncidentCyberIntrusion IncidentType = "cyber-intrusion"
	IncidentWearFailure    IncidentType = "wear-failure"
	IncidentElectrical     IncidentType = "electrical-fault"
	IncidentFire           IncidentType = "fire"
)

// SeverityClass buckets a damage estimate relative to replacement value.
type SeverityClass string

const (
	SeverityMinor     SeverityClass = "minor"
	SeverityModerate  SeverityClass = "moderate"
	SeveritySevere    SeverityClass = "severe"
	SeverityTotalLoss SeverityClass = "total-loss"
)

// Rank orders severity classes; unknown classes rank as minor.
func (s SeverityClass) Rank() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeveritySevere:
		return 2
	case SeverityTotalLoss:
		return 3
	default:
		return 0
	}
}

// ClaimPriority is derived from the severity of the latest estimate.
type ClaimPriority string

const (
	PriorityLow    ClaimPriority = "low"
	PriorityMedium ClaimPriority = "medium"
	PriorityHigh   ClaimPriority = "high"
	PriorityUrgent ClaimPriority = "urgent"
)

// ClaimState is the lifecycle state of a claim.
type ClaimState string

const (
	StateDraft                 ClaimState = "draft"
	StateSubmitted             ClaimState = "submitted"
	StateAutomatedAssessment   ClaimState = "automated_assessment"
	StatePendingAdjusterReview ClaimState = "pending_adjuster_review"
	StateApproved              ClaimState = "approved"
	StateSettled               ClaimState = "settled"
	StateDenied                ClaimState = "denied"
	StateDisputed              ClaimState = "disputed"
	StateSettlementFailed      ClaimState = "settlement_failed"
	StateWithdrawn             ClaimState = "withdrawn"
)

// Terminal reports whether no further lifecycle events (other than dispute
// on settled/denied claims) are accepted.
func (s ClaimState) Terminal() bool {
	switch s {
	case StateSettled, StateDenied, StateDisputed, StateSettlementFailed, StateWithdrawn:
		return true
	default:
		return false
	}
}

// Editable reports whether incident description and evidence may change.
func (s ClaimState) Editable() bool {
	return s == StateDraft || s == StateSubmitted
}

// EstimateBasis records who produced a damage estimate.
type EstimateBasis string

const (
	EstimateAutomated EstimateBasis = "automated"
	EstimateAdjuster  EstimateBasis = "adjuster"
)

// DamageEstimate is one immutable assessment attempt for a claim.
type DamageEstimate struct {
	ID                  uuid.UUID       `json:"id"`
	ClaimID             uuid.UUID       `json:"claim_id"`
	EstimatedAmount     decimal.Decimal `json:"estimated_amount"`
	SeverityClass       SeverityClass   `json:"severity_class"`
	Confidence          float64         `json:"confidence"`
	ContributingFactors []string        `json:"contributing_factors,omitempty"`
	Basis               EstimateBasis   `json:"basis"`
	InputHash           string          `json:"input_hash,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// DecisionBasis records whether a settlement decision was automated.
type DecisionBasis string

const (
	BasisAutomated        DecisionBasis = "automated"
	BasisAdjusterOverride DecisionBasis = "adjuster-override"
)

// Denial reasons recorded on SettlementDecision.DeniedReason.
const (
	DenialExcludedIncident = "excluded_incident_type"
	DenialNotInForce       = "policy_not_in_force"
	DenialLimitExhausted   = "limit_exhausted"
	DenialBelowDeductible  = "below_deductible"
	DenialAlreadyPaid      = "already_paid"
	DenialWithdrawn        = "withdrawn"
)

// SettlementDecision is the approved or denied payout determination.
// Immutable once attached to a Settled or Denied claim.
type SettlementDecision struct {
	ClaimID           uuid.UUID       `json:"claim_id"`
	EstimateID        *uuid.UUID      `json:"estimate_id,omitempty"`
	ApprovedAmount    decimal.Decimal `json:"approved_amount"`
	DeniedReason      string          `json:"denied_reason,omitempty"`
	AppliedDeductible decimal.Decimal `json:"applied_deductible"`
	AppliedLimit      decimal.Decimal `json:"applied_limit"`
	DecisionBasis     DecisionBasis   `json:"decision_basis"`
	DecidedAt         time.Time       `json:"decided_at"`
	InputHash         string          `json:"input_hash,omitempty"`
	AuthorizationRef  string          `json:"authorization_ref,omitempty"`
}

// Denied reports whether the decision refuses payment.
func (d SettlementDecision) Denied() bool { return d.DeniedReason != "" }

// TransitionRecord is an append-only entry in a claim's history.
type TransitionRecord struct {
	From   ClaimState `json:"from"`
	To     ClaimState `json:"to"`
	Event  string     `json:"event"`
	Actor  string     `json:"actor"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// AdjusterNote is a free-text note left by an adjuster during review.
type AdjusterNote struct {
	AdjusterID string    `json:"adjuster_id"`
	Note       string    `json:"note"`
	At         time.Time `json:"at"`
}

// Claim is a claim against a policy. State transitions are the only mutation
// path; the IdempotencyKey is generated once at creation and reused for every
// settlement retry of the same logical claim.
type Claim struct {
	ID              uuid.UUID           `json:"id"`
	PolicyID        uuid.UUID           `json:"policy_id"`
	RobotID         uuid.UUID           `json:"robot_id"`
	ParentClaimID   *uuid.UUID          `json:"parent_claim_id,omitempty"`
	State           ClaimState          `json:"state"`
	Priority        ClaimPriority       `json:"priority"`
	IncidentType    IncidentType        `json:"incident_type"`
	IncidentDate    time.Time           `json:"incident_date"`
	ReportedDate    time.Time           `json:"reported_date"`
	Description     string              `json:"description"`
	Documents       []string            `json:"documents,omitempty"`
	PreIncident     *DiagnosticSnapshot `json:"pre_incident,omitempty"`
	PostIncident    *DiagnosticSnapshot `json:"post_incident,omitempty"`
	DamageEstimates []DamageEstimate    `json:"damage_estimates,omitempty"`
	Decision        *SettlementDecision `json:"settlement_decision,omitempty"`
	ReviewReasons   []string            `json:"review_reasons,omitempty"`
	Notes           []AdjusterNote      `json:"notes,omitempty"`
	History         []TransitionRecord  `json:"history,omitempty"`
	RetryCount      int                 `json:"retry_count"`
	LastError       string              `json:"last_error,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key"`
	Version         int                 `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// LatestEstimate returns the most recent damage estimate, if any.
func (c Claim) LatestEstimate() (DamageEstimate, bool) {
	if len(c.DamageEstimates) == 0 {
		return DamageEstimate{}, false
	}
	return c.DamageEstimates[len(c.DamageEstimates)-1], true
}

// HasEvidence reports whether at least one diagnostic snapshot is attached.
func (c Claim) HasEvidence() bool {
	return c.PreIncident != nil || c.PostIncident != nil
}

// Clone returns a deep copy of the claim's slices and pointers so stores can
// hand out values without sharing backing arrays.
func (c Claim) Clone() Claim {
	out := c
	out.Documents = append([]string(nil), c.Documents...)
	out.DamageEstimates = append([]DamageEstimate(nil), c.DamageEstimates...)
	out.ReviewReasons = append([]string(nil), c.ReviewReasons...)
	out.Notes = append([]AdjusterNote(nil), c.Notes...)
	out.History = append([]TransitionRecord(nil), c.History...)
	if c.Decision != nil {
		d := *c.Decision
		out.Decision = &d
	}
	if c.ParentClaimID != nil {
		id := *c.ParentClaimID
		out.ParentClaimID = &id
	}
	out.PreIncident = cloneSnapshot(c.PreIncident)
	out.PostIncident = cloneSnapshot(c.PostIncident)
	return out
}

func cloneSnapshot(s *DiagnosticSnapshot) *DiagnosticSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.ErrorCodes = append([]string(nil), s.ErrorCodes...)
	out.MaintenanceAlerts = append([]string(nil), s.MaintenanceAlerts...)
	out.AnomalyFlags = append([]string(nil), s.AnomalyFlags...)
	if s.Subsystems != nil {
		out.Subsystems = make(map[Subsystem]float64, len(s.Subsystems))
		for k, v := range s.Subsystems {
			out.Subsystems[k] = v
		}
	}
	return &out
}
