package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditKind names the artifact an audit record carries.
type AuditKind string

const (
	AuditRiskProfile        AuditKind = "risk_profile"
	AuditDamageEstimate     AuditKind = "damage_estimate"
	AuditSettlementDecision AuditKind = "settlement_decision"
	AuditClaimTransition    AuditKind = "claim_transition"
)

// AuditRecord is an immutable, replayable record of an engine output.
// InputHash identifies the inputs that produced Payload; PayloadHash is the
// canonical hash of Payload itself.
type AuditRecord struct {
	ID          uuid.UUID       `json:"id"`
	Kind        AuditKind       `json:"kind"`
	SubjectID   string          `json:"subject_id"`
	InputHash   string          `json:"input_hash"`
	PayloadHash string          `json:"payload_hash"`
	Payload     json.RawMessage `json:"payload"`
	RecordedAt  time.Time       `json:"recorded_at"`
}
