package model

import (
	"context"
	"errors"
)

// Error taxonomy. Callers classify with errors.Is; producers wrap with
// fmt.Errorf("%w: detail", ErrX) so the detail survives.
var (
	// ErrValidation is bad or missing mandatory input. Not retried.
	ErrValidation = errors.New("validation error")
	// ErrInvalidSpecification is a robot spec missing identity fields.
	ErrInvalidSpecification = errors.New("invalid specification")
	// ErrInsufficientEvidence routes a claim to manual review. Not a failure.
	ErrInsufficientEvidence = errors.New("insufficient evidence")
	// ErrUnsupportedCoverageType is a configuration gap in the base-rate table.
	ErrUnsupportedCoverageType = errors.New("unsupported coverage type")
	// ErrUnsupportedIncidentType is a configuration gap in the severity tables.
	ErrUnsupportedIncidentType = errors.New("unsupported incident type")
	// ErrExternalTimeout is a payment or diagnostic call that timed out. Retried per policy.
	ErrExternalTimeout = errors.New("external timeout")
	// ErrInvariantViolation aborts the transition and is reported for investigation.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrNotFound            = errors.New("not found")
	ErrNotAvailable        = errors.New("not available")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrClaimClosed         = errors.New("claim closed")
	ErrConcurrentUpdate    = errors.New("concurrent update")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different input")
	ErrIdempotencyInFlight = errors.New("idempotency key already in progress")
	ErrPaymentDeclined     = errors.New("payment declined")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrComplianceViolation = errors.New("compliance violation")
)

// Retryable reports whether err is worth retrying under the bounded retry policy.
// Only external timeouts qualify; a deadline hit by the per-attempt timeout
// is treated the same way.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalTimeout) || errors.Is(err, context.DeadlineExceeded)
}
