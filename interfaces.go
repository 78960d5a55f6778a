package hoken

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentGateway authorizes claim payouts.
//
// The same idempotency key is passed on every attempt for a claim, so the
// gateway can deduplicate retries. Return an error wrapping ErrPaymentDeclined
// for a decline and ErrExternalTimeout (or context.DeadlineExceeded) when the
// answer is unknown; only the latter is retried.
type PaymentGateway interface {
	Authorize(ctx context.Context, claimID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (Authorization, error)
}

// DiagnosticProvider fetches the newest snapshot taken at or before asOf.
// Return ErrNotAvailable when the robot has none and ErrExternalTimeout when
// the provider did not answer in time.
type DiagnosticProvider interface {
	FetchSnapshot(ctx context.Context, robotID uuid.UUID, asOf time.Time) (*DiagnosticSnapshot, error)
}

// ComplianceChecker validates coverage terms against a jurisdiction's rules
// before a quote is offered as bindable.
type ComplianceChecker interface {
	Validate(ctx context.Context, terms CoverageTerms, jurisdiction string) (Verdict, error)
}
