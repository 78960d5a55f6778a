package claims

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/assessment"
	"github.com/ashita-ai/hoken/internal/model"
)

// Repository persists claims. Updates are compare-and-swap on Claim.Version:
// the caller passes the claim as last read, and the store rejects the write
// with ErrConcurrentUpdate if the stored version moved on. Successful writes
// return the claim with its new version.
type Repository interface {
	CreateClaim(ctx context.Context, c model.Claim) error
	GetClaim(ctx context.Context, id uuid.UUID) (model.Claim, error)
	UpdateClaim(ctx context.Context, c model.Claim) (model.Claim, error)
	// CreateFollowUp updates original and inserts followUp atomically.
	CreateFollowUp(ctx context.Context, original, followUp model.Claim) (model.Claim, error)
}

// PayoutLedger records settled payments per policy.
type PayoutLedger interface {
	Payouts(ctx context.Context, policyID uuid.UUID) ([]model.Payout, error)
	// CommitSettlement updates the claim (compare-and-swap) and records the
	// payout in one atomic step. A second payout for the same claim is rejected.
	CommitSettlement(ctx context.Context, c model.Claim, p model.Payout) (model.Claim, error)
}

// IdempotencyStore reserves settlement keys. Begin returns a completed record
// to replay, ErrIdempotencyInFlight if another caller holds the key, or
// ErrIdempotencyMismatch if the key was used for a different request.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, requestHash string) (model.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, response any) error
	Clear(ctx context.Context, key string) error
}

// CoverageStore is the read-only policy record.
type CoverageStore interface {
	Terms(ctx context.Context, policyID uuid.UUID) (model.CoverageTerms, error)
}

// RobotRegistry resolves insured robots.
type RobotRegistry interface {
	Robot(ctx context.Context, robotID uuid.UUID) (model.RobotSpec, error)
}

// ProfileReader returns the latest risk profile for a robot.
type ProfileReader interface {
	LatestProfile(ctx context.Context, robotID uuid.UUID) (model.RiskProfile, error)
}

// Assessor produces damage estimates.
type Assessor interface {
	Assess(ctx context.Context, in assessment.Input) (model.DamageEstimate, error)
	Manual(claimID uuid.UUID, amount, replacementValue decimal.Decimal, note string) (model.DamageEstimate, error)
}

// DiagnosticProvider fetches the robot snapshot nearest before asOf. It
// returns ErrNotAvailable when there is none and ErrExternalTimeout when the
// provider did not answer in time.
type DiagnosticProvider interface {
	FetchSnapshot(ctx context.Context, robotID uuid.UUID, asOf time.Time) (*model.DiagnosticSnapshot, error)
}

// Authorization is a successful payment authorization.
type Authorization struct {
	Reference string `json:"reference"`
}

// PaymentGateway authorizes payouts. The same idempotency key is passed on
// every attempt for the same claim. Declines return ErrPaymentDeclined;
// timeouts return ErrExternalTimeout or context.DeadlineExceeded.
type PaymentGateway interface {
	Authorize(ctx context.Context, claimID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (Authorization, error)
}

// Locker serializes settlements on the same policy.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
