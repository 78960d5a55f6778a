// Package ratelimit throttles calls to external providers.
//
// The in-process token bucket (MemoryLimiter) bounds how often the engine asks
// a robot's telemetry provider for diagnostic snapshots, so a burst of claim
// assessments against one fleet cannot flood the provider.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hoken/internal/model"
)

// Limiter decides whether a call identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the call should proceed. An error signals a
	// limiter malfunction; callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every call. Used when throttling is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// SnapshotFetcher is the diagnostic provider contract being throttled.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, robotID uuid.UUID, asOf time.Time) (*model.DiagnosticSnapshot, error)
}

// ThrottledFetcher limits FetchSnapshot calls per robot. A throttled call
// fails with model.ErrExternalTimeout so callers back off and retry.
type ThrottledFetcher struct {
	next    SnapshotFetcher
	limiter Limiter
	logger  *slog.Logger
}

// Throttle wraps next with limiter. A nil limiter disables throttling.
func Throttle(next SnapshotFetcher, limiter Limiter, logger *slog.Logger) *ThrottledFetcher {
	if limiter == nil {
		limiter = NoopLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThrottledFetcher{next: next, limiter: limiter, logger: logger}
}

// FetchSnapshot implements SnapshotFetcher.
func (f *ThrottledFetcher) FetchSnapshot(ctx context.Context, robotID uuid.UUID, asOf time.Time) (*model.DiagnosticSnapshot, error) {
	ok, err := f.limiter.Allow(ctx, "robot:"+robotID.String())
	if err != nil {
		f.logger.Warn("ratelimit: limiter error, allowing call", "robot_id", robotID, "error", err)
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("%w: diagnostics throttled for robot %s", model.ErrExternalTimeout, robotID)
	}
	return f.next.FetchSnapshot(ctx, robotID, asOf)
}
