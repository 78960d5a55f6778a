// Package audit records every engine output as an immutable, replayable
// record. Sinks are append-only; the SQLite sink additionally hash-chains
// records and seals batches under a Merkle root.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/telemetry"
)

// Sink persists audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, rec model.AuditRecord) error
}

// NewRecord builds a record for payload, computing the payload hash over its
// canonical encoding.
func NewRecord(kind model.AuditKind, subjectID, inputHash string, payload any, at time.Time) (model.AuditRecord, error) {
	canon, err := integrity.Canonical(payload)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("audit: encode %s payload: %w", kind, err)
	}
	payloadHash, err := integrity.ContentHash(payload)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("audit: hash %s payload: %w", kind, err)
	}
	return model.AuditRecord{
		ID:          uuid.New(),
		Kind:        kind,
		SubjectID:   subjectID,
		InputHash:   inputHash,
		PayloadHash: payloadHash,
		Payload:     json.RawMessage(canon),
		RecordedAt:  at.UTC(),
	}, nil
}

// Emitter builds records and hands them to a Sink. Emission failures never
// fail the operation that produced the output: they are logged at error level
// and counted. A nil *Emitter discards everything.
type Emitter struct {
	sink     Sink
	logger   *slog.Logger
	now      func() time.Time
	failures metric.Int64Counter
}

// NewEmitter creates an emitter writing to sink.
func NewEmitter(sink Sink, logger *slog.Logger, now func() time.Time) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	failures, _ := telemetry.Meter("hoken/audit").Int64Counter("hoken.audit.failures",
		metric.WithDescription("Audit records that could not be written"),
	)
	return &Emitter{sink: sink, logger: logger, now: now, failures: failures}
}

// Emit records payload under kind. Safe to call on a nil receiver.
func (e *Emitter) Emit(ctx context.Context, kind model.AuditKind, subjectID, inputHash string, payload any) {
	if e == nil || e.sink == nil {
		return
	}
	rec, err := NewRecord(kind, subjectID, inputHash, payload, e.now())
	if err == nil {
		err = e.sink.Emit(ctx, rec)
	}
	if err != nil {
		e.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		e.logger.Error("audit: emit failed", "kind", kind, "subject_id", subjectID, "error", err)
	}
}

// LogSink writes records to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, rec model.AuditRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit",
		"id", rec.ID,
		"kind", rec.Kind,
		"subject_id", rec.SubjectID,
		"input_hash", rec.InputHash,
		"payload_hash", rec.PayloadHash,
		"recorded_at", rec.RecordedAt,
	)
	return nil
}

// MemorySink keeps records in memory, in emission order.
type MemorySink struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every record emitted so far.
func (s *MemorySink) Records() []model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditRecord(nil), s.records...)
}

// ByKind returns the records of one kind, in emission order.
func (s *MemorySink) ByKind(kind model.AuditKind) []model.AuditRecord {
	var out []model.AuditRecord
	for _, r := range s.Records() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Multi fans a record out to several sinks. Every sink is attempted; the
// errors are joined.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, rec model.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
