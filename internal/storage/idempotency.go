package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/hoken/internal/model"
)

// Begin reserves a settlement key.
//
// A completed record means the caller should replay the stored response. An
// in-progress key fails with model.ErrIdempotencyInFlight, and a key seen
// with a different request hash fails with model.ErrIdempotencyMismatch.
// Stale in-progress keys are not taken over; CleanupIdempotencyKeys removes
// them, because the original request may have paid before it crashed.
func (db *DB) Begin(ctx context.Context, key, requestHash string) (model.IdempotencyRecord, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO settlement_keys (idempotency_key, request_hash, status)
		 VALUES ($1, $2, 'in_progress')
		 ON CONFLICT DO NOTHING`,
		key, requestHash,
	)
	if err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("storage: begin idempotency: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return model.IdempotencyRecord{}, nil
	}

	var (
		storedHash string
		status     string
		response   []byte
	)
	if err := db.pool.QueryRow(ctx,
		`SELECT request_hash, status, response_data FROM settlement_keys WHERE idempotency_key = $1`,
		key,
	).Scan(&storedHash, &status, &response); err != nil {
		return model.IdempotencyRecord{}, fmt.Errorf("storage: lookup idempotency: %w", mapNoRows(err, "idempotency key", key))
	}

	if storedHash != requestHash {
		return model.IdempotencyRecord{}, model.ErrIdempotencyMismatch
	}
	if status == "completed" {
		return model.IdempotencyRecord{Completed: true, Response: response}, nil
	}
	return model.IdempotencyRecord{}, model.ErrIdempotencyInFlight
}

// Complete stores the response for a reserved key.
func (db *DB) Complete(ctx context.Context, key string, response any) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE settlement_keys
		 SET status = 'completed', response_data = $2::jsonb, updated_at = now()
		 WHERE idempotency_key = $1 AND status = 'in_progress'`,
		key, payload,
	)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete idempotency: %w", notFound("in-progress key", key))
	}
	return nil
}

// Clear removes an in-progress reservation so the settlement can be retried.
func (db *DB) Clear(ctx context.Context, key string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM settlement_keys WHERE idempotency_key = $1 AND status = 'in_progress'`, key)
	if err != nil {
		return fmt.Errorf("storage: clear idempotency: %w", err)
	}
	return nil
}

// CleanupIdempotencyKeys removes old completed records and abandoned
// in-progress reservations.
func (db *DB) CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM settlement_keys
		 WHERE (status = 'completed' AND updated_at < now() - ($1 * interval '1 microsecond'))
		    OR (status = 'in_progress' AND updated_at < now() - ($2 * interval '1 microsecond'))`,
		completedTTL.Microseconds(), inProgressTTL.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
