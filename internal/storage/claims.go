package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/hoken/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateClaim inserts a new claim.
func (db *DB) CreateClaim(ctx context.Context, c model.Claim) error {
	if err := insertClaim(ctx, db.pool, c); err != nil {
		return fmt.Errorf("storage: create claim: %w", err)
	}
	return nil
}

// GetClaim returns a claim by ID.
func (db *DB) GetClaim(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	var doc []byte
	err := db.pool.QueryRow(ctx, `SELECT document FROM claims WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return model.Claim{}, fmt.Errorf("storage: get claim: %w", mapNoRows(err, "claim", id))
	}
	var c model.Claim
	if err := json.Unmarshal(doc, &c); err != nil {
		return model.Claim{}, fmt.Errorf("storage: decode claim %s: %w", id, err)
	}
	return c, nil
}

// UpdateClaim writes c if the stored version still equals c.Version and
// returns the claim with its version bumped.
func (db *DB) UpdateClaim(ctx context.Context, c model.Claim) (model.Claim, error) {
	out, err := updateClaim(ctx, db.pool, c)
	if err != nil {
		return model.Claim{}, fmt.Errorf("storage: update claim: %w", err)
	}
	return out, nil
}

// CreateFollowUp updates original and inserts followUp in one transaction.
func (db *DB) CreateFollowUp(ctx context.Context, original, followUp model.Claim) (model.Claim, error) {
	var out model.Claim
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		var err error
		if out, err = updateClaim(ctx, tx, original); err != nil {
			return err
		}
		return insertClaim(ctx, tx, followUp)
	})
	if err != nil {
		return model.Claim{}, fmt.Errorf("storage: create follow-up claim: %w", err)
	}
	return out, nil
}

// ClaimsByPolicy lists a policy's claims, oldest first.
func (db *DB) ClaimsByPolicy(ctx context.Context, policyID uuid.UUID) ([]model.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT document FROM claims WHERE policy_id = $1 ORDER BY created_at, id`, policyID)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("storage: list claims: %w", err)
	}
	out := make([]model.Claim, 0, len(docs))
	for _, doc := range docs {
		var c model.Claim
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("storage: decode claim: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func insertClaim(ctx context.Context, q querier, c model.Claim) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO claims (id, policy_id, robot_id, parent_claim_id, state, idempotency_key,
		                     version, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.PolicyID, c.RobotID, c.ParentClaimID, c.State, c.IdempotencyKey,
		c.Version, doc, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: claim %s already exists", model.ErrValidation, c.ID)
	}
	return err
}

func updateClaim(ctx context.Context, q querier, c model.Claim) (model.Claim, error) {
	next := c.Clone()
	next.Version = c.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return model.Claim{}, fmt.Errorf("encode claim: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE claims SET state = $3, version = $4, document = $5, updated_at = $6
		 WHERE id = $1 AND version = $2`,
		c.ID, c.Version, next.State, next.Version, doc, next.UpdatedAt,
	)
	if err != nil {
		return model.Claim{}, err
	}
	if tag.RowsAffected() == 1 {
		return next, nil
	}
	var stored int
	err = q.QueryRow(ctx, `SELECT version FROM claims WHERE id = $1`, c.ID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Claim{}, notFound("claim", c.ID)
	}
	if err != nil {
		return model.Claim{}, err
	}
	return model.Claim{}, fmt.Errorf("%w: claim %s is at version %d, not %d", model.ErrConcurrentUpdate, c.ID, stored, c.Version)
}
