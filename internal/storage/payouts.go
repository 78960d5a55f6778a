package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/model"
)

const (
	commitRetries   = 3
	commitBaseDelay = 20 * time.Millisecond
)

// Payouts lists the payouts recorded against a policy.
func (db *DB) Payouts(ctx context.Context, policyID uuid.UUID) ([]model.Payout, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT claim_id, policy_id, amount::text, idempotency_key, authorization_ref, incident_date, paid_at
		 FROM payouts WHERE policy_id = $1 ORDER BY paid_at, claim_id`, policyID)
	if err != nil {
		return nil, fmt.Errorf("storage: list payouts: %w", err)
	}
	payouts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Payout, error) {
		var (
			p      model.Payout
			amount string
		)
		if err := row.Scan(&p.ClaimID, &p.PolicyID, &amount, &p.IdempotencyKey,
			&p.AuthorizationRef, &p.IncidentDate, &p.PaidAt); err != nil {
			return model.Payout{}, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return model.Payout{}, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		p.Amount = d
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list payouts: %w", err)
	}
	return payouts, nil
}

// CommitSettlement updates the claim and inserts its payout in one
// serializable transaction, retried on serialization conflicts. The policy row
// is locked FOR UPDATE and the period's payouts are re-summed inside the
// transaction, so the limit holds even when two processes settle the same
// policy without a shared lock.
func (db *DB) CommitSettlement(ctx context.Context, c model.Claim, p model.Payout) (model.Claim, error) {
	var out model.Claim
	err := WithRetry(ctx, commitRetries, commitBaseDelay, func() error {
		return pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			if err := checkLimitTx(ctx, tx, p); err != nil {
				return err
			}
			var err error
			if out, err = updateClaim(ctx, tx, c); err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO payouts (claim_id, policy_id, amount, idempotency_key, authorization_ref, incident_date, paid_at)
				 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
				p.ClaimID, p.PolicyID, p.Amount.StringFixed(2), p.IdempotencyKey,
				p.AuthorizationRef, p.IncidentDate, p.PaidAt,
			)
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicatePayout, p.ClaimID)
			}
			return err
		})
	})
	if err != nil {
		return model.Claim{}, fmt.Errorf("storage: commit settlement: %w", err)
	}
	return out, nil
}

// checkLimitTx locks the policy and verifies the payout fits in what is left
// of the coverage period containing its incident date.
func checkLimitTx(ctx context.Context, tx pgx.Tx, p model.Payout) error {
	var (
		limitText             string
		effective, expiration time.Time
	)
	err := tx.QueryRow(ctx,
		`SELECT coverage_limit::text, effective_date, expiration_date
		 FROM policies WHERE id = $1 FOR UPDATE`, p.PolicyID,
	).Scan(&limitText, &effective, &expiration)
	if err != nil {
		return mapNoRows(err, "policy", p.PolicyID)
	}
	var paidText string
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM payouts
		 WHERE policy_id = $1 AND incident_date BETWEEN $2 AND $3`,
		p.PolicyID, effective, expiration,
	).Scan(&paidText)
	if err != nil {
		return err
	}
	limit, err := decimal.NewFromString(limitText)
	if err != nil {
		return fmt.Errorf("parse limit %q: %w", limitText, err)
	}
	paid, err := decimal.NewFromString(paidText)
	if err != nil {
		return fmt.Errorf("parse payout sum %q: %w", paidText, err)
	}
	return fitsLimit(p, paid, limit)
}

func fitsLimit(p model.Payout, paid, limit decimal.Decimal) error {
	if paid.Add(p.Amount).GreaterThan(limit) {
		return fmt.Errorf("%w: policy %s has paid %s of %s, claim %s asks %s",
			ErrLimitExceeded, p.PolicyID, paid.StringFixed(2), limit.StringFixed(2), p.ClaimID, p.Amount.StringFixed(2))
	}
	return nil
}
