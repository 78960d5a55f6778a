package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/hoken/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist. It matches
// model.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("storage: %w", model.ErrNotFound)

// ErrDuplicatePayout is returned when a claim already has a recorded payout.
var ErrDuplicatePayout = errors.New("storage: claim already paid")

// ErrLimitExceeded is returned when recording a payout would push the payouts
// of its coverage period past the policy limit. It matches
// model.ErrInvariantViolation under errors.Is.
var ErrLimitExceeded = fmt.Errorf("storage: %w: payout exceeds policy limit", model.ErrInvariantViolation)

func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// mapNoRows converts pgx.ErrNoRows into ErrNotFound.
func mapNoRows(err error, kind string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
