package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hoken/internal/model"
)

// AppendProfile stores p as the robot's next profile version. Appends for
// the same robot are serialized with a transaction-scoped advisory lock.
func (db *DB) AppendProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	stored := p.Clone()
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, p.RobotID.String()); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM risk_profiles WHERE robot_id = $1`, p.RobotID,
		).Scan(&stored.Version); err != nil {
			return err
		}
		body, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO risk_profiles (robot_id, version, risk_score, profile, computed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			stored.RobotID, stored.Version, stored.RiskScore, body, stored.ComputedAt,
		)
		return err
	})
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("storage: append profile: %w", err)
	}
	return stored, nil
}

// LatestProfile returns the newest profile version for a robot.
func (db *DB) LatestProfile(ctx context.Context, robotID uuid.UUID) (model.RiskProfile, error) {
	var body []byte
	if err := db.pool.QueryRow(ctx,
		`SELECT profile FROM risk_profiles WHERE robot_id = $1 ORDER BY version DESC LIMIT 1`, robotID,
	).Scan(&body); err != nil {
		return model.RiskProfile{}, fmt.Errorf("storage: latest profile: %w", mapNoRows(err, "risk profile for robot", robotID))
	}
	var p model.RiskProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return model.RiskProfile{}, fmt.Errorf("storage: decode profile: %w", err)
	}
	return p, nil
}

// ProfileVersions returns every profile version for a robot, oldest first.
func (db *DB) ProfileVersions(ctx context.Context, robotID uuid.UUID) ([]model.RiskProfile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT profile FROM risk_profiles WHERE robot_id = $1 ORDER BY version`, robotID)
	if err != nil {
		return nil, fmt.Errorf("storage: profile versions: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("storage: profile versions: %w", err)
	}
	out := make([]model.RiskProfile, 0, len(bodies))
	for _, b := range bodies {
		var p model.RiskProfile
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("storage: decode profile: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
