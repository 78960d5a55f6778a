package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/hoken/internal/model"
)

// PutRobot inserts or replaces a robot spec.
func (db *DB) PutRobot(ctx context.Context, spec model.RobotSpec) error {
	if spec.RobotID == uuid.Nil {
		return fmt.Errorf("storage: put robot: %w: robot_id is required", model.ErrValidation)
	}
	doc, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("storage: put robot: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO robots (id, robot_type, spec) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET robot_type = EXCLUDED.robot_type, spec = EXCLUDED.spec, updated_at = now()`,
		spec.RobotID, spec.Type, doc,
	)
	if err != nil {
		return fmt.Errorf("storage: put robot: %w", err)
	}
	return nil
}

// Robot returns a robot spec by ID.
func (db *DB) Robot(ctx context.Context, robotID uuid.UUID) (model.RobotSpec, error) {
	var doc []byte
	if err := db.pool.QueryRow(ctx, `SELECT spec FROM robots WHERE id = $1`, robotID).Scan(&doc); err != nil {
		return model.RobotSpec{}, fmt.Errorf("storage: get robot: %w", mapNoRows(err, "robot", robotID))
	}
	var spec model.RobotSpec
	if err := json.Unmarshal(doc, &spec); err != nil {
		return model.RobotSpec{}, fmt.Errorf("storage: decode robot %s: %w", robotID, err)
	}
	return spec, nil
}

// PutTerms inserts or replaces a policy's coverage terms.
func (db *DB) PutTerms(ctx context.Context, terms model.CoverageTerms) error {
	if err := terms.Validate(); err != nil {
		return fmt.Errorf("storage: put terms: %w", err)
	}
	doc, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("storage: put terms: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO policies (id, coverage_type, coverage_limit, deductible, effective_date, expiration_date, terms)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     coverage_type = EXCLUDED.coverage_type,
		     coverage_limit = EXCLUDED.coverage_limit,
		     deductible = EXCLUDED.deductible,
		     effective_date = EXCLUDED.effective_date,
		     expiration_date = EXCLUDED.expiration_date,
		     terms = EXCLUDED.terms`,
		terms.PolicyID, terms.CoverageType, terms.Limit.StringFixed(2), terms.Deductible.StringFixed(2),
		terms.EffectiveDate, terms.ExpirationDate, doc,
	)
	if err != nil {
		return fmt.Errorf("storage: put terms: %w", err)
	}
	return nil
}

// Terms returns a policy's coverage terms.
func (db *DB) Terms(ctx context.Context, policyID uuid.UUID) (model.CoverageTerms, error) {
	var doc []byte
	if err := db.pool.QueryRow(ctx, `SELECT terms FROM policies WHERE id = $1`, policyID).Scan(&doc); err != nil {
		return model.CoverageTerms{}, fmt.Errorf("storage: get terms: %w", mapNoRows(err, "policy", policyID))
	}
	var terms model.CoverageTerms
	if err := json.Unmarshal(doc, &terms); err != nil {
		return model.CoverageTerms{}, fmt.Errorf("storage: decode terms %s: %w", policyID, err)
	}
	return terms, nil
}
