package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hoken"
	"github.com/ashita-ai/hoken/internal/claims"
)

// scenario is the input file for score, quote and assess: a robot, its
// latest diagnostics and history, and optionally a policy and a claim.
type scenario struct {
	Robot    hoken.RobotSpec           `json:"robot"`
	Snapshot *hoken.DiagnosticSnapshot `json:"snapshot,omitempty"`
	History  hoken.IncidentHistory     `json:"history"`
	Policy   *hoken.CoverageTerms      `json:"policy,omitempty"`
	Claim    *claims.NewClaim          `json:"claim,omitempty"`
}

// loadScenario reads a YAML or JSON scenario and fills in the ids the file
// left out so the parts refer to each other.
func loadScenario(path string) (scenario, error) {
	var sc scenario
	if err := decodeFile(path, &sc); err != nil {
		return scenario{}, err
	}
	if sc.Robot.RobotID == uuid.Nil {
		sc.Robot.RobotID = uuid.New()
	}
	if sc.Snapshot != nil && sc.Snapshot.RobotID == uuid.Nil {
		sc.Snapshot.RobotID = sc.Robot.RobotID
	}
	if sc.Policy != nil && sc.Policy.PolicyID == uuid.Nil {
		sc.Policy.PolicyID = uuid.New()
	}
	if sc.Claim != nil {
		if sc.Claim.RobotID == uuid.Nil {
			sc.Claim.RobotID = sc.Robot.RobotID
		}
		if sc.Claim.PolicyID == uuid.Nil && sc.Policy != nil {
			sc.Claim.PolicyID = sc.Policy.PolicyID
		}
	}
	return sc, nil
}

// decodeFile decodes a .json file directly. Anything else is parsed as YAML
// and re-encoded as JSON, so the domain types' json tags and decimal and
// time decoding apply to both formats.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return fmt.Errorf("convert %s: %w", path, err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
