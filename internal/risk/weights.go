package risk

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hoken/internal/model"
)

// DefaultCategory is the weight category used for robot types without their own.
const DefaultCategory = "default"

// weightTolerance absorbs float noise when checking that weights sum to Total.
const weightTolerance = 1e-9

//go:embed default_weights.yaml
var defaultWeightsYAML []byte

// Band maps scores below UpTo to Multiplier. Bands are ordered by UpTo.
type Band struct {
	UpTo       float64 `yaml:"up_to"`
	Multiplier float64 `yaml:"multiplier"`
}

// WeightTable is versioned scoring configuration: per-category factor weights
// and the premium multiplier breakpoints. Swapping the table is the only way
// to change scoring behavior.
type WeightTable struct {
	Version    string                        `yaml:"version"`
	Total      float64                       `yaml:"total"`
	Categories map[string]map[string]float64 `yaml:"categories"`
	Bands      []Band                        `yaml:"bands"`

	semver *semver.Version
}

// LoadWeightTable parses and validates a YAML weight table.
func LoadWeightTable(r io.Reader) (*WeightTable, error) {
	var t WeightTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("risk: decode weight table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultWeightTable returns the embedded weight table.
func DefaultWeightTable() *WeightTable {
	t, err := LoadWeightTable(bytes.NewReader(defaultWeightsYAML))
	if err != nil {
		panic(fmt.Sprintf("risk: embedded weight table is invalid: %v", err))
	}
	return t
}

// Validate checks the table: a semantic version, a default category, every
// weight non-negative and naming a known factor, every category summing to
// Total, and multiplier bands that are ascending and monotonic.
func (t *WeightTable) Validate() error {
	var errs []error
	v, err := semver.NewVersion(t.Version)
	if err != nil {
		errs = append(errs, fmt.Errorf("version %q: %w", t.Version, err))
	} else {
		t.semver = v
	}
	if !(t.Total > 0) || math.IsInf(t.Total, 0) {
		errs = append(errs, fmt.Errorf("total must be a positive number, got %v", t.Total))
	}
	if _, ok := t.Categories[DefaultCategory]; !ok {
		errs = append(errs, fmt.Errorf("category %q is required", DefaultCategory))
	}
	for _, cat := range slices.Sorted(maps.Keys(t.Categories)) {
		weights := t.Categories[cat]
		var sum float64
		for _, name := range slices.Sorted(maps.Keys(weights)) {
			w := weights[name]
			if !slices.Contains(FactorNames, name) {
				errs = append(errs, fmt.Errorf("category %q: unknown factor %q", cat, name))
			}
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				errs = append(errs, fmt.Errorf("category %q: factor %q has invalid weight %v", cat, name, w))
			}
			sum += w
		}
		if math.Abs(sum-t.Total) > weightTolerance {
			errs = append(errs, fmt.Errorf("category %q: weights sum to %v, want %v", cat, sum, t.Total))
		}
	}
	if err := validateBands(t.Bands); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: weight table: %w", model.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func validateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("at least one multiplier band is required")
	}
	prevUpTo, prevMult := 0.0, 0.0
	for i, b := range bands {
		if !(b.Multiplier >= 0) || math.IsInf(b.Multiplier, 0) {
			return fmt.Errorf("band %d: multiplier must be a non-negative number, got %v", i, b.Multiplier)
		}
		if math.IsNaN(b.UpTo) || b.UpTo <= prevUpTo {
			return fmt.Errorf("band %d: up_to %v must exceed %v", i, b.UpTo, prevUpTo)
		}
		if b.Multiplier < prevMult {
			return fmt.Errorf("band %d: multiplier %v decreases from %v; multipliers must be monotonic", i, b.Multiplier, prevMult)
		}
		prevUpTo, prevMult = b.UpTo, b.Multiplier
	}
	if bands[len(bands)-1].UpTo < MaxScore {
		return fmt.Errorf("last band must reach %v", MaxScore)
	}
	return nil
}

// SemVer returns the parsed version. Only valid after Validate.
func (t *WeightTable) SemVer() *semver.Version { return t.semver }

// Newer reports whether t supersedes other.
func (t *WeightTable) Newer(other *WeightTable) bool {
	if other == nil || other.semver == nil {
		return true
	}
	return t.semver != nil && t.semver.GreaterThan(other.semver)
}

// Weights returns the weights for a robot type, falling back to the default category.
func (t *WeightTable) Weights(rt model.RobotType) (string, map[string]float64) {
	if w, ok := t.Categories[string(rt)]; ok {
		return string(rt), w
	}
	return DefaultCategory, t.Categories[DefaultCategory]
}

// Multiplier maps a risk score to its premium multiplier. Bands are half-open
// on the right: a score equal to a band's UpTo belongs to the next band.
// Scores at or above the last bound use the last band.
func (t *WeightTable) Multiplier(score float64) decimal.Decimal {
	for _, b := range t.Bands {
		if score < b.UpTo {
			return decimal.NewFromFloat(b.Multiplier)
		}
	}
	return decimal.NewFromFloat(t.Bands[len(t.Bands)-1].Multiplier)
}
