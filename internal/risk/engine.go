package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/hoken/internal/audit"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/telemetry"
)

// MaxScore is the upper bound of the risk score scale.
const MaxScore = 100.0

const defaultCacheSize = 4096

// ProfileStore is the append-only risk profile history, keyed by robot.
// AppendProfile assigns the next version number and returns the stored profile.
type ProfileStore interface {
	AppendProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	LatestProfile(ctx context.Context, robotID uuid.UUID) (model.RiskProfile, error)
	ProfileVersions(ctx context.Context, robotID uuid.UUID) ([]model.RiskProfile, error)
}

// Evaluation is the side-effect-free result of scoring an input.
type Evaluation struct {
	Factors      []model.RiskFactor
	Score        float64
	Level        model.RiskLevel
	Multiplier   decimal.Decimal
	Category     string
	InputHash    string
	TableVersion string
}

// EngineConfig holds the dependencies for NewEngine.
type EngineConfig struct {
	Store     ProfileStore
	Table     *WeightTable // nil uses DefaultWeightTable
	Audit     *audit.Emitter
	Logger    *slog.Logger
	Now       func() time.Time
	CacheSize int
}

// Engine aggregates risk factors into versioned risk profiles. Evaluation is
// pure and cached by input hash and weight table version; Score additionally
// appends a new profile version to the store.
type Engine struct {
	extractor Extractor
	table     atomic.Pointer[WeightTable]
	store     ProfileStore
	audit     *audit.Emitter
	logger    *slog.Logger
	now       func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	cache     map[string]Evaluation
	cacheSize int

	scoreHist metric.Float64Histogram
}

// NewEngine creates a scoring engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Table == nil {
		cfg.Table = DefaultWeightTable()
	}
	meter := telemetry.Meter("hoken/risk")
	hist, _ := meter.Float64Histogram("hoken.risk.score",
		metric.WithDescription("Computed risk scores"),
	)
	e := &Engine{
		store:     cfg.Store,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		now:       cfg.Now,
		cache:     make(map[string]Evaluation),
		cacheSize: cfg.CacheSize,
		scoreHist: hist,
	}
	e.table.Store(cfg.Table)
	return e
}

// Table returns the active weight table.
func (e *Engine) Table() *WeightTable { return e.table.Load() }

// SetWeightTable validates and swaps in a new weight table. The new table
// must carry a higher version than the active one: cached evaluations are
// keyed by version, so reusing a version with different weights would keep
// serving the old scores. The cache is dropped on every swap.
func (e *Engine) SetWeightTable(t *WeightTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.table.Load()
	if !t.Newer(prev) {
		return fmt.Errorf("%w: weight table version %s is not newer than active %s", model.ErrValidation, t.Version, prev.Version)
	}
	e.table.Store(t)
	e.cache = make(map[string]Evaluation)
	e.logger.Info("risk: weight table swapped", "from", prev.Version, "to", t.Version)
	return nil
}

// Evaluate scores an input without persisting anything. Identical inputs
// produce identical evaluations; concurrent identical requests share one
// computation.
func (e *Engine) Evaluate(in Input) (Evaluation, error) {
	if err := e.extractor.Validate(in); err != nil {
		return Evaluation{}, err
	}
	table := e.table.Load()
	hash, err := e.extractor.Hash(in)
	if err != nil {
		return Evaluation{}, fmt.Errorf("risk: hash input: %w", err)
	}
	key := table.Version + "|" + hash

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cloneEvaluation(cached), nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		ev, err := evaluate(e.extractor, table, in)
		if err != nil {
			return Evaluation{}, err
		}
		e.mu.Lock()
		if len(e.cache) >= e.cacheSize {
			e.cache = make(map[string]Evaluation)
		}
		e.cache[key] = ev
		e.mu.Unlock()
		return ev, nil
	})
	if err != nil {
		return Evaluation{}, err
	}
	return cloneEvaluation(v.(Evaluation)), nil
}

func evaluate(ex Extractor, table *WeightTable, in Input) (Evaluation, error) {
	raw, hash, err := ex.Extract(in)
	if err != nil {
		return Evaluation{}, err
	}
	category, weights := table.Weights(in.Spec.Type)

	factors := make([]model.RiskFactor, len(raw))
	var sum float64
	for i, f := range raw {
		f.Weight = weights[f.Name]
		sum += f.Weight * f.NormalizedValue
		factors[i] = f
	}
	score := math.Round(sum/table.Total*MaxScore*100) / 100
	score = math.Max(0, math.Min(MaxScore, score))

	return Evaluation{
		Factors:      factors,
		Score:        score,
		Level:        Level(score),
		Multiplier:   table.Multiplier(score),
		Category:     category,
		InputHash:    hash,
		TableVersion: table.Version,
	}, nil
}

// Score evaluates the input and appends the result as a new profile version.
// Prior versions are never modified.
func (e *Engine) Score(ctx context.Context, in Input) (model.RiskProfile, error) {
	ev, err := e.Evaluate(in)
	if err != nil {
		return model.RiskProfile{}, err
	}
	p := model.RiskProfile{
		RobotID:            in.Spec.RobotID,
		RiskScore:          ev.Score,
		RiskLevel:          ev.Level,
		Factors:            ev.Factors,
		PremiumMultiplier:  ev.Multiplier,
		WeightTableVersion: ev.TableVersion,
		ComputedAt:         e.now().UTC(),
		InputSnapshotHash:  ev.InputHash,
	}
	if e.store != nil {
		p, err = e.store.AppendProfile(ctx, p)
		if err != nil {
			return model.RiskProfile{}, fmt.Errorf("risk: append profile: %w", err)
		}
	}
	e.scoreHist.Record(ctx, p.RiskScore, metric.WithAttributes(attribute.String("category", ev.Category)))
	e.audit.Emit(ctx, model.AuditRiskProfile, p.RobotID.String(), p.InputSnapshotHash, p)
	e.logger.Debug("risk: profile computed",
		"robot_id", p.RobotID, "version", p.Version, "score", p.RiskScore, "multiplier", p.PremiumMultiplier.String())
	return p, nil
}

// Latest returns the newest profile for a robot.
func (e *Engine) Latest(ctx context.Context, robotID uuid.UUID) (model.RiskProfile, error) {
	if e.store == nil {
		return model.RiskProfile{}, fmt.Errorf("risk: latest profile: %w", model.ErrNotFound)
	}
	return e.store.LatestProfile(ctx, robotID)
}

// History returns every profile version for a robot, oldest first.
func (e *Engine) History(ctx context.Context, robotID uuid.UUID) ([]model.RiskProfile, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ProfileVersions(ctx, robotID)
}

// Level maps a score onto the display bands.
func Level(score float64) model.RiskLevel {
	switch {
	case score < 20:
		return model.RiskLevelLow
	case score < 50:
		return model.RiskLevelMedium
	case score < 80:
		return model.RiskLevelHigh
	default:
		return model.RiskLevelCritical
	}
}

func cloneEvaluation(ev Evaluation) Evaluation {
	ev.Factors = append([]model.RiskFactor(nil), ev.Factors...)
	return ev
}
