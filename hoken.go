// Package hoken is the public API for embedding the robot insurance engine:
// risk scoring, premium quotes, damage assessment and claim settlement.
//
//	eng, err := hoken.New(ctx,
//	    hoken.WithLogger(logger),
//	    hoken.WithPaymentGateway(gateway),
//	    hoken.WithDiagnosticProvider(telemetry),
//	)
//	if err != nil { ... }
//	defer eng.Close(ctx)
//
// Without DATABASE_URL the engine keeps state in memory; without REDIS_URL
// settlements on a policy are serialized in-process only.
package hoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/hoken/internal/assessment"
	"github.com/ashita-ai/hoken/internal/audit"
	"github.com/ashita-ai/hoken/internal/claims"
	"github.com/ashita-ai/hoken/internal/config"
	"github.com/ashita-ai/hoken/internal/model"
	"github.com/ashita-ai/hoken/internal/policylock"
	"github.com/ashita-ai/hoken/internal/premium"
	"github.com/ashita-ai/hoken/internal/ratelimit"
	"github.com/ashita-ai/hoken/internal/risk"
	"github.com/ashita-ai/hoken/internal/storage"
	"github.com/ashita-ai/hoken/internal/telemetry"
	"github.com/ashita-ai/hoken/migrations"
)

// store is what the engine needs from a storage backend. Both the Postgres
// DB and the in-memory store satisfy it.
type store interface {
	claims.Repository
	claims.PayoutLedger
	claims.IdempotencyStore
	claims.CoverageStore
	claims.RobotRegistry
	risk.ProfileStore
	PutRobot(ctx context.Context, spec model.RobotSpec) error
	PutTerms(ctx context.Context, terms model.CoverageTerms) error
}

var (
	_ store = (*storage.DB)(nil)
	_ store = (*storage.MemoryStore)(nil)
)

// Engine wires the scoring, pricing, assessment and claims components onto
// one storage backend. Construct with New; release with Close.
type Engine struct {
	cfg     config.Config
	logger  *slog.Logger
	version string
	now     func() time.Time

	store   store
	db      *storage.DB           // nil with the in-memory store
	redis   redis.UniversalClient // nil with the in-process lock
	ledger  *audit.SQLiteSink     // nil when HOKEN_AUDIT_SQLITE is unset
	limiter ratelimit.Limiter

	risk       *risk.Engine
	premium    *premium.Calculator
	assessor   *assessment.Engine
	claims     *claims.Service // nil without a payment gateway
	compliance ComplianceChecker

	otelShutdown telemetry.Shutdown
}

// New loads configuration, connects storage, runs migrations and wires every
// component. It starts no goroutines besides the optional limiter sweeper.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := o.now
	if now == nil {
		now = time.Now
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var cfg config.Config
	if o.config != nil {
		cfg = *o.config
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		version:    version,
		now:        now,
		compliance: o.compliance,
	}
	if err := e.init(ctx, o); err != nil {
		_ = e.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	logger.Info("hoken ready",
		"version", version,
		"storage", e.storageKind(),
		"policy_lock", e.lockKind(),
		"audit_ledger", cfg.AuditSQLitePath != "",
		"claims", e.claims != nil,
	)
	return e, nil
}

func (e *Engine) init(ctx context.Context, o resolvedOptions) error {
	cfg := e.cfg

	shutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     e.version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return err
	}
	e.otelShutdown = shutdown

	if err := e.openStore(ctx, o); err != nil {
		return err
	}
	locker, err := e.openLocker(ctx)
	if err != nil {
		return err
	}

	sink := audit.Sink(audit.LogSink{Logger: e.logger})
	if cfg.AuditSQLitePath != "" {
		ledger, err := audit.OpenSQLite(ctx, cfg.AuditSQLitePath)
		if err != nil {
			return fmt.Errorf("audit ledger: %w", err)
		}
		e.ledger = ledger
		sink = audit.Multi{sink, ledger}
	}
	emitter := audit.NewEmitter(sink, e.logger, e.now)

	table := risk.DefaultWeightTable()
	if cfg.WeightTablePath != "" {
		if table, err = loadWeightTable(cfg.WeightTablePath); err != nil {
			return err
		}
	}
	e.risk = risk.NewEngine(risk.EngineConfig{
		Store:  e.store,
		Table:  table,
		Audit:  emitter,
		Logger: e.logger,
		Now:    e.now,
	})
	e.premium = premium.NewCalculator(nil, cfg.Currency)
	e.assessor = assessment.NewEngine(assessment.DefaultTables(), e.logger, e.now)

	if o.payments == nil {
		e.logger.Warn("claims: disabled", "reason", "no payment gateway configured")
		return nil
	}
	var diagnostics claims.DiagnosticProvider
	if o.diagnostics != nil {
		diagnostics = o.diagnostics
		if cfg.DiagnosticRPS > 0 {
			e.limiter = ratelimit.NewMemoryLimiter(cfg.DiagnosticRPS, cfg.DiagnosticBurst)
			diagnostics = ratelimit.Throttle(o.diagnostics, e.limiter, e.logger)
		}
	}
	e.claims, err = claims.NewService(cfg.Claims(), claims.Deps{
		Claims:      e.store,
		Payouts:     e.store,
		Idempotency: e.store,
		Coverage:    e.store,
		Robots:      e.store,
		Profiles:    e.store,
		Assessor:    e.assessor,
		Diagnostics: diagnostics,
		Payments:    o.payments,
		Locker:      locker,
		Audit:       emitter,
		Logger:      e.logger,
		Now:         e.now,
	})
	return err
}

func (e *Engine) openStore(ctx context.Context, o resolvedOptions) error {
	if e.cfg.DatabaseURL == "" {
		e.store = storage.NewMemoryStore()
		return nil
	}
	db, err := storage.New(ctx, e.cfg.DatabaseURL, e.logger)
	if err != nil {
		return err
	}
	e.db = db
	e.store = db
	if _, err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for i, extra := range o.extraMigrations {
		if _, err := db.RunMigrations(ctx, extra); err != nil {
			return fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) openLocker(ctx context.Context) (claims.Locker, error) {
	if e.cfg.RedisURL == "" {
		if e.cfg.DatabaseURL != "" {
			e.logger.Warn("hoken: REDIS_URL not set; policy lock is per process, concurrent settlements from other instances are caught only at commit")
		}
		return policylock.NewKeyedMutex(), nil
	}
	opts, err := redis.ParseURL(e.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	e.redis = client
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return policylock.NewRedisLocker(client, policylock.RedisConfig{TTL: e.cfg.LockTTL}, e.logger), nil
}

func loadWeightTable(path string) (*risk.WeightTable, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("weight table: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := risk.LoadWeightTable(f)
	if err != nil {
		return nil, fmt.Errorf("weight table %s: %w", path, err)
	}
	return t, nil
}

// Close releases every resource New acquired. It is safe on a partially
// constructed Engine.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.limiter != nil {
		errs = append(errs, e.limiter.Close())
	}
	if e.ledger != nil {
		errs = append(errs, e.ledger.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.db != nil {
		e.db.Close()
	}
	if e.otelShutdown != nil {
		errs = append(errs, e.otelShutdown(ctx))
	}
	return errors.Join(errs...)
}

// RegisterRobot validates and stores a robot's specification, replacing any
// earlier record for the same robot.
func (e *Engine) RegisterRobot(ctx context.Context, spec RobotSpec) error {
	if err := (risk.Extractor{}).Validate(risk.Input{Spec: spec}); err != nil {
		return err
	}
	if err := model.ValidateAmount("replacement value", spec.ReplacementValue); err != nil {
		return err
	}
	return e.store.PutRobot(ctx, spec)
}

// BindPolicy stores the coverage terms for a policy. Claims can only be filed
// against bound policies.
func (e *Engine) BindPolicy(ctx context.Context, terms CoverageTerms) error {
	if err := terms.Validate(); err != nil {
		return err
	}
	return e.store.PutTerms(ctx, terms)
}

// ScoreRobot computes and stores a new risk profile version for a registered
// robot from its latest diagnostics and incident history.
func (e *Engine) ScoreRobot(ctx context.Context, robotID uuid.UUID, snapshot *DiagnosticSnapshot, history IncidentHistory) (RiskProfile, error) {
	spec, err := e.store.Robot(ctx, robotID)
	if err != nil {
		return RiskProfile{}, fmt.Errorf("score robot %s: %w", robotID, err)
	}
	return e.risk.Score(ctx, risk.Input{
		Spec:     spec,
		Snapshot: snapshot,
		History:  history,
		AsOf:     e.now().UTC(),
	})
}

// RiskHistory returns every stored profile version for a robot, oldest first.
func (e *Engine) RiskHistory(ctx context.Context, robotID uuid.UUID) ([]RiskProfile, error) {
	return e.risk.History(ctx, robotID)
}

// Quote prices coverage from the robot's latest risk profile.
func (e *Engine) Quote(ctx context.Context, robotID uuid.UUID, coverage CoverageType, tier Tier) (Quote, error) {
	profile, err := e.risk.Latest(ctx, robotID)
	if err != nil {
		return Quote{}, fmt.Errorf("quote robot %s: %w", robotID, err)
	}
	return e.premium.Premium(profile, coverage, tier)
}

// BindableQuote prices the terms and runs the compliance check for the
// terms' jurisdiction, defaulting to HOKEN_JURISDICTION.
func (e *Engine) BindableQuote(ctx context.Context, robotID uuid.UUID, terms CoverageTerms, tier Tier) (Quote, error) {
	profile, err := e.risk.Latest(ctx, robotID)
	if err != nil {
		return Quote{}, fmt.Errorf("quote robot %s: %w", robotID, err)
	}
	if terms.Jurisdiction == "" {
		terms.Jurisdiction = e.cfg.Jurisdiction
	}
	var checker premium.ComplianceChecker
	if e.compliance != nil {
		checker = e.compliance
	}
	q, err := e.premium.BindableQuote(ctx, checker, profile, terms, tier)
	if errors.Is(err, ErrNotAvailable) {
		e.logger.Warn("hoken: quote not bindable without a compliance checker", "robot_id", robotID)
	}
	return q, err
}

// Claims returns the claim lifecycle service. It is unavailable when no
// payment gateway was configured.
func (e *Engine) Claims() (*claims.Service, error) {
	if e.claims == nil {
		return nil, fmt.Errorf("%w: claims need a payment gateway", ErrNotAvailable)
	}
	return e.claims, nil
}

// Risk returns the risk scoring engine.
func (e *Engine) Risk() *risk.Engine { return e.risk }

// AuditLedger returns the SQLite audit ledger, or nil if none is configured.
func (e *Engine) AuditLedger() *audit.SQLiteSink { return e.ledger }

func (e *Engine) storageKind() string {
	if e.db != nil {
		return "postgres"
	}
	return "memory"
}

func (e *Engine) lockKind() string {
	if e.redis != nil {
		return "redis"
	}
	return "in-process"
}
