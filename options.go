package hoken

import (
	"io/fs"
	"log/slog"
	"time"

	"github.com/ashita-ai/hoken/internal/config"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	config          *config.Config
	databaseURL     string
	redisURL        string
	logger          *slog.Logger
	version         string
	now             func() time.Time
	payments        PaymentGateway
	diagnostics     DiagnosticProvider
	compliance      ComplianceChecker
	extraMigrations []fs.FS
}

// WithConfig supplies the configuration directly instead of reading it from
// the environment. The value is validated by New.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.config = &cfg }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithRedisURL overrides the Redis URL used for the distributed policy lock (REDIS_URL env var).
func WithRedisURL(url string) Option {
	return func(o *resolvedOptions) { o.redisURL = url }
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClock replaces time.Now. Tests use it to pin profile, estimate and
// decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.now = now }
}

// WithPaymentGateway sets the gateway that authorizes payouts.
// Without one, Claims returns ErrNotAvailable.
func WithPaymentGateway(g PaymentGateway) Option {
	return func(o *resolvedOptions) { o.payments = g }
}

// WithDiagnosticProvider sets the telemetry source used to fetch missing
// pre- and post-incident snapshots during assessment. Calls are throttled
// per robot when HOKEN_DIAGNOSTIC_RPS is set.
func WithDiagnosticProvider(p DiagnosticProvider) Option {
	return func(o *resolvedOptions) { o.diagnostics = p }
}

// WithComplianceChecker sets the jurisdiction check used by BindableQuote.
// Without one, BindableQuote returns the priced quote marked not bindable,
// with an error wrapping ErrNotAvailable.
func WithComplianceChecker(c ComplianceChecker) Option {
	return func(o *resolvedOptions) { o.compliance = c }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the
// embedded migrations. Only used with a database. Multiple filesystems are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
