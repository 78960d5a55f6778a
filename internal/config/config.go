// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/hoken/internal/claims"
)

// Config holds all application configuration.
type Config struct {
	// Storage. Empty DatabaseURL selects the in-memory store.
	DatabaseURL     string
	RedisURL        string // Empty selects the in-process policy lock.
	AuditSQLitePath string // Empty disables the SQLite audit ledger.
	LockTTL         time.Duration

	// Risk and premium.
	WeightTablePath string // Empty uses the embedded default table.
	Currency        string
	Jurisdiction    string

	// Claims lifecycle.
	ConfidenceFloor      float64
	AutoApprovalCeiling  decimal.Decimal
	SettlementMaxRetries int
	SettlementBaseDelay  time.Duration
	SettlementMaxDelay   time.Duration
	PaymentTimeout       time.Duration
	DiagnosticTimeout    time.Duration

	// Diagnostic provider throttling. Zero DiagnosticRPS disables it.
	DiagnosticRPS   float64
	DiagnosticBurst int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// Defaults returns the configuration Load produces with no environment set.
func Defaults() Config {
	return Config{
		LockTTL:              30 * time.Second,
		Currency:             "USD",
		Jurisdiction:         "US",
		ConfidenceFloor:      0.6,
		AutoApprovalCeiling:  decimal.NewFromInt(25000),
		SettlementMaxRetries: 5,
		SettlementBaseDelay:  200 * time.Millisecond,
		SettlementMaxDelay:   10 * time.Second,
		PaymentTimeout:       5 * time.Second,
		DiagnosticTimeout:    5 * time.Second,
		DiagnosticBurst:      5,
		ServiceName:          "hoken",
		LogLevel:             "info",
	}
}

// Load reads configuration from environment variables on top of Defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	d := Defaults()
	cfg := Config{
		DatabaseURL:     envStr("DATABASE_URL", d.DatabaseURL),
		RedisURL:        envStr("REDIS_URL", d.RedisURL),
		AuditSQLitePath: envStr("HOKEN_AUDIT_SQLITE", d.AuditSQLitePath),
		WeightTablePath: envStr("HOKEN_WEIGHT_TABLE", d.WeightTablePath),
		Currency:        strings.ToUpper(envStr("HOKEN_CURRENCY", d.Currency)),
		Jurisdiction:    envStr("HOKEN_JURISDICTION", d.Jurisdiction),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", d.OTELEndpoint),
		ServiceName:     envStr("OTEL_SERVICE_NAME", d.ServiceName),
		LogLevel:        envStr("HOKEN_LOG_LEVEL", d.LogLevel),
	}

	var err error
	cfg.ConfidenceFloor, err = envFloat("HOKEN_CONFIDENCE_FLOOR", d.ConfidenceFloor)
	collect(err)
	cfg.AutoApprovalCeiling, err = envDecimal("HOKEN_AUTO_APPROVAL_CEILING", d.AutoApprovalCeiling)
	collect(err)
	cfg.SettlementMaxRetries, err = envInt("HOKEN_SETTLEMENT_MAX_RETRIES", d.SettlementMaxRetries)
	collect(err)
	cfg.SettlementBaseDelay, err = envDuration("HOKEN_SETTLEMENT_BASE_DELAY", d.SettlementBaseDelay)
	collect(err)
	cfg.SettlementMaxDelay, err = envDuration("HOKEN_SETTLEMENT_MAX_DELAY", d.SettlementMaxDelay)
	collect(err)
	cfg.PaymentTimeout, err = envDuration("HOKEN_PAYMENT_TIMEOUT", d.PaymentTimeout)
	collect(err)
	cfg.DiagnosticTimeout, err = envDuration("HOKEN_DIAGNOSTIC_TIMEOUT", d.DiagnosticTimeout)
	collect(err)
	cfg.DiagnosticRPS, err = envFloat("HOKEN_DIAGNOSTIC_RPS", d.DiagnosticRPS)
	collect(err)
	cfg.DiagnosticBurst, err = envInt("HOKEN_DIAGNOSTIC_BURST", d.DiagnosticBurst)
	collect(err)
	cfg.LockTTL, err = envDuration("HOKEN_LOCK_TTL", d.LockTTL)
	collect(err)
	cfg.OTELInsecure, err = envBool("HOKEN_OTEL_INSECURE", d.OTELInsecure)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are in range.
func (c Config) Validate() error {
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("config: HOKEN_CONFIDENCE_FLOOR must be within [0,1]")
	}
	if !c.AutoApprovalCeiling.IsPositive() {
		return fmt.Errorf("config: HOKEN_AUTO_APPROVAL_CEILING must be positive")
	}
	if c.SettlementMaxRetries < 0 {
		return fmt.Errorf("config: HOKEN_SETTLEMENT_MAX_RETRIES must be non-negative")
	}
	if c.SettlementBaseDelay <= 0 || c.SettlementMaxDelay < c.SettlementBaseDelay {
		return fmt.Errorf("config: settlement delays must satisfy 0 < base <= max")
	}
	if c.PaymentTimeout <= 0 || c.DiagnosticTimeout <= 0 {
		return fmt.Errorf("config: external call timeouts must be positive")
	}
	if c.DiagnosticRPS < 0 || (c.DiagnosticRPS > 0 && c.DiagnosticBurst < 1) {
		return fmt.Errorf("config: diagnostic throttling needs a non-negative rate and a burst of at least 1")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("config: HOKEN_CURRENCY must be a three-letter code")
	}
	return nil
}

// Claims returns the lifecycle tunables.
func (c Config) Claims() claims.Config {
	return claims.Config{
		ConfidenceFloor:     c.ConfidenceFloor,
		AutoApprovalCeiling: c.AutoApprovalCeiling,
		MaxRetries:          c.SettlementMaxRetries,
		BaseDelay:           c.SettlementBaseDelay,
		MaxDelay:            c.SettlementMaxDelay,
		PaymentTimeout:      c.PaymentTimeout,
		DiagnosticTimeout:   c.DiagnosticTimeout,
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s=%q is not a valid decimal", key, v)
	}
	return d, nil
}
