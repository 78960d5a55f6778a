package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDecimalInvalid(t *testing.T) {
	t.Setenv("TEST_DEC_BAD", "12,000")
	_, err := envDecimal("TEST_DEC_BAD", decimal.Zero)
	if err == nil {
		t.Fatal("expected error for invalid decimal, got nil")
	}
	if got := err.Error(); got != `TEST_DEC_BAD="12,000" is not a valid decimal` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidRetries(t *testing.T) {
	t.Setenv("HOKEN_SETTLEMENT_MAX_RETRIES", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid HOKEN_SETTLEMENT_MAX_RETRIES")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "HOKEN_SETTLEMENT_MAX_RETRIES") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention HOKEN_SETTLEMENT_MAX_RETRIES and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("HOKEN_PAYMENT_TIMEOUT", "soon")
	t.Setenv("HOKEN_CONFIDENCE_FLOOR", "high")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "HOKEN_PAYMENT_TIMEOUT") {
		t.Fatalf("error should mention HOKEN_PAYMENT_TIMEOUT, got: %s", got)
	}
	if !strings.Contains(got, "HOKEN_CONFIDENCE_FLOOR") {
		t.Fatalf("error should mention HOKEN_CONFIDENCE_FLOOR, got: %s", got)
	}
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"HOKEN_CONFIDENCE_FLOOR":       "1.5",
		"HOKEN_AUTO_APPROVAL_CEILING":  "0",
		"HOKEN_SETTLEMENT_MAX_RETRIES": "-1",
		"HOKEN_SETTLEMENT_MAX_DELAY":   "1ms",
		"HOKEN_CURRENCY":               "DOLLARS",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected Load() to reject %s=%s", key, val)
			}
		})
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.ConfidenceFloor != 0.6 {
		t.Fatalf("expected default confidence floor 0.6, got %v", cfg.ConfidenceFloor)
	}
	if cfg.SettlementMaxRetries != 5 {
		t.Fatalf("expected default max retries 5, got %d", cfg.SettlementMaxRetries)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", cfg.Currency)
	}

	cc := cfg.Claims()
	if !cc.AutoApprovalCeiling.Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("expected ceiling 25000, got %s", cc.AutoApprovalCeiling)
	}
	if cc.DiagnosticTimeout != 5*time.Second {
		t.Fatalf("expected diagnostic timeout 5s, got %s", cc.DiagnosticTimeout)
	}
}

func TestLoadLowercaseCurrency(t *testing.T) {
	t.Setenv("HOKEN_CURRENCY", "eur")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", cfg.Currency)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate, got: %v", err)
	}
	cfg := Defaults()
	cfg.DiagnosticRPS = 2
	cfg.DiagnosticBurst = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected throttling without burst to be rejected")
	}
}
