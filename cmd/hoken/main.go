// hoken is the command-line front end of the robot insurance engine.
//
// Usage:
//
//	hoken score   -f <scenario.yaml>
//	hoken quote   -f <scenario.yaml> [--coverage=physical_damage] [--tier=none]
//	hoken assess  -f <scenario.yaml> [--settle]
//	hoken weights validate <table.yaml>
//	hoken weights show
//	hoken migrate
//	hoken cleanup [--completed-ttl=720h] [--in-progress-ttl=1h]
//	hoken audit verify|seal [--db=<path>]
//
// Configuration comes from the environment (and a .env file if present);
// see internal/config for the variables.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("HOKEN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Command output goes to stdout; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}
