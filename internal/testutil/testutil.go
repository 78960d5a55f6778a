// Package testutil starts throwaway PostgreSQL and Redis containers for
// integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg := testutil.MustStartPostgres()
//	    testDB, _ = pg.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    pg.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/hoken/internal/storage"
	"github.com/ashita-ai/hoken/migrations"
)

// TestContainer wraps a testcontainers container with the address to reach it.
type TestContainer struct {
	Container testcontainers.Container
	// DSN is a postgres:// URL for Postgres containers and host:port for Redis.
	DSN string
}

// MustStartPostgres starts a PostgreSQL container. Calls os.Exit(1) on
// failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()
	c := mustStart(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "hoken",
			"POSTGRES_PASSWORD": "hoken",
			"POSTGRES_DB":       "hoken",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})
	host := mustHost(ctx, c)
	port, err := c.MappedPort(ctx, "5432")
	exitOnErr(err, "failed to get container port")
	return &TestContainer{
		Container: c,
		DSN:       fmt.Sprintf("postgres://hoken:hoken@%s:%s/hoken?sslmode=disable", host, port.Port()),
	}
}

// MustStartRedis starts a Redis container. Calls os.Exit(1) on failure.
func MustStartRedis() *TestContainer {
	ctx := context.Background()
	c := mustStart(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	})
	host := mustHost(ctx, c)
	port, err := c.MappedPort(ctx, "6379")
	exitOnErr(err, "failed to get container port")
	return &TestContainer{Container: c, DSN: host + ":" + port.Port()}
}

func mustStart(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start %s: %v\n", req.Image, err)
		os.Exit(1)
	}
	return c
}

func mustHost(ctx context.Context, c testcontainers.Container) string {
	host, err := c.Host(ctx)
	exitOnErr(err, "failed to get container host")
	return host
}

func exitOnErr(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: %s: %v\n", msg, err)
		os.Exit(1)
	}
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if _, err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
