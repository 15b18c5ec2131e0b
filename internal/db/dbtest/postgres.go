// Package dbtest starts a disposable PostgreSQL instance with the feed schema
// applied, for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/onnwee/feedrank/internal/db"
)

// migrationFiles returns the up migrations in apply order.
func migrationFiles(tb testing.TB) []string {
	tb.Helper()

	_, self, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(self), "..", "..", "..", "migrations")
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		tb.Fatalf("failed to list migrations: %v", err)
	}
	sort.Strings(files)
	return files
}

// NewPostgres starts a PostgreSQL container, applies the migrations and
// returns an open connection. The container is terminated on test cleanup.
func NewPostgres(ctx context.Context, tb testing.TB) *sql.DB {
	tb.Helper()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("feedrank_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(migrationFiles(tb)...),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("failed to start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			tb.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("failed to get connection string: %v", err)
	}

	conn, err := db.Open(ctx, connStr, db.DefaultPoolOptions())
	if err != nil {
		tb.Fatalf("failed to connect to postgres container: %v", err)
	}
	tb.Cleanup(func() { _ = conn.Close() })

	return conn
}
