// Package postgres provides the Postgres-backed Store implementation of
// the Job Repository's persistence contract.
//
// It uses pgx/v5's pgxpool for query execution (type-safe, connection
// pooling, OpenTelemetry-traced) and pressly/goose for schema migrations,
// handed a *sql.DB via pgx's stdlib adapter purely to satisfy goose's
// migration-runner signature.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// NewPool creates a pgx connection pool from dsn with OpenTelemetry tracing
// wired in, mirroring the connection-pool construction pattern used
// throughout this codebase's Postgres adapters.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}
	return pool, nil
}

// RunMigrations applies every pending migration in migrations/ using goose.
// goose requires a *sql.DB, so this opens a short-lived stdlib connection
// over the same dsn solely to drive the migration runner; steady-state
// queries go through the pgxpool created by NewPool.
func RunMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("op=postgres.RunMigrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("op=postgres.RunMigrations: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("op=postgres.RunMigrations: %w", err)
	}
	return nil
}
