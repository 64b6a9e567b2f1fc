package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Open creates a pgx pool, wraps it for ent's SQL driver, and returns both.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*entsql.Driver, *pgxpool.Pool, error) {
	logger.Info("connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database dsn", "error", err)
		return nil, nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "menu-safety"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	drv := entsql.OpenDB(dialect.Postgres, db)

	logger.Info("successfully connected to database")
	return drv, pool, nil
}

// OpenSQLite opens a SQLite database file (or ":memory:") for ent's SQL driver.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*entsql.Driver, error) {
	if path == "" {
		path = ":memory:"
	}
	logger.Info("opening sqlite database", "path", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; an in-memory database also lives and dies with its connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	return entsql.OpenDB(dialect.SQLite, db), nil
}

var schema = map[string][]string{
	dialect.Postgres: {
		`CREATE TABLE IF NOT EXISTS scan_job (
			id       TEXT PRIMARY KEY,
			version  BIGINT NOT NULL,
			status   TEXT NOT NULL,
			payload  TEXT NOT NULL,
			purge_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS scan_job_purge_at ON scan_job (purge_at)`,
		`CREATE TABLE IF NOT EXISTS scan_result (
			job_id   TEXT PRIMARY KEY,
			result   TEXT NOT NULL,
			saved_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_profile (
			user_id   TEXT PRIMARY KEY,
			allergies TEXT[] NOT NULL DEFAULT '{}',
			diets     TEXT[] NOT NULL DEFAULT '{}',
			language  TEXT NOT NULL DEFAULT ''
		)`,
	},
	dialect.SQLite: {
		`CREATE TABLE IF NOT EXISTS scan_job (
			id       TEXT PRIMARY KEY,
			version  INTEGER NOT NULL,
			status   TEXT NOT NULL,
			payload  TEXT NOT NULL,
			purge_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS scan_job_purge_at ON scan_job (purge_at)`,
		`CREATE TABLE IF NOT EXISTS scan_result (
			job_id   TEXT PRIMARY KEY,
			result   TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)`,
	},
}

// Migrate creates the tables used by the SQL job backend and result repository.
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	stmts, ok := schema[drv.Dialect()]
	if !ok {
		return fmt.Errorf("migrate: unsupported dialect %q", drv.Dialect())
	}
	for _, stmt := range stmts {
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database connections gracefully
func Close(drv *entsql.Driver, pool *pgxpool.Pool, logger *slog.Logger) {
	logger.Info("closing database connections")
	if drv != nil {
		if err := drv.Close(); err != nil {
			logger.Error("failed to close sql driver", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings the pool to catch DSN issues early.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
