package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/jobs"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
	repo "github.com/joseph-ayodele/menu-safety/internal/repository"
)

// storage is everything the daemon persists to, chosen by STORE_BACKEND.
type storage struct {
	backend   jobs.Backend
	persister pipeline.Persister
	profiles  pipeline.ContextFetcher
	close     func()

	// purge drops rows whose storage TTL ran out; nil for backends that expire natively.
	purge func(ctx context.Context) (int64, error)
}

func openStorage(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*storage, error) {
	st := &storage{close: func() {}}

	var static repo.StaticProfiles
	if cfg.Scan.ProfilesFile != "" {
		p, err := repo.LoadStaticProfiles(cfg.Scan.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		static = p
		st.profiles = p
		logger.Info("loaded static profiles", "path", cfg.Scan.ProfilesFile, "count", len(p))
	}

	switch cfg.Store.Backend {
	case common.BackendMemory:
		st.backend = jobs.NewMemoryBackend(nil)
		logger.Warn("job store is in-memory: jobs are lost on restart and not shared between instances")
		if err := st.archiveResults(cfg.Store.ResultsFile, logger); err != nil {
			return nil, err
		}

	case common.BackendPostgres:
		drv, pool, err := repo.Open(ctx, repo.Config{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		st.close = func() { repo.Close(drv, pool, logger) }
		if err := repo.HealthCheck(ctx, pool, cfg.Database.DialTimeout, logger); err != nil {
			st.close()
			return nil, err
		}
		if err := repo.Migrate(ctx, drv); err != nil {
			st.close()
			return nil, err
		}
		profiles := repo.NewProfileRepository(pool, logger)
		for _, uc := range static {
			if err := profiles.Upsert(ctx, uc); err != nil {
				st.close()
				return nil, fmt.Errorf("seed profile %s: %w", uc.UserID, err)
			}
		}
		sqlb := repo.NewSQLBackend(drv, logger)
		st.backend = sqlb
		st.purge = sqlb.PurgeExpired
		st.persister = repo.NewResultRepository(drv, logger)
		st.profiles = profiles

	case common.BackendSQLite:
		drv, err := repo.OpenSQLite(ctx, cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		st.close = func() { repo.Close(drv, nil, logger) }
		if err := repo.Migrate(ctx, drv); err != nil {
			st.close()
			return nil, err
		}
		sqlb := repo.NewSQLBackend(drv, logger)
		st.backend = sqlb
		st.purge = sqlb.PurgeExpired
		st.persister = repo.NewResultRepository(drv, logger)

	case common.BackendRedis:
		rdb, err := repo.OpenRedis(ctx, cfg.Database.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		st.close = func() {
			if err := rdb.Close(); err != nil {
				logger.Error("failed to close redis", "error", err)
			}
		}
		st.backend = repo.NewRedisBackend(rdb, repo.DefaultRedisPrefix)
		if err := st.archiveResults(cfg.Store.ResultsFile, logger); err != nil {
			st.close()
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return st, nil
}

// archiveResults persists final verdicts to a JSON Lines file for backends
// without a results table.
func (st *storage) archiveResults(path string, logger *slog.Logger) error {
	archive, err := repo.OpenFileResultArchive(path, logger)
	if err != nil {
		return err
	}
	st.persister = archive
	prev := st.close
	st.close = func() {
		if err := archive.Close(); err != nil {
			logger.Error("failed to close result archive", "error", err)
		}
		prev()
	}
	return nil
}
