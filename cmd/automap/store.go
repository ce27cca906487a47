package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/config"
	"github.com/cory-johannsen/automap/internal/scripting"
	"github.com/cory-johannsen/automap/internal/storage"
	"github.com/cory-johannsen/automap/internal/storage/postgres"
	"github.com/cory-johannsen/automap/internal/storage/redis"
	"github.com/cory-johannsen/automap/internal/storage/sqlite"
)

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	prefix := cfg.Storage.KeyPrefix
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite store", zap.String("path", cfg.SQLite.Path))
		return storage.Prefixed(s, prefix), func() { _ = s.Close() }, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		version, dirty, err := pool.SchemaVersion(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("%w: run automap migrate", err)
		}
		if dirty {
			logger.Warn("database schema is dirty", zap.Uint("version", version))
		}
		logger.Info("using postgres store",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Name),
			zap.Uint("schema_version", version),
		)
		return storage.Prefixed(postgres.NewSnapshotRepository(pool.DB()), prefix), pool.Close, nil

	case config.BackendRedis:
		opts := []redis.Option{redis.WithTTL(cfg.Redis.TTL)}
		if prefix != "" {
			opts = append(opts, redis.WithPrefix(prefix))
		}
		s := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("using redis store", zap.String("addr", cfg.Redis.Addr))
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// openFilter loads the configured Lua transition filter, if any.
// The returned func is nil when no filter is configured.
func openFilter(cfg config.MapConfig, logger *zap.Logger) (*scripting.TransitionFilter, func(string) bool, error) {
	if cfg.FilterScript == "" {
		return nil, nil, nil
	}
	f, err := scripting.LoadTransitionFilter(cfg.FilterScript, cfg.FilterInstructionLimit, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading transition filter: %w", err)
	}
	logger.Info("transition filter loaded", zap.String("script", cfg.FilterScript))
	return f, f.IsExempt, nil
}
