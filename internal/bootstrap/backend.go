package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/data"
)

// BackendOptions groups what OpenBackend needs.
type BackendOptions struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// SkipMigrations leaves the relational schema untouched regardless of configuration.
	SkipMigrations bool
}

// OpenBackend opens the store named by JOBS_BACKEND.
//
// A backend that is unknown or cannot be reached does not stop the process: every façade call
// reports store_unavailable instead, and /readyz answers 503. Only a failed schema migration is
// returned as an error.
//
//nolint:ireturn // the concrete store is chosen at runtime.
func OpenBackend(ctx context.Context, opts BackendOptions) (core.Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	name := cfg.Jobs.Backend
	logger = logger.With("component", "backend", "backend", name)

	unavailable := func(reason error) core.Backend {
		logger.ErrorContext(ctx, "job store unavailable; requests will fail until restart", "error", reason)
		return data.NewUnavailableStore(name, reason)
	}

	switch name {
	case config.BackendMemory:
		store, err := data.NewMemoryStore(data.MemoryStoreOptions{Logger: logger})
		if err != nil {
			return unavailable(err), nil
		}
		logger.WarnContext(ctx, "using in-process memory store; jobs do not survive restarts")
		return store, nil

	case config.BackendBadger:
		store, err := data.OpenBadgerStore(data.BadgerStoreOptions{
			Dir:      cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
			Logger:   logger,
		})
		if err != nil {
			return unavailable(err), nil
		}
		return store, nil

	case config.BackendRedis:
		client, err := ConnectRedis(DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return unavailable(err), nil
		}
		store, err := data.NewRedisStore(data.RedisStoreOptions{
			Client:    client,
			KeyPrefix: cfg.Redis.KeyPrefix,
			ResultTTL: cfg.Redis.ResultTTL,
			Logger:    logger,
		})
		if err != nil {
			_ = client.Close()
			return unavailable(err), nil
		}
		return store, nil

	case config.BackendPostgres:
		db, err := ConnectDB(DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
		if err != nil {
			return unavailable(err), nil
		}
		if cfg.Postgres.RunMigrationsOnStart && !opts.SkipMigrations {
			if err := RunMigrations(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return data.NewPostgresStore(db, data.PostgresStoreOptions{Logger: logger}), nil

	default:
		return unavailable(fmt.Errorf("unsupported JOBS_BACKEND %q (valid options: %v)", name, config.ValidBackends())), nil
	}
}

// WorkerRegistryFor returns the store's worker registry, or nil when it has none.
//
//nolint:ireturn // optional capability of the concrete store.
func WorkerRegistryFor(b core.Backend) core.WorkerRegistry {
	if reg, ok := b.(core.WorkerRegistry); ok {
		return reg
	}
	return nil
}
