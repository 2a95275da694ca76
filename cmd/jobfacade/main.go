package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		bootstrap.InitLogger(bootstrap.LoggerOptions{Level: slog.LevelInfo}).ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	logger := bootstrap.InitLogger(bootstrap.LoggerOptionsFor(&cfg))
	if err := run(ctx, logger, &cfg); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) error {
	logStartupInfo(ctx, logger, cfg)

	if err := bootstrap.ValidateServiceConfig(cfg); err != nil {
		return err
	}

	backend, err := bootstrap.OpenBackend(ctx, bootstrap.BackendOptions{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:  cfg,
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		_ = backend.Close()
		return err
	}
	defer func() {
		if cerr := services.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close services failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfg,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting job facade",
		"backend", cfg.Jobs.Backend,
		"enabled_services", bootstrap.GetEnabledServices(cfg),
		"dev", cfg.IsDev)
}
