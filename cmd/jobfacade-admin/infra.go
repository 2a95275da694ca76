package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/bootstrap"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL job schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Jobs.Backend != config.BackendPostgres {
				a.logger.Warn("JOBS_BACKEND is not postgres; migrating anyway", "backend", a.cfg.Jobs.Backend)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
				DBConfig: a.cfg.Postgres,
				Logger:   a.logger,
			})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					a.logger.Warn("db close failed", "error", cerr)
				}
			}()

			a.logger.Info("running database migrations")
			if err := bootstrap.RunMigrations(ctx, db, a.logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			a.logger.Info("migrations completed successfully")
			return nil
		},
	}
}
