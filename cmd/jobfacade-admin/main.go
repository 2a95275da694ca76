// Command jobfacade-admin runs one-off maintenance and inspection tasks against the configured job store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/bootstrap"
	"github.com/target/jobfacade/internal/core"
)

const defaultCommandTimeout = 30 * time.Second

// app carries what every subcommand needs.
type app struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	// open returns the backend for one command invocation. Tests swap it for a shared store.
	open func(ctx context.Context) (core.Backend, error)
}

func newApp(cfg *config.AppConfig, logger *slog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}
	a.open = func(ctx context.Context) (core.Backend, error) {
		return bootstrap.OpenBackend(ctx, bootstrap.BackendOptions{
			Config:         a.cfg,
			Logger:         a.logger,
			SkipMigrations: true,
		})
	}
	return a
}

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err) //nolint:forbidigo // CLI output
		os.Exit(1)
	}
	logOpts := bootstrap.LoggerOptionsFor(&cfg)
	logOpts.Output = os.Stderr
	logger := bootstrap.InitLogger(logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(&cfg, logger))
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "jobfacade-admin",
		Short:        "Inspect and maintain the job store",
		SilenceUsage: true,
	}
	root.PersistentFlags().Duration("timeout", defaultCommandTimeout, "overall deadline for the command")

	root.AddCommand(
		migrateCmd(a),
		registerSchedulesCmd(a),
		schedulesCmd(a),
		fireScheduleCmd(a),
		submitCmd(a),
		statusCmd(a),
		listCmd(a),
		cancelCmd(a),
		queuesCmd(a),
		summaryCmd(a),
	)
	return root
}

// commandContext bounds the command by the --timeout flag.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil || timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

// withServices opens the backend, wires the façade services and closes both afterwards.
func (a *app) withServices(
	ctx context.Context,
	f func(context.Context, bootstrap.ServiceContainer) error,
) (err error) {
	backend, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	svcs, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:  a.cfg,
		Backend: backend,
		Logger:  a.logger,
	})
	if err != nil {
		_ = backend.Close()
		return err
	}
	defer func() {
		if cerr := svcs.Close(); cerr != nil {
			a.logger.Warn("closing services failed", "error", cerr)
		}
	}()
	return f(ctx, svcs)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
