// Package scheduler provides adapters for running the periodic job scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/core"
	apperrors "github.com/target/jobfacade/internal/errors"
	"github.com/target/jobfacade/internal/jobs"
	"github.com/target/jobfacade/internal/observability/statsd"
	"github.com/target/jobfacade/internal/service"
)

// registerRetryInterval spaces registration attempts while the backend is unreachable at boot.
const registerRetryInterval = 5 * time.Second

// Runner registers the built-in schedules and runs the cron loop.
type Runner struct {
	scheduler       *service.SchedulerService
	registerOnStart bool
	logger          *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Schedules core.ScheduleRepository
	Store     core.JobStore
	Jobs      *service.JobService
	Catalog   *jobs.Catalog
	Config    config.SchedulerConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}
	svc, err := NewService(opts)
	if err != nil {
		return nil, err
	}
	return &Runner{
		scheduler:       svc,
		registerOnStart: opts.Config.RegisterOnStart,
		logger:          opts.Logger.With("component", "scheduler_runner"),
	}, nil
}

// NewService builds the SchedulerService the runner drives. The admin CLI uses it to register
// schedules without starting the cron loop.
func NewService(opts RunnerOptions) (*service.SchedulerService, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}
	defs := jobs.FilterSchedules(jobs.DefaultSchedules(), opts.Config.EnabledJobs)
	svc, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Schedules:   opts.Schedules,
		Store:       opts.Store,
		Jobs:        opts.Jobs,
		Catalog:     opts.Catalog,
		Definitions: defs,
		Policy:      opts.Config.OverrunPolicy,
		States:      opts.Config.OverrunStates,
		Location:    opts.Config.Location(),
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire scheduler service: %w", err)
	}
	return svc, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	switch {
	case opts.Schedules == nil:
		return errors.New("schedule repository is required")
	case opts.Store == nil:
		return errors.New("job store is required")
	case opts.Jobs == nil:
		return errors.New("job service is required")
	case opts.Catalog == nil:
		return errors.New("catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run registers schedules when configured to, then fires them until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.registerOnStart {
		if err := r.registerWithRetry(ctx); err != nil {
			return err
		}
	}
	return r.scheduler.Run(ctx)
}

func (r *Runner) registerWithRetry(ctx context.Context) error {
	for {
		results, err := r.scheduler.RegisterScheduledJobs(ctx)
		if err == nil {
			r.logger.InfoContext(ctx, "schedules registered", "count", len(results))
			return nil
		}
		if !apperrors.IsStoreUnavailable(err) {
			return fmt.Errorf("register schedules: %w", err)
		}
		r.logger.WarnContext(ctx, "schedule registration failed, retrying", "error", err,
			"retry_in", registerRetryInterval)

		t := time.NewTimer(registerRetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
