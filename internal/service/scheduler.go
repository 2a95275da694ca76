package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain"
	"github.com/target/jobfacade/internal/domain/model"
	domainscheduler "github.com/target/jobfacade/internal/domain/scheduler"
	apperrors "github.com/target/jobfacade/internal/errors"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Schedules   core.ScheduleRepository // Required: schedule registry
	Store       core.JobStore           // Required: where fired jobs are submitted
	Jobs        *JobService             // Required: status reads for the overrun check
	Catalog     core.KindCatalog        // Required: resolves scheduled kinds to queues
	Definitions []model.ScheduledJob    // Schedules registered by RegisterScheduledJobs

	Policy   domain.OverrunPolicy
	States   domain.OverrunStateMask
	Location *time.Location // Optional: zone cron specs are evaluated in, defaults to UTC
	Timeout  time.Duration  // Optional: bound for one fire

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// SchedulerService registers periodic jobs and submits them when their cron specs fire.
//
// Several replicas may run the scheduler against one backend: each fire instant is claimed in the
// schedule registry, and the loser withdraws the job it submitted.
type SchedulerService struct {
	schedules   core.ScheduleRepository
	catalog     core.KindCatalog
	definitions []model.ScheduledJob
	processor   *domainscheduler.FireProcessor
	location    *time.Location
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     statsd.Sink

	registerMu sync.Mutex
	registered bool
}

// RegistrationResult reports what RegisterScheduledJobs did with one definition.
type RegistrationResult struct {
	Name    string              `json:"name"`
	Outcome model.UpsertOutcome `json:"outcome"`
}

// NewSchedulerService creates a SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	switch {
	case opts.Schedules == nil:
		return nil, errors.New("ScheduleRepository is required")
	case opts.Store == nil:
		return nil, errors.New("JobStore is required")
	case opts.Jobs == nil:
		return nil, errors.New("JobService is required")
	case opts.Catalog == nil:
		return nil, errors.New("KindCatalog is required")
	}

	processor, err := domainscheduler.NewFireProcessor(domainscheduler.FireProcessorOptions{
		Policy:      opts.Policy,
		States:      opts.States,
		StatusRead:  opts.Jobs,
		Submitter:   opts.Store,
		FireClaimer: opts.Schedules,
	})
	if err != nil {
		return nil, fmt.Errorf("create fire processor: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &SchedulerService{
		schedules:   opts.Schedules,
		catalog:     opts.Catalog,
		definitions: opts.Definitions,
		processor:   processor,
		location:    opts.Location,
		timeout:     opts.Timeout,
		now:         opts.Now,
		logger:      logger.With("component", "scheduler_service"),
		metrics:     opts.Metrics,
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.timeout <= 0 {
		s.timeout = 4 * DefaultBackendTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// RegisterScheduledJobs upserts every definition into the schedule registry by name.
//
// It is safe to call repeatedly and from several processes: unchanged definitions are left alone and
// fire state is preserved. Definitions are validated before anything is written.
func (s *SchedulerService) RegisterScheduledJobs(ctx context.Context) ([]RegistrationResult, error) {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if err := s.validateDefinitions(); err != nil {
		return nil, err
	}

	results := make([]RegistrationResult, 0, len(s.definitions))
	for _, def := range s.definitions {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		outcome, err := s.schedules.UpsertSchedule(callCtx, def)
		cancel()
		if err != nil {
			return results, fmt.Errorf("register schedule %q: %w", def.Name, err)
		}
		results = append(results, RegistrationResult{Name: def.Name, Outcome: outcome})
		s.logger.InfoContext(ctx, "schedule registered", "name", def.Name, "cron", def.CronSpec,
			"outcome", outcome)
	}
	s.registered = true
	return results, nil
}

func (s *SchedulerService) validateDefinitions() error {
	seen := make(map[string]bool, len(s.definitions))
	for _, def := range s.definitions {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return apperrors.InvalidField("name", "schedule name is required")
		}
		if seen[name] {
			return apperrors.InvalidArgumentf("schedule %q is defined more than once", name)
		}
		seen[name] = true
		if _, err := cron.ParseStandard(def.CronSpec); err != nil {
			return apperrors.InvalidArgumentf("schedule %q: invalid cron spec %q: %v", name, def.CronSpec, err)
		}
		if _, ok := s.catalog.QueueFor(def.Kind); !ok {
			return apperrors.InvalidArgumentf("schedule %q: unknown job kind %q", name, def.Kind)
		}
	}
	return nil
}

// Run loads the registry and fires each enabled schedule until ctx is cancelled.
// Returns nil on graceful shutdown.
func (s *SchedulerService) Run(ctx context.Context) error {
	all, err := s.listSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	c := cron.New(cron.WithLocation(s.location), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	active := 0
	for _, sched := range all {
		if !sched.Enabled {
			continue
		}
		name := sched.Name
		if _, addErr := c.AddFunc(sched.CronSpec, func() { s.fireScheduled(ctx, name) }); addErr != nil {
			s.logger.ErrorContext(ctx, "invalid cron spec, schedule ignored",
				"name", name, "cron", sched.CronSpec, "error", addErr)
			continue
		}
		active++
	}

	s.logger.InfoContext(ctx, "starting scheduler", "schedules", active, "policy", s.processor.Policy(),
		"location", s.location.String())
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.logger.InfoContext(ctx, "scheduler stopped", "reason", ctx.Err())
	return nil
}

func (s *SchedulerService) fireScheduled(ctx context.Context, name string) {
	firedAt := s.now().Truncate(time.Minute)
	if _, err := s.Fire(ctx, name, firedAt); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "scheduled fire failed", "name", name, "fired_at", firedAt, "error", err)
	}
}

// Fire applies the overrun policy for one fire of name at firedAt and submits the job if allowed.
func (s *SchedulerService) Fire(ctx context.Context, name string, firedAt time.Time) (*domainscheduler.FireResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	all, err := s.listSchedules(ctx)
	if err != nil {
		return nil, err
	}
	var sched *model.ScheduledJob
	for i := range all {
		if all[i].Name == name {
			sched = &all[i]
			break
		}
	}
	if sched == nil {
		return nil, apperrors.NotFoundf("schedule %q is not registered", name)
	}
	queue, ok := s.catalog.QueueFor(sched.Kind)
	if !ok {
		return nil, apperrors.InvalidArgumentf("schedule %q: unknown job kind %q", name, sched.Kind)
	}

	res, err := s.processor.Process(ctx, domainscheduler.FireParams{Schedule: *sched, Queue: queue, FiredAt: firedAt})
	if err != nil {
		s.emitFire(name, metrics.ResultError, err)
		return nil, err
	}

	switch {
	case res.Submitted:
		s.emitFire(name, metrics.ResultSuccess, nil)
		s.logger.InfoContext(ctx, "scheduled job submitted", "name", name, "job_id", res.JobID, "fired_at", firedAt)
	case res.Skipped:
		s.emitFire(name, metrics.ResultNoop, nil)
		s.logger.InfoContext(ctx, "scheduled fire skipped, previous job still active", "name", name,
			"previous_job_id", sched.LastJobID, "previous_status", res.PreviousStatus)
	default:
		s.emitFire(name, metrics.ResultNoop, nil)
		s.logger.DebugContext(ctx, "scheduled fire not submitted", "name", name,
			"duplicate", res.Duplicate, "recorded", res.Recorded)
	}
	return res, nil
}

func (s *SchedulerService) emitFire(name, result string, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"schedule": name, "result": result}
	if err != nil {
		tags["error_class"] = string(apperrors.GetCode(err))
	}
	s.metrics.Count(metrics.MetricScheduleFire, 1, tags)
}

// Schedules returns the current registry contents.
func (s *SchedulerService) Schedules(ctx context.Context) ([]model.ScheduledJob, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.listSchedules(ctx)
}

func (s *SchedulerService) listSchedules(ctx context.Context) ([]model.ScheduledJob, error) {
	all, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return all, nil
}

// Registered reports whether RegisterScheduledJobs has completed in this process.
func (s *SchedulerService) Registered() bool {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()
	return s.registered
}
