// Package jobrunner executes jobs reserved from a self-hosted backend.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
	"github.com/target/jobfacade/internal/jobs"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

const (
	defaultPollInterval = time.Second
	defaultHeartbeatTTL = 30 * time.Second
	defaultLease        = 30 * time.Second
	// finishTimeout bounds recording a job's outcome once the runner context is gone.
	finishTimeout     = 5 * time.Second
	maxErrorTextBytes = 4 * 1024
)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Queue    core.JobQueue       // Required: where work is reserved and finished
	Catalog  *jobs.Catalog       // Required: kind handlers
	Registry core.WorkerRegistry // Optional: announces this worker for queue introspection
	Logger   *slog.Logger

	Queues       []string      // queues to consume; defaults to every queue in Catalog
	Concurrency  int           // number of worker goroutines; defaults to 1
	PollInterval time.Duration // wait between empty reservations; defaults to 1s
	HeartbeatTTL time.Duration // worker registration lifetime; defaults to 30s
	Lease        time.Duration // how long a reserved job stays ours without renewal; defaults to 30s
	JobTimeout   time.Duration // optional bound for one handler invocation
	Name         string        // worker identity; defaults to hostname-pid

	Metrics statsd.Sink
}

// Runner pulls jobs and executes them using the catalog's handlers.
type Runner struct {
	queue      core.JobQueue
	catalog    *jobs.Catalog
	registry   core.WorkerRegistry
	logger     *slog.Logger
	queues     []string
	workers    int
	poll       time.Duration
	ttl        time.Duration
	lease      time.Duration
	jobTimeout time.Duration
	name       string
	metrics    statsd.Sink
}

// NewRunner validates opts and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}

	r := &Runner{
		queue:      opts.Queue,
		catalog:    opts.Catalog,
		registry:   opts.Registry,
		queues:     opts.Queues,
		workers:    opts.Concurrency,
		poll:       opts.PollInterval,
		ttl:        opts.HeartbeatTTL,
		lease:      opts.Lease,
		jobTimeout: opts.JobTimeout,
		name:       opts.Name,
		metrics:    opts.Metrics,
	}
	if len(r.queues) == 0 {
		r.queues = opts.Catalog.Queues()
	}
	if len(r.queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	if r.ttl <= 0 {
		r.ttl = defaultHeartbeatTTL
	}
	if r.lease <= 0 {
		r.lease = defaultLease
	}
	if r.name == "" {
		host, _ := os.Hostname()
		r.name = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger.With("component", "job_runner", "worker", r.name)
	return r, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "queues", r.queues, "workers", r.workers,
		"poll", r.poll, "lease", r.lease)

	g, gctx := errgroup.WithContext(ctx)
	if r.registry != nil {
		g.Go(func() error {
			r.heartbeat(gctx)
			return nil
		})
	}
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.InfoContext(ctx, "job runner stopped")
	return nil
}

// heartbeat keeps this worker registered until ctx ends.
func (r *Runner) heartbeat(ctx context.Context) {
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	register := func() {
		rel, err := r.registry.RegisterWorker(ctx, r.name, r.queues, r.ttl)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.WarnContext(ctx, "worker heartbeat failed", "error", err)
			}
			return
		}
		release = rel
	}

	register()
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context, slot int) error {
	for ctx.Err() == nil {
		task, err := r.queue.ReserveNext(ctx, r.queues, r.lease)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
			continue
		case errors.Is(err, model.ErrNoJobsAvailable):
		case ctx.Err() != nil:
			return nil
		case apperrors.IsStoreUnavailable(err):
			r.logger.WarnContext(ctx, "reserve failed, backing off", "slot", slot, "error", err)
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
		if !r.wait(ctx) {
			return nil
		}
	}
	return nil
}

func (r *Runner) wait(ctx context.Context) bool {
	t := time.NewTimer(r.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processTask runs one reserved task. The outcome is recorded even when ctx was cancelled
// mid-handler so the job never stays running.
func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Kind:       task.Kind,
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	def, ok := r.catalog.Lookup(task.Kind)
	if !ok || def.Handler == nil {
		err := fmt.Errorf("no handler registered for job kind %q", task.Kind)
		r.fail(ctx, task, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	stopLease := r.keepLease(ctx, task)
	out, err := r.invoke(ctx, def.Handler, task)
	stopLease()
	if err != nil {
		r.fail(ctx, task, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	payload, err := json.Marshal(out)
	if err != nil {
		err = fmt.Errorf("encode result: %w", err)
		r.fail(ctx, task, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	rctx, cancel := finishContext(ctx)
	defer cancel()
	completed, err := r.queue.Complete(rctx, task.ID, payload)
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "complete job error", "job_id", task.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	case !completed:
		// Cancelled while running; the result is discarded.
		r.logger.InfoContext(ctx, "job finished after leaving running state", "job_id", task.ID, "kind", task.Kind)
		emit("completed", metrics.ResultNoop, nil)
	default:
		r.logger.DebugContext(ctx, "job completed", "job_id", task.ID, "kind", task.Kind,
			"duration", time.Since(start))
		emit("completed", metrics.ResultSuccess, nil)
	}
}

// finishContext detaches from the runner's cancellation and bounds the write instead.
func finishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// keepLease renews the task's lease every third of its length until the returned stop is called.
func (r *Runner) keepLease(ctx context.Context, task *model.Task) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(r.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := r.queue.ExtendLease(ctx, task.ID, r.lease)
				switch {
				case err != nil && ctx.Err() == nil:
					r.logger.WarnContext(ctx, "extend lease failed", "job_id", task.ID, "error", err)
				case err == nil && !held:
					r.logger.InfoContext(ctx, "job left running state while executing", "job_id", task.ID, "kind", task.Kind)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (r *Runner) invoke(ctx context.Context, h jobs.Handler, task *model.Task) (out any, err error) {
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "job handler panic", "job_id", task.ID, "kind", task.Kind,
				"panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("job handler panicked: %v", p)
		}
	}()
	return h(ctx, task.Input)
}

func (r *Runner) fail(ctx context.Context, task *model.Task, cause error) {
	msg := truncateUTF8(cause.Error(), maxErrorTextBytes)
	r.logger.WarnContext(ctx, "job failed", "job_id", task.ID, "kind", task.Kind, "error", cause)
	rctx, cancel := finishContext(ctx)
	defer cancel()
	if _, err := r.queue.Fail(rctx, task.ID, msg); err != nil {
		r.logger.ErrorContext(ctx, "fail job error", "job_id", task.ID, "error", err, "original_error", cause)
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
