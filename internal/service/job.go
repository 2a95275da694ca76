package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/jobfacade/internal/core"
	domainjob "github.com/target/jobfacade/internal/domain/job"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

// Defaults applied when options leave limits unset.
const (
	DefaultBackendTimeout   = 5 * time.Second
	DefaultMaxListLimit     = 10000
	DefaultListLimit        = 50
	DefaultSummarySampleMax = 1000
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store            core.JobStore         // Required: backend adapter
	Catalog          core.KindCatalog      // Required: resolves kinds to queues
	Normalizer       *domainjob.Normalizer // Optional: defaults to one sharing Logger
	Timeout          time.Duration         // Optional: bound for every backend round trip
	MaxListLimit     int                   // Optional: cap for ListJobs
	DefaultListLimit int                   // Optional: limit used when the caller sends none
	Logger           *slog.Logger          // Optional: structured logger
	Metrics          statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// JobService submits, tracks, lists and cancels jobs on one backend.
//
// It holds no mutable state of its own; every call is one or more bounded round trips to the store.
type JobService struct {
	store        core.JobStore
	catalog      core.KindCatalog
	normalizer   *domainjob.Normalizer
	timeout      time.Duration
	maxLimit     int
	defaultLimit int
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("KindCatalog is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service", "backend", opts.Store.Backend())

	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = domainjob.NewNormalizer(opts.Logger)
	}

	svc := &JobService{
		store:        opts.Store,
		catalog:      opts.Catalog,
		normalizer:   normalizer,
		timeout:      opts.Timeout,
		maxLimit:     opts.MaxListLimit,
		defaultLimit: opts.DefaultListLimit,
		logger:       logger,
		metrics:      opts.Metrics,
	}
	if svc.timeout <= 0 {
		svc.timeout = DefaultBackendTimeout
	}
	if svc.maxLimit <= 0 {
		svc.maxLimit = DefaultMaxListLimit
	}
	if svc.defaultLimit <= 0 {
		svc.defaultLimit = DefaultListLimit
	}
	if svc.defaultLimit > svc.maxLimit {
		svc.defaultLimit = svc.maxLimit
	}
	return svc, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Backend names the store behind this service.
func (s *JobService) Backend() string {
	return s.store.Backend()
}

// SubmitJobs enqueues req.Count independent jobs of req.Kind.
//
// Every submission is attempted and reported by index. An error is returned only for invalid input,
// or when the store accepted nothing.
func (s *JobService) SubmitJobs(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	queue, ok := s.catalog.QueueFor(req.Kind)
	if !ok {
		return nil, apperrors.InvalidField("kind", fmt.Sprintf("unknown job kind %q", req.Kind))
	}

	result := &model.SubmitResult{Kind: req.Kind, Outcomes: make([]model.SubmitOutcome, 0, req.Count)}
	var firstErr error
	for i := 0; i < req.Count; i++ {
		outcome := model.SubmitOutcome{Index: i}
		if err := ctx.Err(); err != nil {
			outcome.Error = "not submitted: " + err.Error()
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		var id string
		err := s.call(ctx, "submit", func(ctx context.Context) error {
			var submitErr error
			id, submitErr = s.store.Submit(ctx, model.SubmitParams{Kind: req.Kind, Queue: queue, Input: req.Input})
			return submitErr
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.WarnContext(ctx, "job submission failed", "kind", req.Kind, "index", i, "error", err)
			outcome.Error = err.Error()
		} else {
			outcome.ID = id
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	accepted := len(result.IDs())
	if accepted == 0 && firstErr != nil {
		return nil, firstErr
	}
	s.logger.DebugContext(ctx, "jobs submitted", "kind", req.Kind, "queue", queue,
		"requested", req.Count, "accepted", accepted)
	return result, nil
}

// GetJob returns the canonical view of id.
//
// Store failures and unknown ids never produce an error: the job comes back with status unknown and
// the reason in Error, so polling clients always receive one shape. Only an empty id is rejected.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.InvalidField("job_id", "job id is required")
	}

	var rec *model.NativeRecord
	err := s.call(ctx, "fetch", func(ctx context.Context) error {
		var fetchErr error
		rec, fetchErr = s.store.Fetch(ctx, id)
		return fetchErr
	})
	switch {
	case apperrors.IsNotFound(err):
		rec = model.NotFoundRecord(s.Backend(), id)
	case err != nil:
		s.logger.WarnContext(ctx, "job lookup failed", "job_id", id, "error", err)
		rec = &model.NativeRecord{Backend: s.Backend(), ID: id, LookupError: err}
	case rec == nil:
		rec = model.NotFoundRecord(s.Backend(), id)
	}

	job := s.normalizer.Normalize(rec)
	if job.ID == "" {
		job.ID = id
	}
	return &job, nil
}

// ListJobs returns up to limit jobs. A non-positive limit uses the default; larger values are capped.
func (s *JobService) ListJobs(ctx context.Context, limit int, newestFirst bool) ([]model.Job, error) {
	limit = s.clampLimit(limit)

	var recs []*model.NativeRecord
	err := s.call(ctx, "list", func(ctx context.Context) error {
		var listErr error
		recs, listErr = s.store.List(ctx, model.ListOptions{Limit: limit, NewestFirst: newestFirst})
		return listErr
	})
	if err != nil {
		s.logger.WarnContext(ctx, "job list failed", "limit", limit, "error", err)
		return nil, err
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}

	jobs := make([]model.Job, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		jobs = append(jobs, s.normalizer.Normalize(rec))
	}
	return jobs, nil
}

func (s *JobService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// MaxListLimit returns the cap applied by ListJobs.
func (s *JobService) MaxListLimit() int { return s.maxLimit }

// CancelJob stops a pending or running job.
//
// Cancelling a job that already finished succeeds without changing it, so repeated calls agree.
// Unknown ids report ok=false. Store failures are returned as errors.
func (s *JobService) CancelJob(ctx context.Context, id string) (*model.CancelResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.InvalidField("job_id", "job id is required")
	}

	var outcome model.CancelOutcome
	err := s.call(ctx, "cancel", func(ctx context.Context) error {
		var cancelErr error
		outcome, cancelErr = s.store.Cancel(ctx, id)
		return cancelErr
	})
	switch {
	case apperrors.IsNotFound(err):
		outcome = model.CancelOutcome{Found: false}
	case err != nil:
		s.logger.WarnContext(ctx, "job cancel failed", "job_id", id, "error", err)
		return nil, err
	}

	res := &model.CancelResult{JobID: id}
	switch {
	case !outcome.Found:
		res.Message = fmt.Sprintf("job %s not found", id)
	case outcome.AlreadyTerminal:
		res.OK = true
		res.Message = fmt.Sprintf("job already %s", domainjob.CanonicalStatus(outcome.NativeStatus))
	default:
		res.OK = true
		res.Message = "job cancelled"
	}
	s.logger.InfoContext(ctx, "cancel requested", "job_id", id, "ok", res.OK,
		"native_status", outcome.NativeStatus)
	return res, nil
}

// Summary counts the newest sample jobs by canonical status.
func (s *JobService) Summary(ctx context.Context, sample int) (*model.StatusCounts, error) {
	if sample <= 0 || sample > DefaultSummarySampleMax {
		sample = DefaultSummarySampleMax
	}
	jobs, err := s.ListJobs(ctx, sample, true)
	if err != nil {
		return nil, err
	}
	counts := make(map[model.Status]int, len(model.AllStatuses()))
	for _, st := range model.AllStatuses() {
		counts[st] = 0
	}
	for _, j := range jobs {
		counts[j.Status]++
	}
	return &model.StatusCounts{Counts: counts, Sampled: len(jobs)}, nil
}

// call runs fn under the backend timeout, maps context failures into the error taxonomy and
// records the outcome.
func (s *JobService) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return boundedCall(ctx, callParams{
		Backend: s.Backend(),
		Op:      op,
		Timeout: s.timeout,
		Metrics: s.metrics,
	}, fn)
}

type callParams struct {
	Backend string
	Op      string
	Timeout time.Duration
	Metrics statsd.Sink
}

func boundedCall(ctx context.Context, p callParams, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	err := apperrors.FromContext(p.Backend, fn(callCtx))

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitFacadeCall(p.Metrics, metrics.FacadeCall{
		Operation: p.Op,
		Backend:   p.Backend,
		Result:    result,
		Duration:  time.Since(start),
		Err:       err,
	})
	return err
}
