package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

// IntrospectionReporterOptions groups dependencies for IntrospectionReporter.
type IntrospectionReporterOptions struct {
	Store   core.JobStore    // Required: backend adapter
	Timeout time.Duration    // Optional: bound for the introspection round trip
	Now     func() time.Time // Optional: clock for CapturedAt
	Logger  *slog.Logger     // Optional: structured logger
	Metrics statsd.Sink      // Optional: queue depth gauges
}

// IntrospectionReporter turns backend-wide statistics into a QueueSnapshot.
// Snapshots are computed per call and never cached.
type IntrospectionReporter struct {
	store   core.JobStore
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewIntrospectionReporter constructs an IntrospectionReporter.
func NewIntrospectionReporter(opts IntrospectionReporterOptions) (*IntrospectionReporter, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &IntrospectionReporter{
		store:   opts.Store,
		timeout: opts.Timeout,
		now:     opts.Now,
		logger:  logger.With("component", "introspection_reporter", "backend", opts.Store.Backend()),
		metrics: opts.Metrics,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultBackendTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Snapshot reports the queues that hold pending or in-flight work.
//
// Backends without a per-queue breakdown report a single queue named after the backend, without a
// worker count, whenever they have pending work.
func (r *IntrospectionReporter) Snapshot(ctx context.Context) (*model.QueueSnapshot, error) {
	var stats *model.NativeQueueStats
	err := boundedCall(ctx, callParams{
		Backend: r.store.Backend(),
		Op:      "introspect",
		Timeout: r.timeout,
		Metrics: r.metrics,
	}, func(ctx context.Context) error {
		var introErr error
		stats, introErr = r.store.Introspect(ctx)
		return introErr
	})
	if err != nil {
		r.logger.WarnContext(ctx, "queue introspection failed", "error", err)
		return nil, err
	}
	if stats == nil {
		stats = &model.NativeQueueStats{}
	}

	snap := shapeSnapshot(r.store.Backend(), stats)
	snap.CapturedAt = r.now().UTC()
	metrics.EmitQueueSnapshot(r.metrics, snap)
	return snap, nil
}

// Ready probes the store with one introspection round trip.
func (r *IntrospectionReporter) Ready(ctx context.Context) error {
	_, err := r.Snapshot(ctx)
	return err
}

func shapeSnapshot(backend string, stats *model.NativeQueueStats) *model.QueueSnapshot {
	if stats.Backend != "" {
		backend = stats.Backend
	}
	snap := &model.QueueSnapshot{
		Backend:        backend,
		Queues:         []model.QueueInfo{},
		TotalCompleted: stats.Completed,
	}

	if !stats.PerQueue {
		if stats.TotalPending > 0 {
			snap.Queues = append(snap.Queues, model.QueueInfo{Name: backend, Pending: stats.TotalPending})
		}
		snap.TotalPending = stats.TotalPending
		return snap
	}

	for _, q := range stats.Queues {
		name := strings.TrimSpace(q.Name)
		if q.Internal || name == "" {
			continue
		}
		snap.Queues = append(snap.Queues, model.QueueInfo{Name: name, Pending: q.Pending, Workers: q.Workers})
		snap.TotalPending += q.Pending
	}
	sort.SliceStable(snap.Queues, func(i, j int) bool { return snap.Queues[i].Name < snap.Queues[j].Name })
	return snap
}
