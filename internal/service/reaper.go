package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

// maxBatchesPerSweep bounds one sweep so a large backlog is worked off across ticks.
const maxBatchesPerSweep = 100

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.RetentionRepository // Required: retention repository
	Config  config.ReaperConfig      // Required: reaper configuration
	Now     func() time.Time         // Optional: clock for the retention cutoff
	Logger  *slog.Logger             // Optional: structured logger
	Metrics statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// ReaperService deletes terminal jobs once they are older than the retention window.
// After deletion their ids poll as unknown.
type ReaperService struct {
	repo    core.RetentionRepository
	config  config.ReaperConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("RetentionRepository is required")
	}
	if opts.Config.Interval <= 0 || opts.Config.Retention <= 0 || opts.Config.BatchSize <= 0 {
		return nil, errors.New("reaper interval, retention and batch size must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"retention", opts.Config.Retention,
		"batch_size", opts.Config.BatchSize,
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		now:     now,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && !isContextCancellation(err) {
			s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Sweep deletes terminal jobs that completed before now minus the retention window, in batches.
// It returns how many jobs were removed.
func (s *ReaperService) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := s.now().Add(-s.config.Retention)

	var total int64
	var err error
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		var n int64
		n, err = s.repo.DeleteTerminalBefore(ctx, cutoff, s.config.BatchSize)
		total += n
		if err != nil || n < int64(s.config.BatchSize) {
			break
		}
	}

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case total == 0:
		result = metrics.ResultNoop
	}
	if s.metrics != nil {
		tags := map[string]string{"result": result}
		s.metrics.Count(metrics.MetricReaperDeleted, total, tags)
		s.metrics.Timing("reaper.sweep", time.Since(start), metrics.CloneTags(tags))
	}

	if err != nil {
		return total, fmt.Errorf("delete terminal jobs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "expired jobs deleted", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
