package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/target/jobfacade/internal/domain"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool for self-hosted backends.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeScheduler runs the periodic job scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, scheduler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// PollInterval is how long an idle worker waits before reserving again.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`

	// Queues lists the queues this worker consumes.
	Queues []string `env:"WORKER_QUEUES" envDefault:"default,aggregation,scheduled" envSeparator:","`

	// HeartbeatTTL is how long a worker registration lives without renewal.
	HeartbeatTTL time.Duration `env:"WORKER_HEARTBEAT_TTL" envDefault:"30s"`

	// Lease is how long a reserved job stays with this worker without renewal. A job whose lease
	// lapses, for example after a crash, is reserved again by another worker.
	Lease time.Duration `env:"WORKER_LEASE" envDefault:"30s"`

	// Name identifies this worker in the backend's worker registry. Defaults to the hostname.
	Name string `env:"WORKER_NAME"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 10*time.Millisecond {
		w.PollInterval = 10 * time.Millisecond
	}
	if w.HeartbeatTTL < time.Second {
		w.HeartbeatTTL = time.Second
	}
	if w.Lease < time.Second {
		w.Lease = time.Second
	}
	w.Queues = trimNonEmpty(w.Queues)
	if len(w.Queues) == 0 {
		w.Queues = []string{"default"}
	}
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		if host, err := os.Hostname(); err == nil {
			w.Name = host
		} else {
			w.Name = "worker"
		}
	}
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// EnabledJobs limits which periodic jobs are registered. Empty registers every built-in schedule.
	EnabledJobs []string `env:"SCHEDULER_ENABLED_JOBS" envSeparator:","`

	// OverrunPolicy determines how to handle fires while the previous job is still active.
	// Valid values: skip, queue, reschedule
	OverrunPolicy domain.OverrunPolicy `env:"SCHEDULER_OVERRUN" envDefault:"skip"`

	// OverrunStates defines which previous-job states block a fire when OverrunPolicy=skip.
	// Comma-separated list of: running, pending, unknown.
	OverrunStates domain.OverrunStateMask `env:"SCHEDULER_OVERRUN_STATES" envDefault:"running,pending"`

	// RegisterOnStart upserts the schedule registry when the scheduler service boots.
	RegisterOnStart bool `env:"SCHEDULER_REGISTER_ON_START" envDefault:"true"`

	// Timezone is the IANA zone cron specs are evaluated in.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.OverrunPolicy == "" {
		s.OverrunPolicy = domain.OverrunPolicySkip
	}
	if s.OverrunStates == 0 {
		s.OverrunStates = domain.OverrunStatesDefault
	}
	s.EnabledJobs = trimNonEmpty(s.EnabledJobs)
	if _, err := time.LoadLocation(s.Timezone); err != nil || strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = "UTC"
	}
}

// Location returns the configured timezone.
func (s *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReaperConfig contains retention reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// Retention is how long terminal jobs are kept after completion.
	Retention time.Duration `env:"REAPER_RETENTION" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of jobs deleted per round trip.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive backend load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.Retention < 1*time.Hour {
		r.Retention = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

func trimNonEmpty(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
