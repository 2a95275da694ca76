package config

import (
	"strings"
	"time"
)

// Backend names accepted by JOBS_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
)

// Façade limits.
const (
	DefaultMaxListLimit = 10000
	minBackendTimeout   = 100 * time.Millisecond
)

// ValidBackends returns every backend name JOBS_BACKEND accepts.
func ValidBackends() []string {
	return []string{BackendPostgres, BackendRedis, BackendMemory, BackendBadger}
}

// JobsConfig selects the execution backend and bounds façade operations.
type JobsConfig struct {
	// Backend names the execution backend. An unknown value does not fail boot; the service
	// starts with an unavailable store instead.
	Backend string `env:"JOBS_BACKEND" envDefault:"memory"`

	// BackendTimeout bounds every backend round trip.
	BackendTimeout time.Duration `env:"JOBS_BACKEND_TIMEOUT" envDefault:"5s"`

	// MaxListLimit caps the number of jobs a single list call returns.
	MaxListLimit int `env:"JOBS_MAX_LIST_LIMIT" envDefault:"10000"`

	// DefaultListLimit applies when a list call does not specify a limit.
	DefaultListLimit int `env:"JOBS_DEFAULT_LIST_LIMIT" envDefault:"50"`

	// AllowUnknownKinds lets callers submit kinds with no registered handler. They land on the
	// default queue.
	AllowUnknownKinds bool `env:"JOBS_ALLOW_UNKNOWN_KINDS" envDefault:"false"`
}

// Sanitize applies guardrails to jobs configuration values.
func (j *JobsConfig) Sanitize() {
	j.Backend = strings.ToLower(strings.TrimSpace(j.Backend))
	if j.BackendTimeout < minBackendTimeout {
		j.BackendTimeout = minBackendTimeout
	}
	if j.MaxListLimit < 1 || j.MaxListLimit > DefaultMaxListLimit {
		j.MaxListLimit = DefaultMaxListLimit
	}
	if j.DefaultListLimit < 1 {
		j.DefaultListLimit = 1
	}
	if j.DefaultListLimit > j.MaxListLimit {
		j.DefaultListLimit = j.MaxListLimit
	}
}

// IsValidBackend reports whether Backend names a supported backend.
func (j *JobsConfig) IsValidBackend() bool {
	for _, b := range ValidBackends() {
		if b == j.Backend {
			return true
		}
	}
	return false
}
