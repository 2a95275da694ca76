// Package core declares the ports between the job façade services and the backend adapters.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/jobfacade/internal/domain/model"
)

// JobStore is the capability set every execution backend exposes to the façade.
//
// Implementations must be safe for concurrent use. They report connectivity problems as
// StoreUnavailable errors and never return native driver error types.
type JobStore interface {
	// Backend names the store, e.g. "postgres" or "redis".
	Backend() string
	// Submit enqueues one job and returns as soon as the backend has accepted it.
	Submit(ctx context.Context, params model.SubmitParams) (string, error)
	// Fetch returns the native record for id. Unknown ids yield a record with Found=false, not an error.
	Fetch(ctx context.Context, id string) (*model.NativeRecord, error)
	// List returns up to opts.Limit native records.
	List(ctx context.Context, opts model.ListOptions) ([]*model.NativeRecord, error)
	// Cancel stops a pending or running job. Terminal jobs are left untouched and reported as such.
	Cancel(ctx context.Context, id string) (model.CancelOutcome, error)
	// Introspect reports backend-wide queue statistics.
	Introspect(ctx context.Context) (*model.NativeQueueStats, error)
}

// JobQueue is the worker-facing side of a self-hosted backend.
type JobQueue interface {
	// ReserveNext moves the oldest pending job on one of queues to running under a lease and
	// returns it. When nothing is pending, a running job whose lease lapsed is reserved again.
	// It returns model.ErrNoJobsAvailable when nothing is waiting.
	ReserveNext(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error)
	// ExtendLease pushes a running job's lease out to now+lease. It returns false when the job
	// is no longer running.
	ExtendLease(ctx context.Context, id string, lease time.Duration) (bool, error)
	// Complete records a result. It returns false when the job was no longer running.
	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)
	// Fail records failure text. It returns false when the job was no longer running.
	Fail(ctx context.Context, id, message string) (bool, error)
}

// WorkerRegistry is implemented by backends that can count live workers per queue.
type WorkerRegistry interface {
	// RegisterWorker announces a worker on queues until the returned func is called or ttl lapses.
	RegisterWorker(ctx context.Context, worker string, queues []string, ttl time.Duration) (func(), error)
}

// ScheduleRepository stores periodic job registrations, unique by name.
type ScheduleRepository interface {
	// UpsertSchedule inserts or updates a registration by name.
	UpsertSchedule(ctx context.Context, job model.ScheduledJob) (model.UpsertOutcome, error)
	// ListSchedules returns every registration ordered by name.
	ListSchedules(ctx context.Context) ([]model.ScheduledJob, error)
	// ClaimFire records that name fired at firedAt and submitted jobID. It returns false if another
	// scheduler already claimed this or a later fire.
	ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error)
}

// RetentionRepository deletes expired terminal jobs.
type RetentionRepository interface {
	// DeleteTerminalBefore removes up to batchSize terminal jobs that completed before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Backend bundles everything a fully self-hosted store offers.
type Backend interface {
	JobStore
	JobQueue
	ScheduleRepository
	RetentionRepository
	Close() error
}

// KindCatalog resolves job kinds to queues.
type KindCatalog interface {
	// QueueFor returns the queue for kind and whether the kind is registered.
	QueueFor(kind string) (string, bool)
}
