package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/segmentio/ksuid"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// BackendMemory names the in-process store.
const BackendMemory = "memory"

// Native states of the in-process store. It speaks the Celery vocabulary.
const (
	celeryPending = "PENDING"
	celeryStarted = "STARTED"
	celerySuccess = "SUCCESS"
	celeryFailure = "FAILURE"
	celeryRevoked = "REVOKED"
)

const (
	memJobsTable      = "jobs"
	memWorkersTable   = "workers"
	memSchedulesTable = "schedules"
)

type memJob struct {
	ID          string
	Seq         uint64
	Kind        string
	Queue       string
	Input       json.RawMessage
	State       string
	Result      json.RawMessage
	Exception   error
	DateCreated time.Time
	DateStarted time.Time
	DateDone    time.Time
	// LeaseUntil is when a started job may be taken over by another worker. Zero never expires.
	LeaseUntil time.Time
	History    []model.NativeTransition
}

func (j *memJob) clone() *memJob {
	cp := *j
	cp.History = append([]model.NativeTransition(nil), j.History...)
	return &cp
}

func (j *memJob) transition(state string, at time.Time) {
	j.State = state
	j.History = append(j.History, model.NativeTransition{Status: state, At: model.At(at)})
}

func (j *memJob) terminal() bool {
	return j.State == celerySuccess || j.State == celeryFailure || j.State == celeryRevoked
}

type memWorker struct {
	Key       string
	Worker    string
	Queue     string
	ExpiresAt time.Time
}

type memSchedule struct {
	Name string
	Job  model.ScheduledJob
}

// MemoryStoreOptions configures a MemoryStore.
type MemoryStoreOptions struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// MemoryStore is a go-memdb backed job store. State lives in the process, so it suits development,
// tests and single-instance deployments.
type MemoryStore struct {
	db     *memdb.MemDB
	seq    atomic.Uint64
	clock  TimeProvider
	logger *slog.Logger
}

var _ core.Backend = (*MemoryStore)(nil)
var _ core.WorkerRegistry = (*MemoryStore)(nil)

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memJobsTable: {
				Name: memJobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"seq": {
						Name:    "seq",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Seq"},
					},
					"state": {
						Name:    "state",
						Indexer: &memdb.StringFieldIndex{Field: "State"},
					},
					"queue_state": {
						Name: "queue_state",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Queue"},
								&memdb.StringFieldIndex{Field: "State"},
							},
						},
					},
				},
			},
			memWorkersTable: {
				Name: memWorkersTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
			memSchedulesTable: {
				Name: memSchedulesTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts MemoryStoreOptions) (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{db: db, clock: clock, logger: logger.With("component", "memory_store")}, nil
}

// Backend implements core.JobStore.
func (s *MemoryStore) Backend() string { return BackendMemory }

// Close implements core.Backend. The store holds no external resources.
func (s *MemoryStore) Close() error { return nil }

// Submit implements core.JobStore.
func (s *MemoryStore) Submit(ctx context.Context, params model.SubmitParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.FromContext(BackendMemory, err)
	}
	now := s.clock.Now()
	job := &memJob{
		ID:          ksuid.New().String(),
		Seq:         s.seq.Add(1),
		Kind:        params.Kind,
		Queue:       params.Queue,
		Input:       params.Input,
		DateCreated: now,
	}
	job.transition(celeryPending, now)

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(memJobsTable, job); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "insert job")
	}
	txn.Commit()
	return job.ID, nil
}

func (s *MemoryStore) getJob(txn *memdb.Txn, id string) (*memJob, error) {
	raw, err := txn.First(memJobsTable, "id", id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "lookup job")
	}
	if raw == nil {
		return nil, nil
	}
	job, ok := raw.(*memJob)
	if !ok {
		return nil, apperrors.Internalf("unexpected job row type %T", raw)
	}
	return job, nil
}

// Fetch implements core.JobStore.
func (s *MemoryStore) Fetch(ctx context.Context, id string) (*model.NativeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(false)
	job, err := s.getJob(txn, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return model.NotFoundRecord(BackendMemory, id), nil
	}
	return job.record(), nil
}

func (j *memJob) record() *model.NativeRecord {
	rec := &model.NativeRecord{
		Backend:     BackendMemory,
		ID:          j.ID,
		Found:       true,
		Kind:        j.Kind,
		Queue:       j.Queue,
		Input:       j.Input,
		Status:      j.State,
		CreatedAt:   model.At(j.DateCreated),
		StartedAt:   model.At(j.DateStarted),
		CompletedAt: model.At(j.DateDone),
		History:     append([]model.NativeTransition(nil), j.History...),
	}
	// Celery keeps the raised exception as the task result.
	if j.Exception != nil {
		rec.Result = j.Exception
	} else if len(j.Result) > 0 {
		rec.Result = j.Result
	}
	return rec
}

// List implements core.JobStore.
func (s *MemoryStore) List(ctx context.Context, opts model.ListOptions) ([]*model.NativeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(false)
	var (
		it  memdb.ResultIterator
		err error
	)
	if opts.NewestFirst {
		it, err = txn.GetReverse(memJobsTable, "seq")
	} else {
		it, err = txn.Get(memJobsTable, "seq")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list jobs")
	}

	out := make([]*model.NativeRecord, 0, min(opts.Limit, 256))
	for raw := it.Next(); raw != nil && len(out) < opts.Limit; raw = it.Next() {
		if job, ok := raw.(*memJob); ok {
			out = append(out, job.record())
		}
	}
	return out, nil
}

// Cancel implements core.JobStore.
func (s *MemoryStore) Cancel(ctx context.Context, id string) (model.CancelOutcome, error) {
	if err := ctx.Err(); err != nil {
		return model.CancelOutcome{}, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	job, err := s.getJob(txn, id)
	if err != nil {
		return model.CancelOutcome{}, err
	}
	if job == nil {
		return model.CancelOutcome{Found: false}, nil
	}
	if job.terminal() {
		return model.CancelOutcome{Found: true, AlreadyTerminal: true, NativeStatus: job.State}, nil
	}

	now := s.clock.Now()
	updated := job.clone()
	updated.transition(celeryRevoked, now)
	updated.DateDone = now
	if err := txn.Insert(memJobsTable, updated); err != nil {
		return model.CancelOutcome{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "revoke job")
	}
	txn.Commit()
	return model.CancelOutcome{Found: true, NativeStatus: celeryRevoked}, nil
}

// Introspect implements core.JobStore.
func (s *MemoryStore) Introspect(ctx context.Context) (*model.NativeQueueStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(false)
	now := s.clock.Now()

	pending := map[string]int64{}
	it, err := txn.Get(memJobsTable, "state", celeryPending)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan pending jobs")
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		pending[raw.(*memJob).Queue]++
	}

	workers := map[string]int64{}
	wit, err := txn.Get(memWorkersTable, "id")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan workers")
	}
	for raw := wit.Next(); raw != nil; raw = wit.Next() {
		w := raw.(*memWorker)
		if w.ExpiresAt.After(now) {
			workers[w.Queue]++
		}
	}

	var completed int64
	for _, state := range []string{celerySuccess, celeryFailure, celeryRevoked} {
		cit, err := txn.Get(memJobsTable, "state", state)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan finished jobs")
		}
		for raw := cit.Next(); raw != nil; raw = cit.Next() {
			completed++
		}
	}

	stats := &model.NativeQueueStats{Backend: BackendMemory, PerQueue: true, Completed: completed}
	for _, name := range unionKeys(pending, workers) {
		w := workers[name]
		stats.Queues = append(stats.Queues, model.NativeQueue{Name: name, Pending: pending[name], Workers: &w})
		stats.TotalPending += pending[name]
	}
	return stats, nil
}

func unionKeys(a, b map[string]int64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReserveNext implements core.JobQueue. Pending jobs go first; a started job whose lease has
// lapsed is handed out again once nothing is pending.
func (s *MemoryStore) ReserveNext(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	now := s.clock.Now()
	next, err := s.oldestInState(txn, queues, celeryPending, nil)
	if err != nil {
		return nil, err
	}
	if next == nil {
		next, err = s.oldestInState(txn, queues, celeryStarted, func(j *memJob) bool {
			return !j.LeaseUntil.IsZero() && !j.LeaseUntil.After(now)
		})
		if err != nil {
			return nil, err
		}
		if next != nil {
			s.logger.WarnContext(ctx, "re-reserving job with expired lease", "job_id", next.ID,
				"lease_until", next.LeaseUntil)
		}
	}
	if next == nil {
		return nil, model.ErrNoJobsAvailable
	}

	updated := next.clone()
	updated.transition(celeryStarted, now)
	updated.DateStarted = now
	updated.LeaseUntil = leaseDeadline(now, lease)
	if err := txn.Insert(memJobsTable, updated); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "start job")
	}
	txn.Commit()
	return &model.Task{ID: updated.ID, Kind: updated.Kind, Queue: updated.Queue, Input: updated.Input}, nil
}

func (s *MemoryStore) oldestInState(
	txn *memdb.Txn,
	queues []string,
	state string,
	keep func(*memJob) bool,
) (*memJob, error) {
	var next *memJob
	for _, q := range queues {
		it, err := txn.Get(memJobsTable, "queue_state", q, state)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan queue")
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			job := raw.(*memJob)
			if keep != nil && !keep(job) {
				continue
			}
			if next == nil || job.Seq < next.Seq {
				next = job
			}
		}
	}
	return next, nil
}

// ExtendLease implements core.JobQueue.
func (s *MemoryStore) ExtendLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	job, err := s.getJob(txn, id)
	if err != nil {
		return false, err
	}
	if job == nil || job.State != celeryStarted {
		return false, nil
	}
	updated := job.clone()
	updated.LeaseUntil = leaseDeadline(s.clock.Now(), lease)
	if err := txn.Insert(memJobsTable, updated); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "extend lease")
	}
	txn.Commit()
	return true, nil
}

func (s *MemoryStore) finish(ctx context.Context, id string, apply func(*memJob)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	job, err := s.getJob(txn, id)
	if err != nil {
		return false, err
	}
	if job == nil || job.State != celeryStarted {
		return false, nil
	}
	updated := job.clone()
	updated.DateDone = s.clock.Now()
	updated.LeaseUntil = time.Time{}
	apply(updated)
	if err := txn.Insert(memJobsTable, updated); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "finish job")
	}
	txn.Commit()
	return true, nil
}

// Complete implements core.JobQueue.
func (s *MemoryStore) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	return s.finish(ctx, id, func(j *memJob) {
		j.Result = result
		j.transition(celerySuccess, j.DateDone)
	})
}

// Fail implements core.JobQueue.
func (s *MemoryStore) Fail(ctx context.Context, id, message string) (bool, error) {
	return s.finish(ctx, id, func(j *memJob) {
		j.Exception = errors.New(message)
		j.transition(celeryFailure, j.DateDone)
	})
}

// RegisterWorker implements core.WorkerRegistry.
func (s *MemoryStore) RegisterWorker(
	ctx context.Context,
	worker string,
	queues []string,
	ttl time.Duration,
) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	expires := s.clock.Now().Add(ttl)
	txn := s.db.Txn(true)
	defer txn.Abort()
	keys := make([]string, 0, len(queues))
	for _, q := range queues {
		key := worker + "/" + q
		if err := txn.Insert(memWorkersTable, &memWorker{Key: key, Worker: worker, Queue: q, ExpiresAt: expires}); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "register worker")
		}
		keys = append(keys, key)
	}
	txn.Commit()

	return func() {
		del := s.db.Txn(true)
		defer del.Abort()
		for _, key := range keys {
			if _, err := del.DeleteAll(memWorkersTable, "id", key); err != nil {
				s.logger.Warn("unregister worker failed", "worker", worker, "error", err)
				return
			}
		}
		del.Commit()
	}, nil
}

// UpsertSchedule implements core.ScheduleRepository.
func (s *MemoryStore) UpsertSchedule(ctx context.Context, job model.ScheduledJob) (model.UpsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memSchedulesTable, "id", job.Name)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "lookup schedule")
	}
	outcome := model.UpsertCreated
	if raw != nil {
		existing := raw.(*memSchedule).Job
		if existing.SameDefinition(job) {
			return model.UpsertUnchanged, nil
		}
		job.LastJobID = existing.LastJobID
		job.LastFiredAt = existing.LastFiredAt
		outcome = model.UpsertUpdated
	}
	job.UpdatedAt = s.clock.Now()
	if err := txn.Insert(memSchedulesTable, &memSchedule{Name: job.Name, Job: job}); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "upsert schedule")
	}
	txn.Commit()
	return outcome, nil
}

// ListSchedules implements core.ScheduleRepository.
func (s *MemoryStore) ListSchedules(ctx context.Context) ([]model.ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendMemory, err)
	}
	it, err := s.db.Txn(false).Get(memSchedulesTable, "id")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list schedules")
	}
	var out []model.ScheduledJob
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*memSchedule).Job)
	}
	return out, nil
}

// ClaimFire implements core.ScheduleRepository.
func (s *MemoryStore) ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(memSchedulesTable, "id", name)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "lookup schedule")
	}
	if raw == nil {
		return false, nil
	}
	sched := raw.(*memSchedule).Job
	if sched.LastFiredAt != nil && !sched.LastFiredAt.Before(firedAt) {
		return false, nil
	}
	fired := firedAt
	sched.LastFiredAt = &fired
	sched.LastJobID = jobID
	if err := txn.Insert(memSchedulesTable, &memSchedule{Name: name, Job: sched}); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "claim schedule fire")
	}
	txn.Commit()
	return true, nil
}

// DeleteTerminalBefore implements core.RetentionRepository.
func (s *MemoryStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.FromContext(BackendMemory, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	var expired []*memJob
	for _, state := range []string{celerySuccess, celeryFailure, celeryRevoked} {
		it, err := txn.Get(memJobsTable, "state", state)
		if err != nil {
			return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan finished jobs")
		}
		for raw := it.Next(); raw != nil && len(expired) < batchSize; raw = it.Next() {
			if job := raw.(*memJob); job.DateDone.Before(cutoff) {
				expired = append(expired, job)
			}
		}
	}
	for _, job := range expired {
		if err := txn.Delete(memJobsTable, job); err != nil {
			return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "delete job")
		}
	}
	txn.Commit()
	return int64(len(expired)), nil
}
