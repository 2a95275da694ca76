package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// BackendBadger names the embedded store.
const BackendBadger = "badger"

// Broker states of the embedded store. Finished tasks carry no state word, only a success flag.
const (
	brokerQueued    = "queued"
	brokerRunning   = "running"
	brokerDone      = "done"
	brokerCancelled = "cancelled"
)

type badgerTask struct {
	ID          string `badgerhold:"key"`
	Name        string
	Queue       string `badgerhold:"index"`
	Args        []byte
	State       string `badgerhold:"index"`
	Success     *bool
	Result      []byte
	CreatedNano int64 `badgerhold:"index"`
	Started     time.Time
	Stopped     time.Time
	StoppedNano int64
	// LeaseNano is when a running task's reservation lapses; zero never lapses.
	LeaseNano int64
}

type badgerSchedule struct {
	Name string `badgerhold:"key"`
	Job  model.ScheduledJob
}

// BadgerStoreOptions configures a BadgerStore.
type BadgerStoreOptions struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir          string
	InMemory     bool
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// BadgerStore is an embedded badgerhold store shaped after django-q: finished tasks report a
// success flag instead of a status word, and only a total backlog is available.
type BadgerStore struct {
	store  *badgerhold.Store
	clock  TimeProvider
	logger *slog.Logger
}

var _ core.Backend = (*BadgerStore)(nil)

// OpenBadgerStore opens or creates the embedded database.
func OpenBadgerStore(opts BadgerStoreOptions) (*BadgerStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger_store")

	options := badgerhold.DefaultOptions
	if opts.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if strings.TrimSpace(opts.Dir) == "" {
			return nil, errors.New("badger directory is required")
		}
		options.Dir = opts.Dir
		options.ValueDir = opts.Dir
	}
	options.Logger = badgerLogger{logger: logger}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	return &BadgerStore{store: store, clock: clock, logger: logger}, nil
}

// badgerLogger routes badger's internal logging through slog, demoting info chatter to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Backend implements core.JobStore.
func (s *BadgerStore) Backend() string { return BackendBadger }

// Close implements core.Backend.
func (s *BadgerStore) Close() error { return s.store.Close() }

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.FromContext(BackendBadger, err)
	case errors.Is(err, badger.ErrDBClosed):
		return apperrors.StoreUnavailable(BackendBadger, err)
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "job store error")
	}
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	var err error
	for range maxWatchRetries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Submit implements core.JobStore.
func (s *BadgerStore) Submit(ctx context.Context, params model.SubmitParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.FromContext(BackendBadger, err)
	}
	task := &badgerTask{
		ID:          uuid.NewString(),
		Name:        params.Kind,
		Queue:       params.Queue,
		Args:        params.Input,
		State:       brokerQueued,
		CreatedNano: s.clock.Now().UnixNano(),
	}
	if err := s.store.Insert(task.ID, task); err != nil {
		return "", mapBadgerErr(err)
	}
	return task.ID, nil
}

func (t *badgerTask) record() *model.NativeRecord {
	rec := &model.NativeRecord{
		Backend:     BackendBadger,
		ID:          t.ID,
		Found:       true,
		Kind:        t.Name,
		Queue:       t.Queue,
		Success:     t.Success,
		CreatedAt:   model.At(time.Unix(0, t.CreatedNano)),
		StartedAt:   model.At(t.Started),
		CompletedAt: model.At(t.Stopped),
	}
	if len(t.Args) > 0 {
		rec.Input = json.RawMessage(t.Args)
	}
	if t.State != brokerDone {
		rec.Status = t.State
	}
	if len(t.Result) > 0 {
		rec.Result = json.RawMessage(t.Result)
	}
	return rec
}

// Fetch implements core.JobStore.
func (s *BadgerStore) Fetch(ctx context.Context, id string) (*model.NativeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendBadger, err)
	}
	var task badgerTask
	err := s.store.Get(id, &task)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return model.NotFoundRecord(BackendBadger, id), nil
	}
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return task.record(), nil
}

// List implements core.JobStore.
func (s *BadgerStore) List(ctx context.Context, opts model.ListOptions) ([]*model.NativeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendBadger, err)
	}
	q := badgerhold.Where("CreatedNano").Ge(int64(0)).SortBy("CreatedNano")
	if opts.NewestFirst {
		q = q.Reverse()
	}
	var tasks []badgerTask
	if err := s.store.Find(&tasks, q.Limit(opts.Limit)); err != nil {
		return nil, mapBadgerErr(err)
	}
	out := make([]*model.NativeRecord, 0, len(tasks))
	for i := range tasks {
		out = append(out, tasks[i].record())
	}
	return out, nil
}

// Cancel implements core.JobStore.
func (s *BadgerStore) Cancel(ctx context.Context, id string) (model.CancelOutcome, error) {
	var outcome model.CancelOutcome
	err := s.update(ctx, func(tx *badger.Txn) error {
		outcome = model.CancelOutcome{}
		var task badgerTask
		err := s.store.TxGet(tx, id, &task)
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Found = true
		outcome.NativeStatus = task.State
		if task.State == brokerDone || task.State == brokerCancelled {
			outcome.AlreadyTerminal = true
			return nil
		}
		now := s.clock.Now()
		task.State = brokerCancelled
		task.Stopped = now
		task.StoppedNano = now.UnixNano()
		task.LeaseNano = 0
		outcome.NativeStatus = brokerCancelled
		return s.store.TxUpdate(tx, id, &task)
	})
	if err != nil {
		return model.CancelOutcome{}, mapBadgerErr(err)
	}
	return outcome, nil
}

// Introspect implements core.JobStore. The broker keeps no per-queue accounting, so only totals are
// reported.
func (s *BadgerStore) Introspect(ctx context.Context) (*model.NativeQueueStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendBadger, err)
	}
	queued, err := s.store.Count(&badgerTask{}, badgerhold.Where("State").Eq(brokerQueued).Index("State"))
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	done, err := s.store.Count(&badgerTask{}, badgerhold.Where("State").In(brokerDone, brokerCancelled).Index("State"))
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &model.NativeQueueStats{
		Backend:      BackendBadger,
		PerQueue:     false,
		TotalPending: int64(queued),
		Completed:    int64(done),
	}, nil
}

// ReserveNext implements core.JobQueue.
func (s *BadgerStore) ReserveNext(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error) {
	names := make([]any, len(queues))
	for i, q := range queues {
		names[i] = q
	}
	var task *model.Task
	err := s.update(ctx, func(tx *badger.Txn) error {
		task = nil
		now := s.clock.Now()
		next, reclaimed, err := s.nextReservable(tx, names, now)
		if err != nil || next == nil {
			return err
		}
		if reclaimed {
			s.logger.WarnContext(ctx, "re-reserving task with lapsed lease", "task_id", next.ID, "queue", next.Queue)
		}
		next.State = brokerRunning
		next.Started = now
		next.LeaseNano = leaseNano(now, lease)
		if err := s.store.TxUpdate(tx, next.ID, next); err != nil {
			return err
		}
		task = &model.Task{ID: next.ID, Kind: next.Name, Queue: next.Queue, Input: next.Args}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	if task == nil {
		return nil, model.ErrNoJobsAvailable
	}
	return task, nil
}

// nextReservable returns the oldest queued task, or failing that the oldest running task whose
// lease lapsed.
func (s *BadgerStore) nextReservable(tx *badger.Txn, names []any, now time.Time) (*badgerTask, bool, error) {
	var found []badgerTask
	q := badgerhold.Where("State").Eq(brokerQueued).Index("State").
		And("Queue").In(names...).
		SortBy("CreatedNano").Limit(1)
	if err := s.store.TxFind(tx, &found, q); err != nil {
		return nil, false, err
	}
	if len(found) > 0 {
		return &found[0], false, nil
	}
	stale := badgerhold.Where("State").Eq(brokerRunning).Index("State").
		And("Queue").In(names...).
		And("LeaseNano").Gt(int64(0)).
		And("LeaseNano").Le(now.UnixNano()).
		SortBy("CreatedNano").Limit(1)
	var lapsed []badgerTask
	if err := s.store.TxFind(tx, &lapsed, stale); err != nil {
		return nil, false, err
	}
	if len(lapsed) > 0 {
		return &lapsed[0], true, nil
	}
	return nil, false, nil
}

// ExtendLease implements core.JobQueue.
func (s *BadgerStore) ExtendLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	var extended bool
	err := s.update(ctx, func(tx *badger.Txn) error {
		extended = false
		var task badgerTask
		err := s.store.TxGet(tx, id, &task)
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.State != brokerRunning {
			return nil
		}
		task.LeaseNano = leaseNano(s.clock.Now(), lease)
		if err := s.store.TxUpdate(tx, id, &task); err != nil {
			return err
		}
		extended = true
		return nil
	})
	if err != nil {
		return false, mapBadgerErr(err)
	}
	return extended, nil
}

func (s *BadgerStore) finish(ctx context.Context, id string, success bool, result []byte) (bool, error) {
	var done bool
	err := s.update(ctx, func(tx *badger.Txn) error {
		done = false
		var task badgerTask
		err := s.store.TxGet(tx, id, &task)
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.State != brokerRunning {
			return nil
		}
		now := s.clock.Now()
		task.State = brokerDone
		task.Success = &success
		task.Result = result
		task.Stopped = now
		task.StoppedNano = now.UnixNano()
		task.LeaseNano = 0
		if err := s.store.TxUpdate(tx, id, &task); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, mapBadgerErr(err)
	}
	return done, nil
}

// Complete implements core.JobQueue.
func (s *BadgerStore) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	return s.finish(ctx, id, true, result)
}

// Fail implements core.JobQueue. The failure text is kept as the task result, the way django-q
// stores tracebacks.
func (s *BadgerStore) Fail(ctx context.Context, id, message string) (bool, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return false, fmt.Errorf("encode failure: %w", err)
	}
	return s.finish(ctx, id, false, encoded)
}

// UpsertSchedule implements core.ScheduleRepository.
func (s *BadgerStore) UpsertSchedule(ctx context.Context, job model.ScheduledJob) (model.UpsertOutcome, error) {
	var outcome model.UpsertOutcome
	err := s.update(ctx, func(tx *badger.Txn) error {
		var existing badgerSchedule
		err := s.store.TxGet(tx, job.Name, &existing)
		switch {
		case errors.Is(err, badgerhold.ErrNotFound):
			outcome = model.UpsertCreated
		case err != nil:
			return err
		case existing.Job.SameDefinition(job):
			outcome = model.UpsertUnchanged
			return nil
		default:
			job.LastJobID = existing.Job.LastJobID
			job.LastFiredAt = existing.Job.LastFiredAt
			outcome = model.UpsertUpdated
		}
		job.UpdatedAt = s.clock.Now().UTC()
		return s.store.TxUpsert(tx, job.Name, &badgerSchedule{Name: job.Name, Job: job})
	})
	if err != nil {
		return "", mapBadgerErr(err)
	}
	return outcome, nil
}

// ListSchedules implements core.ScheduleRepository.
func (s *BadgerStore) ListSchedules(ctx context.Context) ([]model.ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(BackendBadger, err)
	}
	var rows []badgerSchedule
	if err := s.store.Find(&rows, badgerhold.Where(badgerhold.Key).Ne("").SortBy("Name")); err != nil {
		return nil, mapBadgerErr(err)
	}
	out := make([]model.ScheduledJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Job)
	}
	return out, nil
}

// ClaimFire implements core.ScheduleRepository.
func (s *BadgerStore) ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error) {
	var claimed bool
	err := s.update(ctx, func(tx *badger.Txn) error {
		claimed = false
		var row badgerSchedule
		err := s.store.TxGet(tx, name, &row)
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if row.Job.LastFiredAt != nil && !row.Job.LastFiredAt.Before(firedAt) {
			return nil
		}
		fired := firedAt.UTC()
		row.Job.LastFiredAt = &fired
		row.Job.LastJobID = jobID
		if err := s.store.TxUpdate(tx, name, &row); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, mapBadgerErr(err)
	}
	return claimed, nil
}

// DeleteTerminalBefore implements core.RetentionRepository.
func (s *BadgerStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var removed int64
	err := s.update(ctx, func(tx *badger.Txn) error {
		removed = 0
		var expired []badgerTask
		q := badgerhold.Where("State").In(brokerDone, brokerCancelled).Index("State").
			And("StoppedNano").Lt(cutoff.UnixNano()).
			Limit(batchSize)
		if err := s.store.TxFind(tx, &expired, q); err != nil {
			return err
		}
		for _, t := range expired {
			if err := s.store.TxDelete(tx, t.ID, &badgerTask{}); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, mapBadgerErr(err)
	}
	return removed, nil
}
