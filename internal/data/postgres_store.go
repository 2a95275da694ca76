package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/data/pgxutil"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// BackendPostgres names the relational store.
const BackendPostgres = "postgres"

// Native states written by the relational store.
const (
	pgEnqueued  = "ENQUEUED"
	pgRunning   = "RUNNING"
	pgSuccess   = "SUCCESS"
	pgError     = "ERROR"
	pgCancelled = "CANCELLED"
)

// PostgresStoreOptions configures a PostgresStore.
type PostgresStoreOptions struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// PostgresStore keeps jobs in Postgres. Timestamps are epoch milliseconds and every status change
// is appended to job_transitions.
type PostgresStore struct {
	DB     *sql.DB
	clock  TimeProvider
	logger *slog.Logger
}

var _ core.Backend = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle. Migrations must already be applied.
func NewPostgresStore(db *sql.DB, opts PostgresStoreOptions) *PostgresStore {
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{DB: db, clock: clock, logger: logger.With("component", "postgres_store")}
}

// Backend implements core.JobStore.
func (s *PostgresStore) Backend() string { return BackendPostgres }

// Close implements core.Backend.
func (s *PostgresStore) Close() error { return s.DB.Close() }

func (s *PostgresStore) nowMillis() int64 { return s.clock.Now().UnixMilli() }

func (s *PostgresStore) mapErr(err error) error {
	return apperrors.MapDBError(BackendPostgres, err)
}

const insertTransitionSQL = `INSERT INTO job_transitions (job_id, status, at) VALUES ($1, $2, $3)`

// Submit implements core.JobStore.
func (s *PostgresStore) Submit(ctx context.Context, params model.SubmitParams) (string, error) {
	id := uuid.NewString()
	now := s.nowMillis()
	var inputs any
	if len(params.Input) > 0 {
		inputs = string(params.Input)
	}

	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO jobs (id, kind, queue_name, inputs, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, $5, $6, $6)`,
			id, params.Kind, params.Queue, inputs, pgEnqueued, now,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertTransitionSQL, id, pgEnqueued, now)
		return err
	}})
	if err != nil {
		return "", s.mapErr(err)
	}
	return id, nil
}

type pgJobRow struct {
	ID          string
	Kind        string
	Queue       string
	Inputs      []byte
	Status      string
	Output      []byte
	Error       *string
	CreatedAt   int64
	StartedAt   *int64
	CompletedAt *int64
}

const pgJobColumns = `id::text, kind, queue_name, inputs, status, output, error, created_at, started_at, completed_at`

func scanPgJob(row pgx.CollectableRow) (pgJobRow, error) {
	var r pgJobRow
	err := row.Scan(&r.ID, &r.Kind, &r.Queue, &r.Inputs, &r.Status, &r.Output, &r.Error,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	return r, err
}

func millisOrUnset(v *int64) model.NativeTime {
	if v == nil {
		return model.NativeTime{}
	}
	return model.EpochMillis(*v)
}

func (r pgJobRow) record(history []model.NativeTransition) *model.NativeRecord {
	rec := &model.NativeRecord{
		Backend:     BackendPostgres,
		ID:          r.ID,
		Found:       true,
		Kind:        r.Kind,
		Queue:       r.Queue,
		Input:       r.Inputs,
		Status:      r.Status,
		CreatedAt:   model.EpochMillis(r.CreatedAt),
		StartedAt:   millisOrUnset(r.StartedAt),
		CompletedAt: millisOrUnset(r.CompletedAt),
		History:     history,
	}
	if len(r.Output) > 0 {
		rec.Result = json.RawMessage(r.Output)
	}
	if r.Error != nil {
		rec.Error = *r.Error
	}
	return rec
}

// Fetch implements core.JobStore.
func (s *PostgresStore) Fetch(ctx context.Context, id string) (*model.NativeRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.NotFoundRecord(BackendPostgres, id), nil
	}

	var rec *model.NativeRecord
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		row, err := pgx.CollectExactlyOneRow(rows, scanPgJob)
		if err != nil {
			return err
		}
		history, err := s.history(ctx, conn, id)
		if err != nil {
			return err
		}
		rec = row.record(history)
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotFoundRecord(BackendPostgres, id), nil
	}
	if err != nil {
		return nil, s.mapErr(err)
	}
	return rec, nil
}

func (s *PostgresStore) history(ctx context.Context, conn *pgx.Conn, id string) ([]model.NativeTransition, error) {
	rows, err := conn.Query(ctx, `SELECT status, at FROM job_transitions WHERE job_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.NativeTransition, error) {
		var (
			status string
			at     int64
		)
		err := row.Scan(&status, &at)
		return model.NativeTransition{Status: status, At: model.EpochMillis(at)}, err
	})
}

// List implements core.JobStore. History is not loaded for listings.
func (s *PostgresStore) List(ctx context.Context, opts model.ListOptions) ([]*model.NativeRecord, error) {
	order := "ASC"
	if opts.NewestFirst {
		order = "DESC"
	}
	query := `SELECT ` + pgJobColumns + ` FROM jobs ORDER BY created_at ` + order + `, id ` + order + ` LIMIT $1`

	var out []*model.NativeRecord
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, opts.Limit)
		if err != nil {
			return err
		}
		collected, err := pgx.CollectRows(rows, scanPgJob)
		if err != nil {
			return err
		}
		out = make([]*model.NativeRecord, 0, len(collected))
		for _, r := range collected {
			out = append(out, r.record(nil))
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

// Cancel implements core.JobStore.
func (s *PostgresStore) Cancel(ctx context.Context, id string) (model.CancelOutcome, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.CancelOutcome{}, nil
	}
	var outcome model.CancelOutcome
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Found = true
		outcome.NativeStatus = status
		if status == pgSuccess || status == pgError || status == pgCancelled {
			outcome.AlreadyTerminal = true
			return nil
		}
		now := s.nowMillis()
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $2, completed_at = $3, updated_at = $3, lease_expires_at = NULL
			WHERE id = $1`,
			id, pgCancelled, now,
		); err != nil {
			return err
		}
		outcome.NativeStatus = pgCancelled
		_, err = tx.Exec(ctx, insertTransitionSQL, id, pgCancelled, now)
		return err
	}})
	if err != nil {
		return model.CancelOutcome{}, s.mapErr(err)
	}
	return outcome, nil
}

// Introspect implements core.JobStore. The relational store has no live worker registry, so worker
// counts are left unset.
func (s *PostgresStore) Introspect(ctx context.Context) (*model.NativeQueueStats, error) {
	stats := &model.NativeQueueStats{Backend: BackendPostgres, PerQueue: true}
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT queue_name, count(*) FROM jobs WHERE status = $1
			GROUP BY queue_name ORDER BY queue_name`, pgEnqueued)
		if err != nil {
			return err
		}
		queues, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.NativeQueue, error) {
			var q model.NativeQueue
			err := row.Scan(&q.Name, &q.Pending)
			return q, err
		})
		if err != nil {
			return err
		}
		stats.Queues = queues
		for _, q := range queues {
			stats.TotalPending += q.Pending
		}
		return conn.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status IN ($1, $2, $3)`,
			pgSuccess, pgError, pgCancelled).Scan(&stats.Completed)
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return stats, nil
}

// reserveNextSQL takes the oldest enqueued row, or failing that the oldest running row whose
// lease lapsed.
const reserveNextSQL = `
  WITH cte AS (
    SELECT id, status AS prior FROM jobs
    WHERE queue_name = ANY($2)
      AND (status = $1 OR (status = $3 AND lease_expires_at IS NOT NULL AND lease_expires_at <= $4))
    ORDER BY (status = $1) DESC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET status = $3, started_at = COALESCE(j.started_at, $4), lease_expires_at = $5, updated_at = $4
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id::text, j.kind, j.queue_name, j.inputs, cte.prior`

// leaseMillis is the lease expiry column value; nil never lapses.
func leaseMillis(now time.Time, lease time.Duration) *int64 {
	deadline := leaseDeadline(now, lease)
	if deadline.IsZero() {
		return nil
	}
	ms := deadline.UnixMilli()
	return &ms
}

// ReserveNext implements core.JobQueue.
func (s *PostgresStore) ReserveNext(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error) {
	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		clockNow := s.clock.Now()
		now := clockNow.UnixMilli()
		var (
			t      model.Task
			inputs []byte
			prior  string
		)
		err := tx.QueryRow(ctx, reserveNextSQL, pgEnqueued, queues, pgRunning, now, leaseMillis(clockNow, lease)).
			Scan(&t.ID, &t.Kind, &t.Queue, &inputs, &prior)
		if err != nil {
			return err
		}
		if prior == pgRunning {
			s.logger.WarnContext(ctx, "re-reserving job with lapsed lease", "job_id", t.ID, "queue", t.Queue)
		}
		t.Input = inputs
		if _, err := tx.Exec(ctx, insertTransitionSQL, t.ID, pgRunning, now); err != nil {
			return err
		}
		task = &t
		return nil
	}})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, s.mapErr(err)
	}
	return task, nil
}

// ExtendLease implements core.JobQueue.
func (s *PostgresStore) ExtendLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := s.clock.Now()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, leaseMillis(now, lease), now.UnixMilli(), pgRunning,
	)
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.mapErr(err)
	}
	return n > 0, nil
}

func (s *PostgresStore) finish(ctx context.Context, id, status string, output json.RawMessage, msg *string) (bool, error) {
	var updated bool
	var out any
	if len(output) > 0 {
		out = string(output)
	}
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		now := s.nowMillis()
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $2, output = $3::jsonb, error = $4, completed_at = $5, updated_at = $5,
				lease_expires_at = NULL
			WHERE id = $1 AND status = $6`,
			id, status, out, msg, now, pgRunning,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		updated = true
		_, err = tx.Exec(ctx, insertTransitionSQL, id, status, now)
		return err
	}})
	if err != nil {
		return false, s.mapErr(err)
	}
	return updated, nil
}

// Complete implements core.JobQueue.
func (s *PostgresStore) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	return s.finish(ctx, id, pgSuccess, result, nil)
}

// Fail implements core.JobQueue.
func (s *PostgresStore) Fail(ctx context.Context, id, message string) (bool, error) {
	return s.finish(ctx, id, pgError, nil, &message)
}

// UpsertSchedule implements core.ScheduleRepository. Rows are keyed by task_name so repeated
// registration never duplicates.
func (s *PostgresStore) UpsertSchedule(ctx context.Context, job model.ScheduledJob) (model.UpsertOutcome, error) {
	var outcome model.UpsertOutcome
	var inputs any
	if len(job.Input) > 0 {
		inputs = string(job.Input)
	}
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var existing model.ScheduledJob
		var existingInputs []byte
		err := tx.QueryRow(ctx, `
			SELECT task_name, kind, cron_spec, inputs, enabled FROM scheduled_jobs
			WHERE task_name = $1 FOR UPDATE`, job.Name,
		).Scan(&existing.Name, &existing.Kind, &existing.CronSpec, &existingInputs, &existing.Enabled)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			outcome = model.UpsertCreated
		case err != nil:
			return err
		default:
			existing.Input = existingInputs
			if existing.SameDefinition(job) {
				outcome = model.UpsertUnchanged
				return nil
			}
			outcome = model.UpsertUpdated
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO scheduled_jobs (task_name, kind, cron_spec, inputs, enabled, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, $5, $6)
			ON CONFLICT (task_name) DO UPDATE
			SET kind = EXCLUDED.kind,
			    cron_spec = EXCLUDED.cron_spec,
			    inputs = EXCLUDED.inputs,
			    enabled = EXCLUDED.enabled,
			    updated_at = EXCLUDED.updated_at`,
			job.Name, job.Kind, job.CronSpec, inputs, job.Enabled, s.clock.Now().UTC(),
		)
		return err
	}})
	if err != nil {
		return "", s.mapErr(err)
	}
	return outcome, nil
}

// ListSchedules implements core.ScheduleRepository.
func (s *PostgresStore) ListSchedules(ctx context.Context) ([]model.ScheduledJob, error) {
	var out []model.ScheduledJob
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT task_name, kind, cron_spec, inputs, enabled, COALESCE(last_job_id, ''), last_fired_at, updated_at
			FROM scheduled_jobs ORDER BY task_name`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ScheduledJob, error) {
			var j model.ScheduledJob
			var inputs []byte
			err := row.Scan(&j.Name, &j.Kind, &j.CronSpec, &inputs, &j.Enabled, &j.LastJobID, &j.LastFiredAt, &j.UpdatedAt)
			j.Input = inputs
			return j, err
		})
		return err
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

// ClaimFire implements core.ScheduleRepository. Only the first caller for a given fire time wins,
// so several scheduler replicas can share one database.
func (s *PostgresStore) ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_fired_at = $2, last_job_id = $3
		WHERE task_name = $1 AND (last_fired_at IS NULL OR last_fired_at < $2)`,
		name, firedAt.UTC(), jobID,
	)
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim fire rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteTerminalBefore implements core.RetentionRepository.
func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ($1, $2, $3) AND completed_at < $4
			ORDER BY completed_at
			LIMIT $5
		)`,
		pgSuccess, pgError, pgCancelled, cutoff.UnixMilli(), batchSize,
	)
	if err != nil {
		return 0, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retention rows affected: %w", err)
	}
	return n, nil
}
