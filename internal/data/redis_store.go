package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// BackendRedis names the Redis store.
const BackendRedis = "redis"

// Native states written by the Redis store. The layout follows RQ.
const (
	rqQueued   = "queued"
	rqStarted  = "started"
	rqFinished = "finished"
	rqFailed   = "failed"
	rqCanceled = "canceled"
)

const (
	defaultKeyPrefix = "rq"
	maxWatchRetries  = 5
)

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	Client redis.UniversalClient
	// KeyPrefix namespaces every key. Cluster deployments should use a hash tag such as "{rq}".
	KeyPrefix    string
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// ResultTTL expires finished job hashes and result streams. Zero keeps them until the reaper runs.
	ResultTTL time.Duration
}

// RedisStore keeps jobs as Redis hashes and queues as lists:
//
//	<p>:job:<id>          hash with kind, origin, data, status, timestamps (epoch seconds)
//	<p>:queue:<name>      list of queued job ids
//	<p>:queues            set of queue names
//	<p>:jobs:created      zset of job ids scored by creation time
//	<p>:results:<id>      stream holding the return value
//	<p>:registry:<state>  zset of terminal job ids scored by end time
//	<p>:registry:started  zset of running job ids scored by lease expiry
//	<p>:workers:<name>    zset of live workers scored by heartbeat expiry
//	<p>:schedules         hash of scheduled job registrations
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	clock     TimeProvider
	logger    *slog.Logger
	resultTTL time.Duration
}

var _ core.Backend = (*RedisStore)(nil)
var _ core.WorkerRegistry = (*RedisStore)(nil)

// NewRedisStore constructs a RedisStore.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(opts.KeyPrefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client:    opts.Client,
		prefix:    prefix,
		clock:     clock,
		logger:    logger.With("component", "redis_store"),
		resultTTL: opts.ResultTTL,
	}, nil
}

// Backend implements core.JobStore.
func (s *RedisStore) Backend() string { return BackendRedis }

// Close implements core.Backend.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) jobKey(id string) string      { return s.prefix + ":job:" + id }
func (s *RedisStore) queueKey(name string) string  { return s.prefix + ":queue:" + name }
func (s *RedisStore) queuesKey() string            { return s.prefix + ":queues" }
func (s *RedisStore) createdKey() string           { return s.prefix + ":jobs:created" }
func (s *RedisStore) resultKey(id string) string   { return s.prefix + ":results:" + id }
func (s *RedisStore) registryKey(st string) string { return s.prefix + ":registry:" + st }
func (s *RedisStore) workersKey(q string) string   { return s.prefix + ":workers:" + q }
func (s *RedisStore) schedulesKey() string         { return s.prefix + ":schedules" }

func (s *RedisStore) mapErr(err error) error { return apperrors.MapRedisError(BackendRedis, err) }

func epochSeconds(t time.Time) float64 { return float64(t.UnixMicro()) / 1e6 }

func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(epochSeconds(t), 'f', 6, 64)
}

func parseEpoch(v string) model.NativeTime {
	if v == "" {
		return model.NativeTime{}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return model.NativeTime{}
	}
	return model.EpochSeconds(f)
}

func rqTerminal(status string) bool {
	return status == rqFinished || status == rqFailed || status == rqCanceled
}

// Submit implements core.JobStore.
func (s *RedisStore) Submit(ctx context.Context, params model.SubmitParams) (string, error) {
	id := ksuid.New().String()
	now := s.clock.Now()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(id), map[string]any{
			"id":         id,
			"kind":       params.Kind,
			"origin":     params.Queue,
			"data":       string(params.Input),
			"status":     rqQueued,
			"created_at": formatEpoch(now),
		})
		pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: epochSeconds(now), Member: id})
		pipe.SAdd(ctx, s.queuesKey(), params.Queue)
		pipe.RPush(ctx, s.queueKey(params.Queue), id)
		return nil
	})
	if err != nil {
		return "", s.mapErr(err)
	}
	return id, nil
}

func (s *RedisStore) record(id string, fields map[string]string, result []redis.XMessage) *model.NativeRecord {
	if len(fields) == 0 {
		return model.NotFoundRecord(BackendRedis, id)
	}
	rec := &model.NativeRecord{
		Backend:     BackendRedis,
		ID:          id,
		Found:       true,
		Kind:        fields["kind"],
		Queue:       fields["origin"],
		Status:      fields["status"],
		Error:       fields["exc_info"],
		CreatedAt:   parseEpoch(fields["created_at"]),
		StartedAt:   parseEpoch(fields["started_at"]),
		CompletedAt: parseEpoch(fields["ended_at"]),
	}
	if data := fields["data"]; data != "" {
		rec.Input = json.RawMessage(data)
	}
	if len(result) > 0 {
		if v, ok := result[0].Values["return_value"].(string); ok && v != "" {
			rec.Result = []byte(v)
		}
	}
	return rec
}

// Fetch implements core.JobStore.
func (s *RedisStore) Fetch(ctx context.Context, id string) (*model.NativeRecord, error) {
	var (
		hash   *redis.MapStringStringCmd
		result *redis.XMessageSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		hash = pipe.HGetAll(ctx, s.jobKey(id))
		result = pipe.XRevRangeN(ctx, s.resultKey(id), "+", "-", 1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.mapErr(err)
	}
	return s.record(id, hash.Val(), result.Val()), nil
}

// List implements core.JobStore. Ids whose hash has expired are skipped.
func (s *RedisStore) List(ctx context.Context, opts model.ListOptions) ([]*model.NativeRecord, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	stop := int64(opts.Limit - 1)
	var (
		ids []string
		err error
	)
	if opts.NewestFirst {
		ids, err = s.client.ZRevRange(ctx, s.createdKey(), 0, stop).Result()
	} else {
		ids, err = s.client.ZRange(ctx, s.createdKey(), 0, stop).Result()
	}
	if err != nil {
		return nil, s.mapErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	hashes := make([]*redis.MapStringStringCmd, len(ids))
	results := make([]*redis.XMessageSliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = pipe.HGetAll(ctx, s.jobKey(id))
			results[i] = pipe.XRevRangeN(ctx, s.resultKey(id), "+", "-", 1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.mapErr(err)
	}

	out := make([]*model.NativeRecord, 0, len(ids))
	for i, id := range ids {
		if len(hashes[i].Val()) == 0 {
			continue
		}
		out = append(out, s.record(id, hashes[i].Val(), results[i].Val()))
	}
	return out, nil
}

// watch runs fn in an optimistic transaction over keys, retrying on concurrent modification.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxWatchRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction contended: %w", err)
}

// Cancel implements core.JobStore.
func (s *RedisStore) Cancel(ctx context.Context, id string) (model.CancelOutcome, error) {
	key := s.jobKey(id)
	var outcome model.CancelOutcome
	err := s.watch(ctx, func(tx *redis.Tx) error {
		outcome = model.CancelOutcome{}
		fields, err := tx.HMGet(ctx, key, "status", "origin").Result()
		if err != nil {
			return err
		}
		status, _ := fields[0].(string)
		origin, _ := fields[1].(string)
		if status == "" {
			return nil
		}
		outcome.Found = true
		outcome.NativeStatus = status
		if rqTerminal(status) {
			outcome.AlreadyTerminal = true
			return nil
		}
		now := s.clock.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", rqCanceled, "ended_at", formatEpoch(now))
			pipe.LRem(ctx, s.queueKey(origin), 0, id)
			pipe.ZRem(ctx, s.registryKey(rqStarted), id)
			pipe.ZAdd(ctx, s.registryKey(rqCanceled), redis.Z{Score: epochSeconds(now), Member: id})
			return nil
		})
		outcome.NativeStatus = rqCanceled
		return err
	}, key)
	if err != nil {
		return model.CancelOutcome{}, s.mapErr(err)
	}
	return outcome, nil
}

// Introspect implements core.JobStore. Queue names come from the queues set; any name whose key
// holds something other than a list is reported as internal.
func (s *RedisStore) Introspect(ctx context.Context) (*model.NativeQueueStats, error) {
	names, err := s.client.SMembers(ctx, s.queuesKey()).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	sort.Strings(names)

	now := strconv.FormatInt(s.clock.Now().Unix(), 10)
	types := make([]*redis.StatusCmd, len(names))
	lens := make([]*redis.IntCmd, len(names))
	workers := make([]*redis.IntCmd, len(names))
	var finished, failed, canceled *redis.IntCmd
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			types[i] = pipe.Type(ctx, s.queueKey(name))
			lens[i] = pipe.LLen(ctx, s.queueKey(name))
			workers[i] = pipe.ZCount(ctx, s.workersKey(name), "("+now, "+inf")
		}
		finished = pipe.ZCard(ctx, s.registryKey(rqFinished))
		failed = pipe.ZCard(ctx, s.registryKey(rqFailed))
		canceled = pipe.ZCard(ctx, s.registryKey(rqCanceled))
		return nil
	})
	// LLEN on a non-list key fails with WRONGTYPE; that queue is flagged below.
	if err != nil && !isWrongType(err) {
		return nil, s.mapErr(err)
	}

	stats := &model.NativeQueueStats{
		Backend:   BackendRedis,
		PerQueue:  true,
		Completed: finished.Val() + failed.Val() + canceled.Val(),
	}
	for i, name := range names {
		kind := types[i].Val()
		q := model.NativeQueue{Name: name}
		switch kind {
		case "list", "none":
			q.Pending = lens[i].Val()
			w := workers[i].Val()
			q.Workers = &w
			if q.Pending == 0 && w == 0 {
				continue
			}
			stats.TotalPending += q.Pending
		default:
			q.Internal = true
		}
		stats.Queues = append(stats.Queues, q)
	}
	return stats, nil
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// ReserveNext implements core.JobQueue. Queues are polled in the given order; when all are empty
// the started registry is checked for a job whose lease lapsed.
func (s *RedisStore) ReserveNext(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error) {
	for _, q := range queues {
		for {
			id, err := s.client.LPop(ctx, s.queueKey(q)).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return nil, s.mapErr(err)
			}
			task, err := s.start(ctx, id, rqQueued, lease)
			if err != nil {
				return nil, err
			}
			if task != nil {
				return task, nil
			}
		}
	}
	return s.reclaim(ctx, queues, lease)
}

// reclaim re-reserves the oldest lapsed job from the started registry that belongs to one of queues.
func (s *RedisStore) reclaim(ctx context.Context, queues []string, lease time.Duration) (*model.Task, error) {
	now := formatEpoch(s.clock.Now())
	ids, err := s.client.ZRangeByScore(ctx, s.registryKey(rqStarted), &redis.ZRangeBy{
		Min: "0", Max: now, Count: 50,
	}).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	wanted := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		wanted[q] = struct{}{}
	}
	for _, id := range ids {
		origin, err := s.client.HGet(ctx, s.jobKey(id), "origin").Result()
		if errors.Is(err, redis.Nil) {
			s.client.ZRem(ctx, s.registryKey(rqStarted), id)
			continue
		}
		if err != nil {
			return nil, s.mapErr(err)
		}
		if _, ok := wanted[origin]; !ok {
			continue
		}
		task, err := s.start(ctx, id, rqStarted, lease)
		if err != nil {
			return nil, err
		}
		if task != nil {
			s.logger.WarnContext(ctx, "re-reserving job with lapsed lease", "job_id", id, "queue", origin)
			return task, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

// start marks a job as started under a fresh lease. from is the status the job must still be in:
// queued for a popped job, started for a lapsed one. It returns nil when the job changed in the
// meantime.
func (s *RedisStore) start(ctx context.Context, id, from string, lease time.Duration) (*model.Task, error) {
	key := s.jobKey(id)
	registry := s.registryKey(rqStarted)
	var task *model.Task
	err := s.watch(ctx, func(tx *redis.Tx) error {
		task = nil
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if fields["status"] != from {
			return nil
		}
		now := s.clock.Now()
		if from == rqStarted {
			score, err := tx.ZScore(ctx, registry, id).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if score > epochSeconds(now) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", rqStarted, "started_at", formatEpoch(now))
			s.setLease(ctx, pipe, id, now, lease)
			return nil
		})
		if err != nil {
			return err
		}
		task = &model.Task{ID: id, Kind: fields["kind"], Queue: fields["origin"]}
		if data := fields["data"]; data != "" {
			task.Input = json.RawMessage(data)
		}
		return nil
	}, key, registry)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return task, nil
}

// setLease records the lease expiry in the started registry. A non-positive lease never lapses
// and is kept out of the registry.
func (s *RedisStore) setLease(ctx context.Context, pipe redis.Pipeliner, id string, now time.Time, lease time.Duration) {
	deadline := leaseDeadline(now, lease)
	if deadline.IsZero() {
		pipe.ZRem(ctx, s.registryKey(rqStarted), id)
		return
	}
	pipe.ZAdd(ctx, s.registryKey(rqStarted), redis.Z{Score: epochSeconds(deadline), Member: id})
}

// ExtendLease implements core.JobQueue.
func (s *RedisStore) ExtendLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	key := s.jobKey(id)
	var extended bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		extended = false
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if status != rqStarted {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.setLease(ctx, pipe, id, s.clock.Now(), lease)
			return nil
		})
		extended = err == nil
		return err
	}, key)
	if err != nil {
		return false, s.mapErr(err)
	}
	return extended, nil
}

func (s *RedisStore) finish(ctx context.Context, id, status string, apply func(redis.Pipeliner, time.Time)) (bool, error) {
	key := s.jobKey(id)
	var done bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		done = false
		current, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != rqStarted {
			return nil
		}
		now := s.clock.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", status, "ended_at", formatEpoch(now))
			pipe.ZRem(ctx, s.registryKey(rqStarted), id)
			apply(pipe, now)
			pipe.ZAdd(ctx, s.registryKey(status), redis.Z{Score: epochSeconds(now), Member: id})
			if s.resultTTL > 0 {
				pipe.Expire(ctx, key, s.resultTTL)
				pipe.Expire(ctx, s.resultKey(id), s.resultTTL)
			}
			return nil
		})
		done = err == nil
		return err
	}, key)
	if err != nil {
		return false, s.mapErr(err)
	}
	return done, nil
}

// Complete implements core.JobQueue.
func (s *RedisStore) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	return s.finish(ctx, id, rqFinished, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.resultKey(id),
			MaxLen: 10,
			Approx: true,
			Values: map[string]any{"type": "successful", "return_value": string(result)},
		})
	})
}

// Fail implements core.JobQueue.
func (s *RedisStore) Fail(ctx context.Context, id, message string) (bool, error) {
	return s.finish(ctx, id, rqFailed, func(pipe redis.Pipeliner, _ time.Time) {
		pipe.HSet(ctx, s.jobKey(id), "exc_info", message)
	})
}

// RegisterWorker implements core.WorkerRegistry. The registration expires after ttl unless renewed
// by registering again.
func (s *RedisStore) RegisterWorker(
	ctx context.Context,
	worker string,
	queues []string,
	ttl time.Duration,
) (func(), error) {
	expires := float64(s.clock.Now().Add(ttl).Unix())
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, q := range queues {
			pipe.ZAdd(ctx, s.workersKey(q), redis.Z{Score: expires, Member: worker})
			pipe.SAdd(ctx, s.queuesKey(), q)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, q := range queues {
			if err := s.client.ZRem(ctx, s.workersKey(q), worker).Err(); err != nil {
				s.logger.Warn("unregister worker failed", "worker", worker, "queue", q, "error", err)
			}
		}
	}, nil
}

// UpsertSchedule implements core.ScheduleRepository.
func (s *RedisStore) UpsertSchedule(ctx context.Context, job model.ScheduledJob) (model.UpsertOutcome, error) {
	key := s.schedulesKey()
	var outcome model.UpsertOutcome
	err := s.watch(ctx, func(tx *redis.Tx) error {
		existing, found, err := s.getSchedule(ctx, tx, job.Name)
		if err != nil {
			return err
		}
		outcome = model.UpsertCreated
		if found {
			if existing.SameDefinition(job) {
				outcome = model.UpsertUnchanged
				return nil
			}
			job.LastJobID = existing.LastJobID
			job.LastFiredAt = existing.LastFiredAt
			outcome = model.UpsertUpdated
		}
		return s.putSchedule(ctx, tx, job)
	}, key)
	if err != nil {
		return "", s.mapErr(err)
	}
	return outcome, nil
}

func (s *RedisStore) getSchedule(ctx context.Context, tx *redis.Tx, name string) (model.ScheduledJob, bool, error) {
	raw, err := tx.HGet(ctx, s.schedulesKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return model.ScheduledJob{}, false, nil
	}
	if err != nil {
		return model.ScheduledJob{}, false, err
	}
	var job model.ScheduledJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return model.ScheduledJob{}, false, fmt.Errorf("decode schedule %s: %w", name, err)
	}
	return job, true, nil
}

func (s *RedisStore) putSchedule(ctx context.Context, tx *redis.Tx, job model.ScheduledJob) error {
	job.UpdatedAt = s.clock.Now().UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", job.Name, err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.schedulesKey(), job.Name, raw)
		return nil
	})
	return err
}

// ListSchedules implements core.ScheduleRepository.
func (s *RedisStore) ListSchedules(ctx context.Context) ([]model.ScheduledJob, error) {
	all, err := s.client.HGetAll(ctx, s.schedulesKey()).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	out := make([]model.ScheduledJob, 0, len(all))
	for name, raw := range all {
		var job model.ScheduledJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn("skipping undecodable schedule", "name", name, "error", err)
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ClaimFire implements core.ScheduleRepository.
func (s *RedisStore) ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error) {
	var claimed bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		claimed = false
		job, found, err := s.getSchedule(ctx, tx, name)
		if err != nil || !found {
			return err
		}
		if job.LastFiredAt != nil && !job.LastFiredAt.Before(firedAt) {
			return nil
		}
		fired := firedAt.UTC()
		job.LastFiredAt = &fired
		job.LastJobID = jobID
		if err := s.putSchedule(ctx, tx, job); err != nil {
			return err
		}
		claimed = true
		return nil
	}, s.schedulesKey())
	if err != nil {
		return false, s.mapErr(err)
	}
	return claimed, nil
}

// DeleteTerminalBefore implements core.RetentionRepository.
func (s *RedisStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	maxScore := "(" + strconv.FormatFloat(epochSeconds(cutoff), 'f', 6, 64)
	var removed int64
	for _, state := range []string{rqFinished, rqFailed, rqCanceled} {
		remaining := int64(batchSize) - removed
		if remaining <= 0 {
			break
		}
		ids, err := s.client.ZRangeByScore(ctx, s.registryKey(state), &redis.ZRangeBy{
			Min: "-inf", Max: maxScore, Count: remaining,
		}).Result()
		if err != nil {
			return removed, s.mapErr(err)
		}
		if len(ids) == 0 {
			continue
		}
		members := make([]any, len(ids))
		keys := make([]string, 0, len(ids)*2)
		for i, id := range ids {
			members[i] = id
			keys = append(keys, s.jobKey(id), s.resultKey(id))
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, s.registryKey(state), members...)
			pipe.ZRem(ctx, s.createdKey(), members...)
			return nil
		})
		if err != nil {
			return removed, s.mapErr(err)
		}
		removed += int64(len(ids))
	}
	return removed, nil
}
