package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/job"
	"github.com/target/jobfacade/internal/domain/model"
)

// storeFactory builds an empty backend driven by clock.
type storeFactory func(t *testing.T, clock TimeProvider) core.Backend

func contractClock() *FixedTimeProvider {
	return NewFixedTimeProvider(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
}

func submitN(t *testing.T, s core.Backend, clock *FixedTimeProvider, kind, queue string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		clock.Advance(time.Millisecond)
		id, err := s.Submit(context.Background(), model.SubmitParams{
			Kind:  kind,
			Queue: queue,
			Input: json.RawMessage(`{"n":1}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}
	return ids
}

func fetchJob(t *testing.T, s core.Backend, id string) model.Job {
	t.Helper()
	rec, err := s.Fetch(context.Background(), id)
	require.NoError(t, err)
	return job.NewNormalizer(nil).Normalize(rec)
}

func runStoreContract(t *testing.T, factory storeFactory) {
	t.Run("submit yields distinct pending jobs", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 5)

		seen := map[string]bool{}
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true

			j := fetchJob(t, s, id)
			assert.Equal(t, model.StatusPending, j.Status)
			assert.Equal(t, "test job", j.Kind)
			assert.JSONEq(t, `{"n":1}`, string(j.Input))
			assert.NotNil(t, j.CreatedAt)
			assert.Nil(t, j.CompletedAt)
		}
	})

	t.Run("unknown id is not found without error", func(t *testing.T) {
		s := factory(t, contractClock())
		rec, err := s.Fetch(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.False(t, rec.Found)

		rec, err = s.Fetch(context.Background(), "not-a-real-id")
		require.NoError(t, err)
		assert.False(t, rec.Found)
	})

	t.Run("reserve then complete", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 1)

		task, err := s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, ids[0], task.ID)
		assert.Equal(t, "test job", task.Kind)
		assert.Equal(t, model.StatusRunning, fetchJob(t, s, ids[0]).Status)

		clock.Advance(3 * time.Second)
		ok, err := s.Complete(context.Background(), task.ID, json.RawMessage(`{"message":"Job completed","seconds":3}`))
		require.NoError(t, err)
		assert.True(t, ok)

		j := fetchJob(t, s, ids[0])
		assert.Equal(t, model.StatusSucceeded, j.Status)
		assert.JSONEq(t, `{"message":"Job completed","seconds":3}`, string(j.Result))
		require.NotNil(t, j.CompletedAt)
		require.NotNil(t, j.StartedAt)
		assert.False(t, j.CompletedAt.Before(*j.StartedAt))

		again, err := s.Complete(context.Background(), task.ID, json.RawMessage(`1`))
		require.NoError(t, err)
		assert.False(t, again, "terminal jobs must not transition again")
	})

	t.Run("reserve then fail", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "data aggregation", "aggregation", 1)

		task, err := s.ReserveNext(context.Background(), []string{"aggregation"}, time.Minute)
		require.NoError(t, err)
		ok, err := s.Fail(context.Background(), task.ID, "upstream timeout")
		require.NoError(t, err)
		assert.True(t, ok)

		j := fetchJob(t, s, ids[0])
		assert.Equal(t, model.StatusFailed, j.Status)
		assert.Equal(t, "upstream timeout", j.Error)
		assert.Nil(t, j.Result)
	})

	t.Run("empty queue", func(t *testing.T) {
		s := factory(t, contractClock())
		_, err := s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})

	t.Run("reserve respects queues", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		submitN(t, s, clock, "hello world", "scheduled", 1)
		_, err := s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 1)

		first, err := s.Cancel(context.Background(), ids[0])
		require.NoError(t, err)
		assert.True(t, first.Found)
		assert.False(t, first.AlreadyTerminal)
		assert.Equal(t, model.StatusCancelled, fetchJob(t, s, ids[0]).Status)

		second, err := s.Cancel(context.Background(), ids[0])
		require.NoError(t, err)
		assert.True(t, second.Found)
		assert.True(t, second.AlreadyTerminal)
		assert.Equal(t, model.StatusCancelled, fetchJob(t, s, ids[0]).Status)

		_, err = s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable, "cancelled jobs are never started")

		missing, err := s.Cancel(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.False(t, missing.Found)
	})

	t.Run("cancel after completion keeps success", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 1)
		task, err := s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		require.NoError(t, err)
		_, err = s.Complete(context.Background(), task.ID, json.RawMessage(`true`))
		require.NoError(t, err)

		out, err := s.Cancel(context.Background(), ids[0])
		require.NoError(t, err)
		assert.True(t, out.AlreadyTerminal)
		assert.Equal(t, model.StatusSucceeded, fetchJob(t, s, ids[0]).Status)
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 4)

		recs, err := s.List(context.Background(), model.ListOptions{Limit: 3, NewestFirst: true})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, ids[3], recs[0].ID)
		assert.Equal(t, ids[2], recs[1].ID)
		assert.Equal(t, ids[1], recs[2].ID)

		oldest, err := s.List(context.Background(), model.ListOptions{Limit: 10})
		require.NoError(t, err)
		require.Len(t, oldest, 4)
		assert.Equal(t, ids[0], oldest[0].ID)
	})

	t.Run("list newest first over a long history", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ids := submitN(t, s, clock, "test job", "default", 100)

		recs, err := s.List(context.Background(), model.ListOptions{Limit: 5, NewestFirst: true})
		require.NoError(t, err)
		require.Len(t, recs, 5)
		for i, rec := range recs {
			assert.Equal(t, ids[99-i], rec.ID, "position %d", i)
		}
	})

	t.Run("lapsed lease is reserved again", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ctx := context.Background()
		ids := submitN(t, s, clock, "test job", "default", 1)

		first, err := s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		require.NoError(t, err)
		require.Equal(t, ids[0], first.ID)

		_, err = s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable, "a live lease is not taken over")

		clock.Advance(31 * time.Second)
		_, err = s.ReserveNext(ctx, []string{"scheduled"}, 30*time.Second)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable, "lapsed jobs stay on their own queue")

		second, err := s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, ids[0], second.ID)
		assert.Equal(t, "test job", second.Kind)
		assert.Equal(t, model.StatusRunning, fetchJob(t, s, ids[0]).Status)

		ok, err := s.Fail(ctx, second.ID, "worker lost")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, model.StatusFailed, fetchJob(t, s, ids[0]).Status)

		clock.Advance(time.Hour)
		_, err = s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable, "finished jobs hold no lease")
	})

	t.Run("pending jobs are reserved before lapsed ones", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ctx := context.Background()
		ids := submitN(t, s, clock, "test job", "default", 1)
		_, err := s.ReserveNext(ctx, []string{"default"}, time.Second)
		require.NoError(t, err)

		later := submitN(t, s, clock, "test job", "default", 1)
		clock.Advance(time.Minute)

		task, err := s.ReserveNext(ctx, []string{"default"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, later[0], task.ID)

		task, err = s.ReserveNext(ctx, []string{"default"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, ids[0], task.ID)
	})

	t.Run("extend lease keeps a job reserved", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ctx := context.Background()
		ids := submitN(t, s, clock, "test job", "default", 1)

		task, err := s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		require.NoError(t, err)

		clock.Advance(20 * time.Second)
		ok, err := s.ExtendLease(ctx, task.ID, 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(20 * time.Second)
		_, err = s.ReserveNext(ctx, []string{"default"}, 30*time.Second)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)

		_, err = s.Complete(ctx, task.ID, json.RawMessage(`{}`))
		require.NoError(t, err)
		ok, err = s.ExtendLease(ctx, task.ID, 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "finished jobs cannot be extended")
		assert.Equal(t, model.StatusSucceeded, fetchJob(t, s, ids[0]).Status)

		ok, err = s.ExtendLease(ctx, "00000000-0000-0000-0000-000000000000", 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero lease never lapses", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ctx := context.Background()
		submitN(t, s, clock, "test job", "default", 1)

		_, err := s.ReserveNext(ctx, []string{"default"}, 0)
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
		_, err = s.ReserveNext(ctx, []string{"default"}, 0)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})

	t.Run("introspect counts backlog", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)

		empty, err := s.Introspect(context.Background())
		require.NoError(t, err)
		assert.Zero(t, empty.TotalPending)
		assert.Empty(t, empty.Queues)

		submitN(t, s, clock, "test job", "default", 3)
		submitN(t, s, clock, "data aggregation", "aggregation", 2)
		task, err := s.ReserveNext(context.Background(), []string{"default"}, time.Minute)
		require.NoError(t, err)
		_, err = s.Complete(context.Background(), task.ID, json.RawMessage(`{}`))
		require.NoError(t, err)

		stats, err := s.Introspect(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 4, stats.TotalPending)
		assert.EqualValues(t, 1, stats.Completed)
		if stats.PerQueue {
			byName := map[string]int64{}
			for _, q := range stats.Queues {
				byName[q.Name] = q.Pending
			}
			assert.EqualValues(t, 2, byName["default"])
			assert.EqualValues(t, 2, byName["aggregation"])
		}
	})

	t.Run("schedule upsert is idempotent", func(t *testing.T) {
		s := factory(t, contractClock())
		ctx := context.Background()
		sched := model.ScheduledJob{Name: "hourly report", Kind: "hourly report", CronSpec: "0 * * * *", Enabled: true}

		out, err := s.UpsertSchedule(ctx, sched)
		require.NoError(t, err)
		assert.Equal(t, model.UpsertCreated, out)

		out, err = s.UpsertSchedule(ctx, sched)
		require.NoError(t, err)
		assert.Equal(t, model.UpsertUnchanged, out)

		sched.CronSpec = "30 * * * *"
		out, err = s.UpsertSchedule(ctx, sched)
		require.NoError(t, err)
		assert.Equal(t, model.UpsertUpdated, out)

		all, err := s.ListSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "30 * * * *", all[0].CronSpec)
	})

	t.Run("claim fire once per instant", func(t *testing.T) {
		s := factory(t, contractClock())
		ctx := context.Background()
		_, err := s.UpsertSchedule(ctx, model.ScheduledJob{Name: "daily cleanup", Kind: "daily cleanup", CronSpec: "0 0 * * *", Enabled: true})
		require.NoError(t, err)

		at := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
		won, err := s.ClaimFire(ctx, "daily cleanup", at, "job-1")
		require.NoError(t, err)
		assert.True(t, won)

		won, err = s.ClaimFire(ctx, "daily cleanup", at, "job-2")
		require.NoError(t, err)
		assert.False(t, won)

		all, err := s.ListSchedules(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "job-1", all[0].LastJobID)
		require.NotNil(t, all[0].LastFiredAt)
		assert.True(t, at.Equal(*all[0].LastFiredAt))

		missing, err := s.ClaimFire(ctx, "nope", at, "job-3")
		require.NoError(t, err)
		assert.False(t, missing)
	})

	t.Run("retention removes old terminal jobs only", func(t *testing.T) {
		clock := contractClock()
		s := factory(t, clock)
		ctx := context.Background()

		ids := submitN(t, s, clock, "test job", "default", 3)
		task, err := s.ReserveNext(ctx, []string{"default"}, time.Minute)
		require.NoError(t, err)
		_, err = s.Complete(ctx, task.ID, json.RawMessage(`{}`))
		require.NoError(t, err)
		_, err = s.Cancel(ctx, ids[1])
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		removed, err := s.DeleteTerminalBefore(ctx, clock.Now().Add(-24*time.Hour), 100)
		require.NoError(t, err)
		assert.EqualValues(t, 2, removed)

		assert.False(t, mustFetch(t, s, ids[0]).Found)
		assert.False(t, mustFetch(t, s, ids[1]).Found)
		assert.True(t, mustFetch(t, s, ids[2]).Found, "pending jobs are kept")
	})
}

func mustFetch(t *testing.T, s core.Backend, id string) *model.NativeRecord {
	t.Helper()
	rec, err := s.Fetch(context.Background(), id)
	require.NoError(t, err)
	return rec
}
