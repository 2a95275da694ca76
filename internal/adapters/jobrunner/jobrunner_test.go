package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/jobfacade/internal/data"
	"github.com/target/jobfacade/internal/domain/job"
	"github.com/target/jobfacade/internal/domain/model"
	"github.com/target/jobfacade/internal/jobs"
	"github.com/target/jobfacade/internal/mocks"
	"github.com/target/jobfacade/internal/observability/metrics"
	"github.com/target/jobfacade/internal/observability/statsd"
)

func testCatalog(t *testing.T) *jobs.Catalog {
	t.Helper()
	c := jobs.NewCatalog(jobs.CatalogOptions{AllowUnknown: true})
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "echo",
		Queue: jobs.QueueDefault,
		Handler: func(_ context.Context, input json.RawMessage) (any, error) {
			return map[string]json.RawMessage{"echo": input}, nil
		},
	}))
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "boom",
		Queue: jobs.QueueDefault,
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("upstream timeout")
		},
	}))
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "panic",
		Queue: jobs.QueueDefault,
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("bad input")
		},
	}))
	return c
}

func startRunner(t *testing.T, r *Runner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return cancel
}

func waitTerminal(t *testing.T, store *data.MemoryStore, id string) model.Job {
	t.Helper()
	n := job.NewNormalizer(nil)
	var out model.Job
	require.Eventually(t, func() bool {
		rec, err := store.Fetch(context.Background(), id)
		if err != nil {
			return false
		}
		out = n.Normalize(rec)
		return out.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func TestRunner_ExecutesJobs(t *testing.T) {
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)
	rec := &statsd.Recorder{}

	r, err := NewRunner(RunnerOptions{
		Queue:        store,
		Registry:     store,
		Catalog:      testCatalog(t),
		Queues:       []string{jobs.QueueDefault},
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		Name:         "test-worker",
		Metrics:      rec,
	})
	require.NoError(t, err)
	startRunner(t, r)

	ctx := context.Background()
	submit := func(kind string) string {
		id, submitErr := store.Submit(ctx, model.SubmitParams{Kind: kind, Queue: jobs.QueueDefault, Input: json.RawMessage(`{"x":1}`)})
		require.NoError(t, submitErr)
		return id
	}
	okID := submit("echo")
	failID := submit("boom")
	panicID := submit("panic")
	unknownID := submit("not registered")

	ok := waitTerminal(t, store, okID)
	assert.Equal(t, model.StatusSucceeded, ok.Status)
	assert.JSONEq(t, `{"echo":{"x":1}}`, string(ok.Result))

	failed := waitTerminal(t, store, failID)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "upstream timeout", failed.Error)

	panicked := waitTerminal(t, store, panicID)
	assert.Equal(t, model.StatusFailed, panicked.Status)
	assert.Contains(t, panicked.Error, "panicked")

	unknown := waitTerminal(t, store, unknownID)
	assert.Equal(t, model.StatusFailed, unknown.Status)
	assert.Contains(t, unknown.Error, "no handler registered")

	assert.NotEmpty(t, rec.Named(metrics.MetricJobTransition))

	require.Eventually(t, func() bool {
		stats, introErr := store.Introspect(ctx)
		if introErr != nil {
			return false
		}
		for _, q := range stats.Queues {
			if q.Name == jobs.QueueDefault && q.Workers != nil && *q.Workers == 1 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "running worker is visible in introspection")
}

func TestRunner_CancelledWhileRunningKeepsCancellation(t *testing.T) {
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)

	started := make(chan string, 1)
	release := make(chan struct{})
	c := jobs.NewCatalog(jobs.CatalogOptions{})
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "slow",
		Queue: jobs.QueueDefault,
		Handler: func(context.Context, json.RawMessage) (any, error) {
			started <- "go"
			<-release
			return "late", nil
		},
	}))

	r, err := NewRunner(RunnerOptions{Queue: store, Catalog: c, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	startRunner(t, r)

	ctx := context.Background()
	id, err := store.Submit(ctx, model.SubmitParams{Kind: "slow", Queue: jobs.QueueDefault})
	require.NoError(t, err)

	<-started
	out, err := store.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, out.Found)
	close(release)

	j := waitTerminal(t, store, id)
	assert.Equal(t, model.StatusCancelled, j.Status)
	assert.Nil(t, j.Result)
}

func TestRunner_ShutdownMidHandlerRecordsFailure(t *testing.T) {
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	c := jobs.NewCatalog(jobs.CatalogOptions{})
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "blocking",
		Queue: jobs.QueueDefault,
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	r, err := NewRunner(RunnerOptions{Queue: store, Catalog: c, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	bg := context.Background()
	id, err := store.Submit(bg, model.SubmitParams{Kind: "blocking", Queue: jobs.QueueDefault})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	rec, err := store.Fetch(bg, id)
	require.NoError(t, err)
	j := job.NewNormalizer(nil).Normalize(rec)
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.Contains(t, j.Error, context.Canceled.Error())
	assert.NotNil(t, j.CompletedAt)

	_, err = store.ReserveNext(bg, []string{jobs.QueueDefault}, time.Minute)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestRunner_RenewsLeaseWhileHandlerRuns(t *testing.T) {
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	c := jobs.NewCatalog(jobs.CatalogOptions{})
	require.NoError(t, c.Register(jobs.Definition{
		Kind:  "long",
		Queue: jobs.QueueDefault,
		Handler: func(context.Context, json.RawMessage) (any, error) {
			close(started)
			<-release
			return "done", nil
		},
	}))

	r, err := NewRunner(RunnerOptions{
		Queue:        store,
		Catalog:      c,
		PollInterval: 5 * time.Millisecond,
		Lease:        300 * time.Millisecond,
	})
	require.NoError(t, err)
	startRunner(t, r)

	ctx := context.Background()
	id, err := store.Submit(ctx, model.SubmitParams{Kind: "long", Queue: jobs.QueueDefault})
	require.NoError(t, err)
	<-started

	time.Sleep(time.Second)
	_, err = store.ReserveNext(ctx, []string{jobs.QueueDefault}, time.Minute)
	require.ErrorIs(t, err, model.ErrNoJobsAvailable, "a renewed lease is not taken over")

	close(release)
	j := waitTerminal(t, store, id)
	assert.Equal(t, model.StatusSucceeded, j.Status)
}

func TestRunner_FailureTextKeepsRunesWhole(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockJobQueue(ctrl)

	var stored string
	queue.EXPECT().Fail(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg string) (bool, error) {
			stored = msg
			return true, nil
		})

	r, err := NewRunner(RunnerOptions{Queue: queue, Catalog: testCatalog(t), Queues: []string{jobs.QueueDefault}})
	require.NoError(t, err)

	cause := errors.New(strings.Repeat("a", maxErrorTextBytes-1) + strings.Repeat("é", 10))
	r.fail(context.Background(), &model.Task{ID: "job-1", Kind: "boom"}, cause)

	assert.True(t, utf8.ValidString(stored))
	assert.Len(t, stored, maxErrorTextBytes-1)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abc", n: 3, want: "abc"},
		{name: "ascii cut", in: "abcdef", n: 4, want: "abcd"},
		{name: "inside two byte rune", in: "aé", n: 2, want: "a"},
		{name: "inside four byte rune", in: "ab😀", n: 5, want: "ab"},
		{name: "on rune boundary", in: "éé", n: 2, want: "é"},
		{name: "nothing fits", in: "😀", n: 3, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestRunner_FatalReserveError(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockJobQueue(ctrl)
	queue.EXPECT().ReserveNext(gomock.Any(), []string{jobs.QueueDefault}, defaultLease).
		Return(nil, errors.New("schema mismatch"))

	r, err := NewRunner(RunnerOptions{Queue: queue, Catalog: testCatalog(t), Queues: []string{jobs.QueueDefault}})
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema mismatch")
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Catalog: testCatalog(t)})
	require.Error(t, err)

	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)
	_, err = NewRunner(RunnerOptions{Queue: store})
	require.Error(t, err)

	_, err = NewRunner(RunnerOptions{Queue: store, Catalog: jobs.NewCatalog(jobs.CatalogOptions{})})
	require.Error(t, err, "an empty catalog yields no queues")

	r, err := NewRunner(RunnerOptions{Queue: store, Catalog: testCatalog(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{jobs.QueueDefault}, r.queues)
	assert.Equal(t, 1, r.workers)
	assert.Equal(t, defaultLease, r.lease)
	assert.NotEmpty(t, r.name)
}
