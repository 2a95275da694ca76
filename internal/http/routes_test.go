package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/data"
	"github.com/target/jobfacade/internal/domain/model"
	"github.com/target/jobfacade/internal/jobs"
	"github.com/target/jobfacade/internal/service"
)

type apiFixture struct {
	handler http.Handler
	store   *data.MemoryStore
}

func newRouterForStore(t *testing.T, store core.JobStore, rps float64) http.Handler {
	t.Helper()
	catalog := jobs.NewCatalog(jobs.CatalogOptions{})
	require.NoError(t, jobs.NewBuiltins(jobs.BuiltinsOptions{}).RegisterAll(catalog))

	svc := service.MustNewJobService(service.JobServiceOptions{Store: store, Catalog: catalog})
	reporter, err := service.NewIntrospectionReporter(service.IntrospectionReporterOptions{Store: store})
	require.NoError(t, err)

	return NewRouter(RouterServices{
		Jobs:           svc,
		Reporter:       reporter,
		Projector:      service.NewResultProjector(nil),
		RateLimitRPS:   rps,
		RateLimitBurst: 1,
	})
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)
	return &apiFixture{handler: newRouterForStore(t, store, 0), store: store}
}

func (f *apiFixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSubmitJobs_SingleReturnsString(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/jobs?kind=test+job", []byte(`{"a":1}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[map[string]any](t, w)
	assert.Equal(t, "Jobs queued", body["message"])
	id, ok := body["job_ids"].(string)
	require.True(t, ok, "single submission returns one id")
	assert.NotEmpty(t, id)
	assert.NotContains(t, body, "errors")

	rec, err := f.store.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(rec.Input))
	assert.Equal(t, jobs.QueueDefault, rec.Queue)
}

func TestSubmitJobs_CountReturnsList(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/jobs?kind=data+aggregation&count=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[struct {
		Message string   `json:"message"`
		JobIDs  []string `json:"job_ids"`
	}](t, w)
	assert.Equal(t, "Jobs queued", body.Message)
	require.Len(t, body.JobIDs, 3)
	assert.NotEqual(t, body.JobIDs[0], body.JobIDs[1])
}

func TestSubmitJobs_Validation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   []byte
		status int
		field  string
	}{
		{name: "missing kind", target: "/jobs", status: http.StatusBadRequest, field: "kind"},
		{name: "unknown kind", target: "/jobs?kind=nope", status: http.StatusBadRequest, field: "kind"},
		{name: "non integer count", target: "/jobs?kind=test+job&count=two", status: http.StatusBadRequest, field: "count"},
		{name: "zero count", target: "/jobs?kind=test+job&count=0", status: http.StatusBadRequest, field: "count"},
		{name: "count above cap", target: "/jobs?kind=test+job&count=1001", status: http.StatusBadRequest, field: "count"},
		{
			name:   "malformed body",
			target: "/jobs?kind=test+job",
			body:   []byte(`{bad`),
			status: http.StatusBadRequest,
			field:  "input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			w := f.do(t, http.MethodPost, tt.target, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[ErrorBody](t, w)
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	id, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Job](t, w)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.NotNil(t, got.CreatedAt)
}

func TestGetJob_UnknownIDIsData(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/jobs/does-not-exist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Job](t, w)
	assert.Equal(t, "does-not-exist", got.ID)
	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Contains(t, got.Error, "not found")
}

func TestGetJob_ResultQuery(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	id, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
	require.NoError(t, err)
	task, err := f.store.ReserveNext(ctx, []string{jobs.QueueDefault}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, task.ID)
	_, err = f.store.Complete(ctx, id, json.RawMessage(`{"summary":{"total":7},"rows":[1,2]}`))
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/jobs/"+id+"?result_query=summary.total", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[model.Job](t, w)
	assert.Equal(t, model.StatusSucceeded, got.Status)
	assert.JSONEq(t, `7`, string(got.Result))

	w = f.do(t, http.MethodGet, "/jobs/"+id+"?result_query=summary%5B", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "result_query", decode[ErrorBody](t, w).Field)
}

func TestListJobs(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	var ids []string
	for range 3 {
		id, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	w := f.do(t, http.MethodGet, "/jobs?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[listResponse](t, w)
	assert.Equal(t, 2, body.TotalCount)
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, ids[2], body.Jobs[0].ID, "newest first by default")

	w = f.do(t, http.MethodGet, "/jobs?order=oldest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode[listResponse](t, w)
	require.Len(t, body.Jobs, 3)
	assert.Equal(t, ids[0], body.Jobs[0].ID)

	w = f.do(t, http.MethodGet, "/jobs?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "limit", decode[ErrorBody](t, w).Field)

	w = f.do(t, http.MethodGet, "/jobs?order=sideways", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"jobs":[]`)
}

func TestCancelJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	id, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[model.CancelResult](t, w)
	assert.True(t, res.OK)
	assert.Equal(t, id, res.JobID)

	// Repeating the cancel agrees with the first call.
	w = f.do(t, http.MethodPost, "/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.CancelResult](t, w).OK)

	got := decode[model.Job](t, f.do(t, http.MethodGet, "/jobs/"+id, nil))
	assert.Equal(t, model.StatusCancelled, got.Status)

	w = f.do(t, http.MethodPost, "/jobs/missing/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.CancelResult](t, w).OK)
}

func TestSummary(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for range 2 {
		_, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/jobs/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[summaryResponse](t, w)
	assert.Equal(t, data.BackendMemory, body.Backend)
	assert.Equal(t, 2, body.Sampled)
	assert.Equal(t, 2, body.Counts[model.StatusPending])
	assert.Equal(t, 0, body.Counts[model.StatusFailed])
}

func TestAggregate(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/jobs/aggregate?time_range=24h", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[aggregateResponse](t, w)
	assert.Equal(t, "Data aggregation started", body.Message)
	assert.Equal(t, "24h", body.TimeRange)

	rec, err := f.store.Fetch(context.Background(), body.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.KindDataAggregation, rec.Kind)
	assert.Equal(t, jobs.QueueAggregation, rec.Queue)
	assert.JSONEq(t, `{"time_range":"24h"}`, string(rec.Input))

	w = f.do(t, http.MethodPost, "/jobs/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultAggregationRange, decode[aggregateResponse](t, w).TimeRange)
}

func TestQueues(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, err := f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindTestJob, Queue: jobs.QueueDefault})
	require.NoError(t, err)
	_, err = f.store.Submit(ctx, model.SubmitParams{Kind: jobs.KindDataAggregation, Queue: jobs.QueueAggregation})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/queues", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[queuesResponse](t, w)
	assert.Equal(t, data.BackendMemory, body.Backend)
	assert.Equal(t, int64(2), body.TotalPending)
	assert.Equal(t, len(body.Queues), body.QueueCount)
	assert.False(t, body.CapturedAt.IsZero())
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, healthResponse, w.Body.String())

	w = f.do(t, http.MethodHead, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUnavailableStore(t *testing.T) {
	store := data.NewUnavailableStore("redis", errors.New("dial tcp: connection refused"))
	f := &apiFixture{handler: newRouterForStore(t, store, 0)}

	w := f.do(t, http.MethodPost, "/jobs?kind=test+job", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "store_unavailable", decode[ErrorBody](t, w).Error)

	// Status lookups still answer with the canonical shape.
	w = f.do(t, http.MethodGet, "/jobs/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Job](t, w)
	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Contains(t, got.Error, "status unavailable")

	for _, target := range []string{"/jobs", "/queues", "/readyz"} {
		w = f.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}

	// Liveness does not depend on the store.
	w = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	store, err := data.NewMemoryStore(data.MemoryStoreOptions{})
	require.NoError(t, err)
	f := &apiFixture{handler: newRouterForStore(t, store, 0.001), store: store}

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[ErrorBody](t, w).Error)
}
