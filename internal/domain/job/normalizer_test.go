package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/jobfacade/internal/domain/model"
)

func boolPtr(b bool) *bool { return &b }

func TestCanonicalStatus(t *testing.T) {
	tests := map[string]model.Status{
		"queued":                         model.StatusPending,
		"PENDING":                        model.StatusPending,
		"deferred":                       model.StatusPending,
		"scheduled":                      model.StatusPending,
		"ENQUEUED":                       model.StatusPending,
		"RETRY":                          model.StatusPending,
		"started":                        model.StatusRunning,
		"Running":                        model.StatusRunning,
		"active":                         model.StatusRunning,
		"finished":                       model.StatusSucceeded,
		"SUCCESS":                        model.StatusSucceeded,
		"done":                           model.StatusSucceeded,
		"failed":                         model.StatusFailed,
		"ERROR":                          model.StatusFailed,
		"FAILURE":                        model.StatusFailed,
		"max-retries-exceeded":           model.StatusFailed,
		"MAX_RECOVERY_ATTEMPTS_EXCEEDED": model.StatusFailed,
		"stopped":                        model.StatusCancelled,
		"canceled":                       model.StatusCancelled,
		"CANCELLED":                      model.StatusCancelled,
		"REVOKED":                        model.StatusCancelled,
		"":                               model.StatusUnknown,
		"exploded":                       model.StatusUnknown,
	}
	for native, want := range tests {
		t.Run(native, func(t *testing.T) {
			assert.Equal(t, want, CanonicalStatus(native))
		})
	}
}

func TestToInstant(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 15, 250_000_000, time.UTC)

	t.Run("epoch millis", func(t *testing.T) {
		got := ToInstant(model.EpochMillis(want.UnixMilli()))
		require.NotNil(t, got)
		assert.True(t, want.Equal(*got))
		assert.Equal(t, time.UTC, got.Location())
	})

	t.Run("epoch seconds with fraction", func(t *testing.T) {
		got := ToInstant(model.EpochSeconds(float64(want.Unix()) + 0.25))
		require.NotNil(t, got)
		assert.True(t, want.Equal(*got), "got %s", got)
	})

	t.Run("native time in another zone", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		got := ToInstant(model.At(want.In(loc)))
		require.NotNil(t, got)
		assert.True(t, want.Equal(*got))
		assert.Equal(t, time.UTC, got.Location())
	})

	t.Run("unset", func(t *testing.T) {
		assert.Nil(t, ToInstant(model.NativeTime{}))
		assert.Nil(t, ToInstant(model.At(time.Time{})))
		assert.Nil(t, ToInstant(model.AtPtr(nil)))
	})
}

func TestNormalize_NotFound(t *testing.T) {
	n := NewNormalizer(nil)
	job := n.Normalize(model.NotFoundRecord("redis", "abc"))

	assert.Equal(t, model.StatusUnknown, job.Status)
	assert.Equal(t, "abc", job.ID)
	assert.Contains(t, job.Error, "not found")
	assert.Nil(t, job.Result)
	assert.Nil(t, job.CompletedAt)
}

func TestNormalize_LookupError(t *testing.T) {
	n := NewNormalizer(nil)
	job := n.Normalize(&model.NativeRecord{ID: "x", LookupError: errors.New("connection refused")})

	assert.Equal(t, model.StatusUnknown, job.Status)
	assert.Equal(t, "status unavailable: connection refused", job.Error)
}

func TestNormalize_Nil(t *testing.T) {
	job := NewNormalizer(nil).Normalize(nil)
	assert.Equal(t, model.StatusUnknown, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestNormalize_Succeeded_PreservesNumbers(t *testing.T) {
	n := NewNormalizer(nil)
	rec := &model.NativeRecord{
		Backend:     "postgres",
		ID:          "j1",
		Found:       true,
		Kind:        "test job",
		Status:      "SUCCESS",
		Result:      json.RawMessage(`{"message":"Job completed","seconds":3}`),
		CreatedAt:   model.EpochMillis(1_700_000_000_000),
		StartedAt:   model.EpochMillis(1_700_000_001_000),
		CompletedAt: model.EpochMillis(1_700_000_004_000),
	}

	job := n.Normalize(rec)
	require.Equal(t, model.StatusSucceeded, job.Status)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, int64(1_700_000_004_000), job.CompletedAt.UnixMilli())

	out, err := json.Marshal(job)
	require.NoError(t, err)
	var decoded struct {
		Result struct {
			Message string `json:"message"`
			Seconds int    `json:"seconds"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 3, decoded.Result.Seconds)
	assert.Equal(t, "Job completed", decoded.Result.Message)
}

func TestNormalize_GoValueResult(t *testing.T) {
	n := NewNormalizer(nil)
	rec := &model.NativeRecord{
		ID:     "j1",
		Found:  true,
		Status: "finished",
		Result: map[string]any{"seconds": 2},
	}
	job := n.Normalize(rec)
	assert.JSONEq(t, `{"seconds":2}`, string(job.Result))
}

func TestNormalize_ErrorResultBecomesText(t *testing.T) {
	n := NewNormalizer(nil)
	rec := &model.NativeRecord{
		Backend:     "memory",
		ID:          "j2",
		Found:       true,
		Status:      "FAILURE",
		Result:      errors.New("division by zero"),
		CompletedAt: model.At(time.Now()),
	}

	job := n.Normalize(rec)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "division by zero", job.Error)
	assert.Nil(t, job.Result)
	assert.NotNil(t, job.CompletedAt)
}

func TestNormalize_ErrorStoredAsSuccessResult(t *testing.T) {
	n := NewNormalizer(nil)
	rec := &model.NativeRecord{ID: "j", Found: true, Status: "SUCCESS", Result: errors.New("boom")}

	job := n.Normalize(rec)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "boom", job.Error)
	assert.Nil(t, job.Result)
}

func TestNormalize_ErrorResultWithSuccessHistory(t *testing.T) {
	var logs bytes.Buffer
	n := NewNormalizer(slog.New(slog.NewTextHandler(&logs, nil)))
	doneAt := time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC)
	rec := &model.NativeRecord{
		ID:     "j",
		Found:  true,
		Status: "SUCCESS",
		Result: errors.New("division by zero"),
		History: []model.NativeTransition{
			{Status: "PENDING", At: model.At(doneAt.Add(-3 * time.Second))},
			{Status: "SUCCESS", At: model.At(doneAt)},
		},
	}

	job := n.Normalize(rec)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "division by zero", job.Error)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, doneAt.Equal(*job.CompletedAt))
	assert.NotContains(t, logs.String(), "transition out of terminal state")
}

func TestNormalize_ErrorResultWithSuccessFlag(t *testing.T) {
	job := NewNormalizer(nil).Normalize(&model.NativeRecord{
		ID: "j", Found: true, Success: boolPtr(true), Result: errors.New("timeout"),
	})
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "timeout", job.Error)
	assert.Nil(t, job.Result)
}

func TestNormalizer_EncodeResultNeverSerializesErrors(t *testing.T) {
	n := NewNormalizer(nil)
	assert.Nil(t, n.encodeResult(&model.NativeRecord{Result: errors.New("boom")}))
	assert.JSONEq(t, `{"a":1}`, string(n.encodeResult(&model.NativeRecord{Result: map[string]int{"a": 1}})))
}

func TestNormalize_FailedFallbackText(t *testing.T) {
	job := NewNormalizer(nil).Normalize(&model.NativeRecord{ID: "j", Found: true, Status: "failed"})
	assert.Equal(t, "job failed", job.Error)
}

func TestNormalize_SuccessFlag(t *testing.T) {
	n := NewNormalizer(nil)
	stopped := time.Now()

	ok := n.Normalize(&model.NativeRecord{
		ID: "a", Found: true, Success: boolPtr(true),
		Result: json.RawMessage(`42`), CompletedAt: model.At(stopped),
	})
	assert.Equal(t, model.StatusSucceeded, ok.Status)
	assert.JSONEq(t, `42`, string(ok.Result))

	bad := n.Normalize(&model.NativeRecord{
		ID: "b", Found: true, Success: boolPtr(false),
		Result: json.RawMessage(`"Traceback: KeyError"`), CompletedAt: model.At(stopped),
	})
	assert.Equal(t, model.StatusFailed, bad.Status)
	assert.Equal(t, "Traceback: KeyError", bad.Error)
	assert.Nil(t, bad.Result)
}

func TestNormalize_NonTerminalDropsCompletedAt(t *testing.T) {
	n := NewNormalizer(nil)
	now := time.Now()
	for _, native := range []string{"queued", "started"} {
		job := n.Normalize(&model.NativeRecord{
			ID: "j", Found: true, Status: native,
			Result:      json.RawMessage(`{"partial":true}`),
			StartedAt:   model.At(now),
			CompletedAt: model.At(now),
		})
		assert.Nil(t, job.CompletedAt, native)
		assert.Nil(t, job.Result, native)
		assert.Empty(t, job.Error, native)
	}
}

func TestNormalize_PendingHasNoStartedAt(t *testing.T) {
	job := NewNormalizer(nil).Normalize(&model.NativeRecord{
		ID: "j", Found: true, Status: "deferred", StartedAt: model.At(time.Now()),
	})
	assert.Nil(t, job.StartedAt)
}

func TestNormalize_UnrecognizedStatus(t *testing.T) {
	job := NewNormalizer(nil).Normalize(&model.NativeRecord{Backend: "redis", ID: "j", Found: true, Status: "exploded"})
	assert.Equal(t, model.StatusUnknown, job.Status)
	assert.Contains(t, job.Error, `"exploded"`)
}

func TestNormalize_FirstTerminalWins(t *testing.T) {
	n := NewNormalizer(nil)
	failedAt := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	rec := &model.NativeRecord{
		ID:     "j",
		Found:  true,
		Status: "SUCCESS",
		Error:  "worker lost",
		Result: json.RawMessage(`{"late":true}`),
		History: []model.NativeTransition{
			{Status: "PENDING", At: model.At(failedAt.Add(-5 * time.Second))},
			{Status: "STARTED", At: model.At(failedAt.Add(-4 * time.Second))},
			{Status: "FAILURE", At: model.At(failedAt)},
			{Status: "SUCCESS", At: model.At(failedAt.Add(time.Second))},
		},
		CompletedAt: model.At(failedAt.Add(time.Second)),
	}

	job := n.Normalize(rec)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "worker lost", job.Error)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, failedAt.Equal(*job.CompletedAt))
}

func TestNormalize_RetryAfterTerminalKeepsTerminal(t *testing.T) {
	rec := &model.NativeRecord{
		ID:     "j",
		Found:  true,
		Status: "RETRY",
		History: []model.NativeTransition{
			{Status: "REVOKED", At: model.EpochMillis(1000)},
			{Status: "RETRY", At: model.EpochMillis(2000)},
		},
	}
	job := NewNormalizer(nil).Normalize(rec)
	assert.Equal(t, model.StatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, int64(1000), job.CompletedAt.UnixMilli())
}

func TestNormalize_ConsistentHistoryKeepsRecordCompletion(t *testing.T) {
	rec := &model.NativeRecord{
		ID:          "j",
		Found:       true,
		Status:      "canceled",
		CompletedAt: model.EpochSeconds(50),
		History: []model.NativeTransition{
			{Status: "queued", At: model.EpochSeconds(10)},
			{Status: "canceled", At: model.EpochSeconds(49)},
		},
	}
	job := NewNormalizer(nil).Normalize(rec)
	assert.Equal(t, model.StatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, int64(50), job.CompletedAt.Unix())
}
