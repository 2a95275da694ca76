// Package job holds backend-independent job rules: status normalization and its helpers.
package job

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/target/jobfacade/internal/domain/model"
)

// Normalizer turns backend records into canonical jobs. It is safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer constructs a Normalizer. A nil logger silences terminal-conflict warnings.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger != nil {
		logger = logger.With("component", "status_normalizer")
	}
	return &Normalizer{logger: logger}
}

// Normalize maps a native record onto the canonical Job shape.
func (n *Normalizer) Normalize(rec *model.NativeRecord) model.Job {
	if rec == nil {
		return model.Job{Status: model.StatusUnknown, Error: "no record returned by job store"}
	}

	job := model.Job{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Input:     rec.Input,
		CreatedAt: ToInstant(rec.CreatedAt),
	}

	switch {
	case rec.LookupError != nil:
		job.Status = model.StatusUnknown
		job.Error = "status unavailable: " + rec.LookupError.Error()
		return job
	case !rec.Found:
		job.Status = model.StatusUnknown
		job.Error = fmt.Sprintf("job %s not found in %s store", rec.ID, backendName(rec))
		return job
	}

	status := n.resolveStatus(rec)
	completedAt := ToInstant(rec.CompletedAt)
	if first, at, ok := firstTerminal(rec.History); ok {
		if first == model.StatusSucceeded && resultIsError(rec) {
			first = model.StatusFailed
		}
		if status != first {
			n.logTerminalConflict(rec, first, status)
			status = first
			completedAt = nil
		}
		if completedAt == nil {
			completedAt = ToInstant(at)
		}
	}

	job.Status = status
	if status != model.StatusPending {
		job.StartedAt = ToInstant(rec.StartedAt)
	}
	if status.Terminal() {
		job.CompletedAt = completedAt
	}

	switch status {
	case model.StatusSucceeded:
		job.Result = n.encodeResult(rec)
	case model.StatusFailed:
		job.Error = failureText(rec)
	case model.StatusUnknown:
		job.Error = fmt.Sprintf("unrecognized %s status %q", backendName(rec), rec.Status)
	case model.StatusPending, model.StatusRunning, model.StatusCancelled:
	}

	return job
}

func (n *Normalizer) resolveStatus(rec *model.NativeRecord) model.Status {
	if rec.Status == "" && rec.Success != nil {
		if *rec.Success && !resultIsError(rec) {
			return model.StatusSucceeded
		}
		return model.StatusFailed
	}
	status := CanonicalStatus(rec.Status)
	if status == model.StatusSucceeded && resultIsError(rec) {
		return model.StatusFailed
	}
	return status
}

// resultIsError reports whether the backend stored an error value in place of a result. Such a
// record is a failure whatever status word accompanies it.
func resultIsError(rec *model.NativeRecord) bool {
	_, isErr := rec.Result.(error)
	return isErr
}

func firstTerminal(history []model.NativeTransition) (model.Status, model.NativeTime, bool) {
	for _, tr := range history {
		if s := CanonicalStatus(tr.Status); s.Terminal() {
			return s, tr.At, true
		}
	}
	return "", model.NativeTime{}, false
}

func (n *Normalizer) logTerminalConflict(rec *model.NativeRecord, first, reported model.Status) {
	if n.logger == nil {
		return
	}
	n.logger.Warn("backend reported transition out of terminal state; keeping first terminal status",
		"backend", rec.Backend,
		"job_id", rec.ID,
		"first_terminal", first,
		"reported", reported,
		"native_status", rec.Status,
	)
}

// encodeResult returns the result as raw JSON without re-encoding values that already are JSON,
// so numbers keep their exact textual form.
func (n *Normalizer) encodeResult(rec *model.NativeRecord) json.RawMessage {
	switch v := rec.Result.(type) {
	case nil, error:
		return nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil
		}
		return v
	case []byte:
		if len(v) == 0 {
			return nil
		}
		if json.Valid(v) {
			return json.RawMessage(v)
		}
		return mustMarshal(string(v))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			if n.logger != nil {
				n.logger.Warn("dropping unserializable job result", "backend", rec.Backend, "job_id", rec.ID, "error", err)
			}
			return nil
		}
		return b
	}
}

func failureText(rec *model.NativeRecord) string {
	if rec.Error != "" {
		return rec.Error
	}
	switch v := rec.Result.(type) {
	case error:
		if msg := v.Error(); msg != "" {
			return msg
		}
	case string:
		if v != "" {
			return v
		}
	case json.RawMessage:
		var s string
		if len(v) > 0 && json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return "job failed"
}

func backendName(rec *model.NativeRecord) string {
	if rec.Backend == "" {
		return "job"
	}
	return rec.Backend
}

func mustMarshal(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ToInstant converts a backend timestamp to a UTC instant. Unset values return nil.
func ToInstant(nt model.NativeTime) *time.Time {
	var t time.Time
	switch nt.Unit {
	case model.TimeEpochMillis:
		t = time.UnixMilli(nt.Millis)
	case model.TimeEpochSeconds:
		if math.IsNaN(nt.Seconds) || math.IsInf(nt.Seconds, 0) {
			return nil
		}
		sec, frac := math.Modf(nt.Seconds)
		t = time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	case model.TimeNative:
		if nt.Time.IsZero() {
			return nil
		}
		t = nt.Time
	case model.TimeUnset:
		return nil
	default:
		return nil
	}
	t = t.UTC()
	return &t
}
