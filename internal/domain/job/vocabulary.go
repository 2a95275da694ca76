package job

import (
	"strings"

	"github.com/target/jobfacade/internal/domain/model"
)

// vocabulary folds every native status word the supported backends use onto the canonical enum.
// Keys are normalized with foldStatus.
//
//nolint:gochecknoglobals // read-only lookup table
var vocabulary = map[string]model.Status{
	// queued work
	"queued":    model.StatusPending,
	"pending":   model.StatusPending,
	"deferred":  model.StatusPending,
	"scheduled": model.StatusPending,
	"enqueued":  model.StatusPending,
	"received":  model.StatusPending,
	"retry":     model.StatusPending,
	"retrying":  model.StatusPending,

	// in flight
	"started":    model.StatusRunning,
	"running":    model.StatusRunning,
	"active":     model.StatusRunning,
	"processing": model.StatusRunning,

	// finished well
	"finished":  model.StatusSucceeded,
	"success":   model.StatusSucceeded,
	"succeeded": model.StatusSucceeded,
	"done":      model.StatusSucceeded,
	"completed": model.StatusSucceeded,

	// finished badly
	"failed":                         model.StatusFailed,
	"failure":                        model.StatusFailed,
	"error":                          model.StatusFailed,
	"max_retries_exceeded":           model.StatusFailed,
	"max_recovery_attempts_exceeded": model.StatusFailed,
	"dead":                           model.StatusFailed,

	// stopped by request
	"stopped":   model.StatusCancelled,
	"canceled":  model.StatusCancelled,
	"cancelled": model.StatusCancelled,
	"revoked":   model.StatusCancelled,
}

// CanonicalStatus maps one native status word to the canonical enum. Unrecognized and empty words
// map to StatusUnknown.
func CanonicalStatus(native string) model.Status {
	if s, ok := vocabulary[foldStatus(native)]; ok {
		return s
	}
	return model.StatusUnknown
}

func foldStatus(native string) string {
	s := strings.ToLower(strings.TrimSpace(native))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
