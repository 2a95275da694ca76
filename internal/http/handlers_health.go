package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// ReadinessProber reports whether the job store answers.
type ReadinessProber interface {
	Ready(ctx context.Context) error
}

// readyHandler answers 200 when the store round trip succeeds and 503 otherwise.
func readyHandler(p ReadinessProber, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			healthHandler(w, r)
			return
		}
		if err := p.Ready(r.Context()); err != nil {
			if logger != nil {
				logger.WarnContext(r.Context(), "readiness probe failed", "error", err)
			}
			WriteError(w, ErrorParams{
				Code:    http.StatusServiceUnavailable,
				ErrCode: "not_ready",
				Err:     err,
			})
			return
		}
		healthHandler(w, r)
	}
}
