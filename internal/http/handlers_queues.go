package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/jobfacade/internal/domain/model"
	"github.com/target/jobfacade/internal/service"
)

// QueueHandlers serves the queue introspection snapshot.
type QueueHandlers struct {
	Reporter *service.IntrospectionReporter
	Logger   *slog.Logger
}

type queuesResponse struct {
	Backend        string            `json:"backend"`
	Queues         []model.QueueInfo `json:"active_queues"`
	QueueCount     int               `json:"queue_count"`
	TotalPending   int64             `json:"task_count"`
	TotalCompleted int64             `json:"completed_count"`
	CapturedAt     time.Time         `json:"timestamp"`
}

// Snapshot handles GET /queues.
func (h *QueueHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Reporter.Snapshot(r.Context())
	if err != nil {
		RenderError(ErrorOpts{W: w, R: r, Err: err, Logger: h.Logger})
		return
	}
	WriteJSON(w, http.StatusOK, queuesResponse{
		Backend:        snap.Backend,
		Queues:         snap.Queues,
		QueueCount:     len(snap.Queues),
		TotalPending:   snap.TotalPending,
		TotalCompleted: snap.TotalCompleted,
		CapturedAt:     snap.CapturedAt,
	})
}
