package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/jobfacade/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Reporter  *service.IntrospectionReporter
	Projector *service.ResultProjector // Optional: enables result_query on GET /jobs/{id}

	// Rate limiting; a non-positive RateLimitRPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	Logger *slog.Logger // Optional
}

// NewRouter creates the HTTP handler for the job API.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()

	if services.Jobs != nil {
		registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Projector: services.Projector, Logger: logger})
	}
	if services.Reporter != nil {
		mux.HandleFunc("GET /queues", (&QueueHandlers{Reporter: services.Reporter, Logger: logger}).Snapshot)
	}

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	var prober ReadinessProber
	if services.Reporter != nil {
		prober = services.Reporter
	}
	mux.HandleFunc("GET /readyz", readyHandler(prober, logger))

	return Chain(mux,
		Recover(logger),
		Logging(logger),
		RateLimit(services.RateLimitRPS, services.RateLimitBurst),
	)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /jobs", h.SubmitJobs)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/summary", h.Summary)
	mux.HandleFunc("POST /jobs/aggregate", h.Aggregate)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.CancelJob)
}
