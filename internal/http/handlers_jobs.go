// Package httpx exposes the job façade over HTTP/JSON.
package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
	"github.com/target/jobfacade/internal/jobs"
	"github.com/target/jobfacade/internal/service"
)

const (
	defaultAggregationRange = "1h"
	maxTimeRangeLen         = 32
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc       *service.JobService
	Projector *service.ResultProjector
	Logger    *slog.Logger
	Now       func() time.Time
}

type submitResponse struct {
	Message string                `json:"message"`
	JobIDs  any                   `json:"job_ids"`
	Errors  []model.SubmitOutcome `json:"errors,omitempty"`
}

// SubmitJobs handles POST /jobs?kind=<kind>&count=<n>. The optional JSON body is the job input.
func (h *JobHandlers) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	count, err := parseIntParam(r, "count", 1)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	input, ok := ReadJSONBody(w, r)
	if !ok {
		return
	}

	req := model.SubmitRequest{Kind: r.URL.Query().Get("kind"), Input: input, Count: count}
	res, err := h.Svc.SubmitJobs(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err, "kind", req.Kind)
		return
	}

	ids := res.IDs()
	failures := res.Failures()
	resp := submitResponse{Message: "Jobs queued", JobIDs: ids, Errors: failures}
	if req.Count == 1 && len(ids) == 1 {
		resp.JobIDs = ids[0]
	}
	if len(failures) > 0 {
		resp.Message = fmt.Sprintf("%d of %d jobs queued", len(ids), req.Count)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}. The optional result_query narrows the result with JMESPath.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.Svc.GetJob(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err, "job_id", id)
		return
	}
	if h.Projector != nil {
		if err := h.Projector.Project(job, r.URL.Query().Get("result_query")); err != nil {
			h.renderError(w, r, err, "job_id", id)
			return
		}
	}
	WriteJSON(w, http.StatusOK, job)
}

type listResponse struct {
	Jobs       []model.Job `json:"jobs"`
	TotalCount int         `json:"total_count"`
	Message    string      `json:"message"`
}

// ListJobs handles GET /jobs?limit=<n>&order=newest|oldest.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	newestFirst, err := parseOrder(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	list, err := h.Svc.ListJobs(r.Context(), limit, newestFirst)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, listResponse{
		Jobs:       list,
		TotalCount: len(list),
		Message:    "Successfully retrieved jobs",
	})
}

// CancelJob handles POST /jobs/{id}/cancel. Unknown ids answer 200 with ok=false.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.Svc.CancelJob(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err, "job_id", id)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type summaryResponse struct {
	Backend   string               `json:"backend"`
	Counts    map[model.Status]int `json:"counts"`
	Sampled   int                  `json:"sampled"`
	Timestamp time.Time            `json:"timestamp"`
	Message   string               `json:"message"`
}

// Summary handles GET /jobs/summary?limit=<n>, counting the newest jobs by status.
func (h *JobHandlers) Summary(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	counts, err := h.Svc.Summary(r.Context(), limit)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summaryResponse{
		Backend:   h.Svc.Backend(),
		Counts:    counts.Counts,
		Sampled:   counts.Sampled,
		Timestamp: h.now().UTC(),
		Message:   fmt.Sprintf("status of the latest %d jobs", counts.Sampled),
	})
}

type aggregateResponse struct {
	Message   string `json:"message"`
	JobID     string `json:"job_id"`
	TimeRange string `json:"time_range"`
}

// Aggregate handles POST /jobs/aggregate?time_range=1h, a shortcut for a data aggregation job.
func (h *JobHandlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	tr := strings.TrimSpace(r.URL.Query().Get("time_range"))
	if tr == "" {
		tr = defaultAggregationRange
	}
	if len(tr) > maxTimeRangeLen {
		h.renderError(w, r, apperrors.InvalidField("time_range",
			fmt.Sprintf("time_range cannot exceed %d characters", maxTimeRangeLen)))
		return
	}

	input, err := json.Marshal(jobs.AggregationInput{TimeRange: tr})
	if err != nil {
		h.renderError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode aggregation input"))
		return
	}
	res, err := h.Svc.SubmitJobs(r.Context(), model.SubmitRequest{
		Kind:  jobs.KindDataAggregation,
		Input: input,
		Count: 1,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	ids := res.IDs()
	if len(ids) == 0 {
		h.renderError(w, r, apperrors.Internalf("aggregation job was not accepted"))
		return
	}
	WriteJSON(w, http.StatusOK, aggregateResponse{
		Message:   "Data aggregation started",
		JobID:     ids[0],
		TimeRange: tr,
	})
}

func (h *JobHandlers) renderError(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	RenderError(ErrorOpts{W: w, R: r, Err: err, Logger: h.Logger, Attrs: attrs})
}

func (h *JobHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// parseIntParam returns the integer query parameter key, or def when it is absent.
// Malformed values are caller errors.
func parseIntParam(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.InvalidField(key, fmt.Sprintf("%s must be an integer", key))
	}
	return i, nil
}

func parseOrder(r *http.Request) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("order"))) {
	case "", "newest", "desc":
		return true, nil
	case "oldest", "asc":
		return false, nil
	default:
		return false, apperrors.InvalidField("order", "order must be newest or oldest")
	}
}
