// Package metrics defines the metric names and tags the façade emits.
package metrics

import (
	"time"

	"github.com/target/jobfacade/internal/domain/model"
	obserrors "github.com/target/jobfacade/internal/observability/errors"
	"github.com/target/jobfacade/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Metric names.
const (
	MetricFacadeCall     = "facade.call"
	MetricFacadeDuration = "facade.duration"
	MetricJobTransition  = "job.transition"
	MetricJobDuration    = "job.duration"
	MetricQueuePending   = "queue.pending"
	MetricQueueWorkers   = "queue.workers"
	MetricReaperDeleted  = "reaper.deleted"
	MetricScheduleFire   = "schedule.fire"
)

// FacadeCall describes one façade operation against the backend.
type FacadeCall struct {
	Operation string
	Backend   string
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitFacadeCall counts and times a façade operation.
func EmitFacadeCall(sink statsd.Sink, in FacadeCall) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"operation": in.Operation,
		"backend":   in.Backend,
		"result":    in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count(MetricFacadeCall, 1, tags)
	if in.Duration > 0 {
		sink.Timing(MetricFacadeDuration, in.Duration, CloneTags(tags))
	}
}

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count(MetricJobTransition, 1, tags)
	if in.Duration > 0 {
		sink.Timing(MetricJobDuration, in.Duration, CloneTags(tags))
	}
}

// EmitQueueSnapshot records one pending gauge per queue and a worker gauge where known.
func EmitQueueSnapshot(sink statsd.Sink, snap *model.QueueSnapshot) {
	if sink == nil || snap == nil {
		return
	}
	for _, q := range snap.Queues {
		tags := map[string]string{"backend": snap.Backend, "queue": q.Name}
		sink.Gauge(MetricQueuePending, float64(q.Pending), tags)
		if q.Workers != nil {
			sink.Gauge(MetricQueueWorkers, float64(*q.Workers), CloneTags(tags))
		}
	}
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
