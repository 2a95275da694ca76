package model

import "time"

// NativeQueue is one queue-like structure reported by a backend.
type NativeQueue struct {
	Name    string
	Pending int64
	// Workers is nil when the backend does not track workers for this queue.
	Workers *int64
	// Internal marks backend bookkeeping structures (result metadata, registries) that do not
	// hold pending work.
	Internal bool
}

// NativeQueueStats is a backend-wide introspection result before shaping.
type NativeQueueStats struct {
	Backend string
	// PerQueue is false when the backend cannot break pending work down by queue; Queues is then
	// ignored and TotalPending is used.
	PerQueue     bool
	Queues       []NativeQueue
	TotalPending int64
	Completed    int64
}

// QueueInfo is one entry of a QueueSnapshot.
type QueueInfo struct {
	Name    string `json:"name"`
	Pending int64  `json:"tasks"`
	Workers *int64 `json:"workers,omitempty"`
}

// QueueSnapshot is a point-in-time view of backend queues. It is recomputed on every request.
type QueueSnapshot struct {
	Backend        string      `json:"backend"`
	Queues         []QueueInfo `json:"active_queues"`
	TotalPending   int64       `json:"task_count"`
	TotalCompleted int64       `json:"completed_count"`
	CapturedAt     time.Time   `json:"timestamp"`
}

// StatusCounts summarizes how many of the newest jobs sit in each canonical status.
type StatusCounts struct {
	Counts  map[Status]int `json:"counts"`
	Sampled int            `json:"sampled"`
}
