// Package model defines the core data types shared by the job façade, its stores and its HTTP surface.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the canonical job status, independent of any backend vocabulary.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Status string

const (
	// StatusPending indicates the job is accepted but not yet started.
	StatusPending Status = "pending"
	// StatusRunning indicates a worker is executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded indicates the job finished and produced a result.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the job finished with an error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled before finishing.
	StatusCancelled Status = "cancelled"
	// StatusUnknown covers unrecognized native states and ids the backend does not know.
	StatusUnknown Status = "unknown"
)

// AllStatuses lists the canonical statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled, StatusUnknown}
}

// Valid returns true if the Status is one of the canonical values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled, StatusUnknown:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v := Status(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Status: %q", v)
	}
	*s = v
	return nil
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Job is the canonical view of a submitted unit of work.
//
// Result is only set when Status is succeeded. Error is only set when Status is failed, or unknown
// where it carries the reason the status could not be determined. CompletedAt implies a terminal Status.
type Job struct {
	ID          string          `json:"job_id"`
	Kind        string          `json:"kind,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   *time.Time      `json:"created,omitempty"`
	StartedAt   *time.Time      `json:"started,omitempty"`
	CompletedAt *time.Time      `json:"completed,omitempty"`
}

// Task is a job reserved by a worker for execution.
type Task struct {
	ID    string
	Kind  string
	Queue string
	Input json.RawMessage
}

// SubmitParams is what a store needs to enqueue one job.
type SubmitParams struct {
	Kind  string
	Queue string
	Input json.RawMessage
}

// ListOptions controls how many native records a store returns and in what order.
type ListOptions struct {
	Limit       int
	NewestFirst bool
}

// CancelOutcome describes what a store did with a cancel request.
type CancelOutcome struct {
	// Found is false when the id is unknown to the backend.
	Found bool
	// AlreadyTerminal is true when the job had finished before the request arrived.
	AlreadyTerminal bool
	// NativeStatus is the backend status observed after the request.
	NativeStatus string
}

// CancelResult is returned to callers of the cancel operation.
type CancelResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}
