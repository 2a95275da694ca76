package model

import (
	"encoding/json"
	"time"
)

// TimeUnit tells the normalizer how a backend encoded a timestamp.
type TimeUnit uint8

const (
	// TimeUnset means the backend has not recorded the instant.
	TimeUnset TimeUnit = iota
	// TimeEpochMillis is an integer count of milliseconds since the Unix epoch.
	TimeEpochMillis
	// TimeEpochSeconds is a (possibly fractional) count of seconds since the Unix epoch.
	TimeEpochSeconds
	// TimeNative is a time.Time produced by the driver, in any location.
	TimeNative
)

// NativeTime is a timestamp exactly as a backend reported it.
type NativeTime struct {
	Unit    TimeUnit
	Millis  int64
	Seconds float64
	Time    time.Time
}

// EpochMillis builds a NativeTime from epoch milliseconds.
func EpochMillis(ms int64) NativeTime {
	return NativeTime{Unit: TimeEpochMillis, Millis: ms}
}

// EpochSeconds builds a NativeTime from epoch seconds.
func EpochSeconds(s float64) NativeTime {
	return NativeTime{Unit: TimeEpochSeconds, Seconds: s}
}

// At builds a NativeTime from a driver time value. The zero time is treated as unset.
func At(t time.Time) NativeTime {
	if t.IsZero() {
		return NativeTime{}
	}
	return NativeTime{Unit: TimeNative, Time: t}
}

// AtPtr is At for nullable columns.
func AtPtr(t *time.Time) NativeTime {
	if t == nil {
		return NativeTime{}
	}
	return At(*t)
}

// IsSet reports whether the backend recorded a value.
func (n NativeTime) IsSet() bool {
	return n.Unit != TimeUnset
}

// NativeTransition is one entry of a backend's status history for a job.
type NativeTransition struct {
	Status string
	At     NativeTime
}

// NativeRecord is a job as one backend describes it, before normalization.
type NativeRecord struct {
	// Backend names the store that produced the record.
	Backend string
	ID      string
	// Found is false when the backend has no record of ID (expired, never existed).
	Found bool
	Kind  string
	Queue string
	Input json.RawMessage

	// Status is the backend's own status word. It may be empty when the backend only records
	// a success flag.
	Status  string
	Success *bool

	// Result is the raw result. It may be json.RawMessage, any JSON-marshalable value, or an error
	// value stored in place of a result.
	Result any
	// Error is failure text recorded separately from the result, when the backend does that.
	Error string

	CreatedAt   NativeTime
	StartedAt   NativeTime
	CompletedAt NativeTime

	// History lists observed transitions oldest first, when the backend keeps one.
	History []NativeTransition

	// LookupError records why the record could not be read. Used by the service to surface an
	// unknown status with a reason instead of failing the poll.
	LookupError error
}

// NotFoundRecord is the sentinel a store returns for ids it does not know.
func NotFoundRecord(backend, id string) *NativeRecord {
	return &NativeRecord{Backend: backend, ID: id, Found: false}
}
