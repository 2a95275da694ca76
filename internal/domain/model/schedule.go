package model

import (
	"encoding/json"
	"time"
)

// ScheduledJob is a periodic job registration, unique by Name.
type ScheduledJob struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	CronSpec string          `json:"cron_spec"`
	Input    json.RawMessage `json:"input,omitempty"`
	Enabled  bool            `json:"enabled"`
	// LastJobID is the id submitted by the most recent fire, used by the overrun check.
	LastJobID   string     `json:"last_job_id,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UpsertOutcome tells the caller whether a registration was new, changed, or already current.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// SameDefinition reports whether two registrations describe the same schedule, ignoring fire state.
func (s ScheduledJob) SameDefinition(o ScheduledJob) bool {
	return s.Name == o.Name && s.Kind == o.Kind && s.CronSpec == o.CronSpec &&
		s.Enabled == o.Enabled && jsonEqual(s.Input, o.Input)
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return string(ca) == string(cb)
}
