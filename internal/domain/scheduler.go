// Package domain contains scheduling policy shared by configuration and the periodic scheduler.
package domain

import (
	"fmt"
	"strings"

	"github.com/target/jobfacade/internal/domain/model"
)

// OverrunPolicy defines what a periodic fire does while the previous fire's job is still active.
type OverrunPolicy string

const (
	// OverrunPolicySkip drops the fire when the previous job is in a blocking state.
	OverrunPolicySkip OverrunPolicy = "skip"

	// OverrunPolicyQueue always submits a new job.
	OverrunPolicyQueue OverrunPolicy = "queue"

	// OverrunPolicyReschedule records the fire without submitting a job.
	OverrunPolicyReschedule OverrunPolicy = "reschedule"
)

// UnmarshalText implements encoding.TextUnmarshaler to parse OverrunPolicy from env or text.
func (p *OverrunPolicy) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch OverrunPolicy(v) {
	case OverrunPolicySkip, OverrunPolicyQueue, OverrunPolicyReschedule:
		*p = OverrunPolicy(v)
		return nil
	default:
		return fmt.Errorf("invalid OverrunPolicy: %q", v)
	}
}

// OverrunStateMask selects which canonical states of the previous job block a fire under
// OverrunPolicySkip.
type OverrunStateMask uint8

const (
	// OverrunStateRunning blocks while the previous job is executing.
	OverrunStateRunning OverrunStateMask = 1 << iota
	// OverrunStatePending blocks while the previous job is still queued.
	OverrunStatePending
	// OverrunStateUnknown blocks when the previous job's state cannot be determined.
	OverrunStateUnknown
)

// OverrunStatesDefault blocks on queued and executing jobs.
const OverrunStatesDefault = OverrunStateRunning | OverrunStatePending

var overrunStateNames = []struct {
	name string
	flag OverrunStateMask
}{
	{"running", OverrunStateRunning},
	{"pending", OverrunStatePending},
	{"unknown", OverrunStateUnknown},
}

// Has reports whether the mask includes the provided flag.
func (m OverrunStateMask) Has(flag OverrunStateMask) bool {
	return m&flag != 0
}

// Blocks reports whether a previous job in status should suppress the next fire.
func (m OverrunStateMask) Blocks(status model.Status) bool {
	switch status {
	case model.StatusRunning:
		return m.Has(OverrunStateRunning)
	case model.StatusPending:
		return m.Has(OverrunStatePending)
	case model.StatusUnknown:
		return m.Has(OverrunStateUnknown)
	case model.StatusSucceeded, model.StatusFailed, model.StatusCancelled:
		return false
	default:
		return false
	}
}

// String returns a stable, comma-separated representation of the mask.
func (m OverrunStateMask) String() string {
	var parts []string
	for _, entry := range overrunStateNames {
		if m&entry.flag != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseOverrunStateMask parses a comma-separated list of state names into a mask.
func ParseOverrunStateMask(v string) (OverrunStateMask, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	var mask OverrunStateMask
	for _, part := range strings.Split(v, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		found := false
		for _, entry := range overrunStateNames {
			if entry.name == name {
				mask |= entry.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("invalid overrun state: %q", name)
		}
	}
	return mask, nil
}

// MarshalText implements encoding.TextMarshaler.
func (m OverrunStateMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OverrunStateMask) UnmarshalText(text []byte) error {
	mask, err := ParseOverrunStateMask(string(text))
	if err != nil {
		return err
	}
	*m = mask
	return nil
}
