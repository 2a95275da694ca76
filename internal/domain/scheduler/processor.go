// Package scheduler decides what a periodic schedule does when its cron spec fires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/target/jobfacade/internal/domain"
	"github.com/target/jobfacade/internal/domain/model"
)

// JobStatusReader reports the canonical status of a previously submitted job.
type JobStatusReader interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
}

// JobSubmitter enqueues the job for a fire and withdraws it when another scheduler won the fire.
type JobSubmitter interface {
	Submit(ctx context.Context, params model.SubmitParams) (string, error)
	Cancel(ctx context.Context, id string) (model.CancelOutcome, error)
}

// FireClaimer records fires so that each fire instant produces at most one job.
type FireClaimer interface {
	ClaimFire(ctx context.Context, name string, firedAt time.Time, jobID string) (bool, error)
}

// FireProcessorOptions configures FireProcessor defaults.
type FireProcessorOptions struct {
	Policy      domain.OverrunPolicy
	States      domain.OverrunStateMask
	StatusRead  JobStatusReader
	Submitter   JobSubmitter
	FireClaimer FireClaimer
}

// FireProcessor owns the overrun policy flow for scheduled jobs.
type FireProcessor struct {
	policy    domain.OverrunPolicy
	states    domain.OverrunStateMask
	reader    JobStatusReader
	submitter JobSubmitter
	claimer   FireClaimer
}

// NewFireProcessor constructs a FireProcessor. Policy defaults to skip and States to pending|running.
func NewFireProcessor(opts FireProcessorOptions) (*FireProcessor, error) {
	if opts.Submitter == nil {
		return nil, errors.New("job submitter is required")
	}
	if opts.FireClaimer == nil {
		return nil, errors.New("fire claimer is required")
	}
	policy := opts.Policy
	if policy == "" {
		policy = domain.OverrunPolicySkip
	}
	states := opts.States
	if states == 0 {
		states = domain.OverrunStatesDefault
	}
	if policy == domain.OverrunPolicySkip && opts.StatusRead == nil {
		return nil, errors.New("job status reader is required for the skip policy")
	}
	return &FireProcessor{
		policy:    policy,
		states:    states,
		reader:    opts.StatusRead,
		submitter: opts.Submitter,
		claimer:   opts.FireClaimer,
	}, nil
}

// Policy returns the effective overrun policy.
func (p *FireProcessor) Policy() domain.OverrunPolicy { return p.policy }

// FireParams describes one cron fire.
type FireParams struct {
	Schedule model.ScheduledJob
	Queue    string
	FiredAt  time.Time
}

// FireResult captures what a fire did.
type FireResult struct {
	// Submitted is true when a job was enqueued and the fire was claimed for it.
	Submitted bool
	JobID     string
	// Skipped is true when the previous job blocked this fire.
	Skipped        bool
	PreviousStatus model.Status
	// Duplicate is true when another scheduler already claimed this fire.
	Duplicate bool
	// Recorded is true when the fire was claimed without submitting (reschedule policy).
	Recorded bool
}

// Process applies the overrun policy to one fire.
func (p *FireProcessor) Process(ctx context.Context, params FireParams) (*FireResult, error) {
	sched := params.Schedule
	result := &FireResult{}
	if !sched.Enabled {
		return result, nil
	}
	firedAt := params.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now()
	}
	firedAt = firedAt.UTC().Truncate(time.Second)
	if sched.LastFiredAt != nil && !firedAt.After(*sched.LastFiredAt) {
		result.Duplicate = true
		return result, nil
	}

	switch p.policy {
	case domain.OverrunPolicyReschedule:
		won, err := p.claimer.ClaimFire(ctx, sched.Name, firedAt, sched.LastJobID)
		if err != nil {
			return nil, fmt.Errorf("claim fire: %w", err)
		}
		result.Recorded = won
		result.Duplicate = !won
		return result, nil
	case domain.OverrunPolicySkip:
		blocked, status, err := p.previousBlocks(ctx, sched.LastJobID)
		if err != nil {
			return nil, err
		}
		result.PreviousStatus = status
		if blocked {
			result.Skipped = true
			return result, nil
		}
	case domain.OverrunPolicyQueue:
	default:
		return nil, fmt.Errorf("unknown overrun policy: %s", p.policy)
	}

	return p.submitAndClaim(ctx, params.Queue, sched, firedAt, result)
}

func (p *FireProcessor) previousBlocks(ctx context.Context, lastJobID string) (bool, model.Status, error) {
	if lastJobID == "" {
		return false, "", nil
	}
	job, err := p.reader.GetJob(ctx, lastJobID)
	if err != nil {
		return false, "", fmt.Errorf("check previous job: %w", err)
	}
	return p.states.Blocks(job.Status), job.Status, nil
}

func (p *FireProcessor) submitAndClaim(
	ctx context.Context,
	queue string,
	sched model.ScheduledJob,
	firedAt time.Time,
	result *FireResult,
) (*FireResult, error) {
	id, err := p.submitter.Submit(ctx, model.SubmitParams{Kind: sched.Kind, Queue: queue, Input: sched.Input})
	if err != nil {
		return nil, fmt.Errorf("submit scheduled job: %w", err)
	}
	won, err := p.claimer.ClaimFire(ctx, sched.Name, firedAt, id)
	if err != nil {
		return nil, fmt.Errorf("claim fire: %w", err)
	}
	if !won {
		if _, cancelErr := p.submitter.Cancel(ctx, id); cancelErr != nil {
			return nil, fmt.Errorf("withdraw duplicate job %s: %w", id, cancelErr)
		}
		result.Duplicate = true
		return result, nil
	}
	result.Submitted = true
	result.JobID = id
	return result, nil
}
