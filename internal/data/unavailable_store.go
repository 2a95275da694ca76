package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

// UnavailableStore stands in for a backend that could not be configured or reached at startup.
// Every call fails with StoreUnavailable carrying the original reason, so the process can still
// serve health checks and report the problem per request.
type UnavailableStore struct {
	backend string
	reason  error
}

var _ core.Backend = (*UnavailableStore)(nil)

// NewUnavailableStore builds a store that always reports reason.
func NewUnavailableStore(backend string, reason error) *UnavailableStore {
	if reason == nil {
		reason = errors.New("backend not configured")
	}
	return &UnavailableStore{backend: backend, reason: reason}
}

func (s *UnavailableStore) err() error { return apperrors.StoreUnavailable(s.backend, s.reason) }

// Reason returns the startup failure.
func (s *UnavailableStore) Reason() error { return s.reason }

func (s *UnavailableStore) Backend() string { return s.backend }
func (s *UnavailableStore) Close() error    { return nil }

func (s *UnavailableStore) Submit(context.Context, model.SubmitParams) (string, error) {
	return "", s.err()
}

func (s *UnavailableStore) Fetch(context.Context, string) (*model.NativeRecord, error) {
	return nil, s.err()
}

func (s *UnavailableStore) List(context.Context, model.ListOptions) ([]*model.NativeRecord, error) {
	return nil, s.err()
}

func (s *UnavailableStore) Cancel(context.Context, string) (model.CancelOutcome, error) {
	return model.CancelOutcome{}, s.err()
}

func (s *UnavailableStore) Introspect(context.Context) (*model.NativeQueueStats, error) {
	return nil, s.err()
}

func (s *UnavailableStore) ReserveNext(context.Context, []string, time.Duration) (*model.Task, error) {
	return nil, s.err()
}

func (s *UnavailableStore) ExtendLease(context.Context, string, time.Duration) (bool, error) {
	return false, s.err()
}

func (s *UnavailableStore) Complete(context.Context, string, json.RawMessage) (bool, error) {
	return false, s.err()
}

func (s *UnavailableStore) Fail(context.Context, string, string) (bool, error) {
	return false, s.err()
}

func (s *UnavailableStore) UpsertSchedule(context.Context, model.ScheduledJob) (model.UpsertOutcome, error) {
	return "", s.err()
}

func (s *UnavailableStore) ListSchedules(context.Context) ([]model.ScheduledJob, error) {
	return nil, s.err()
}

func (s *UnavailableStore) ClaimFire(context.Context, string, time.Time, string) (bool, error) {
	return false, s.err()
}

func (s *UnavailableStore) DeleteTerminalBefore(context.Context, time.Time, int) (int64, error) {
	return 0, s.err()
}
