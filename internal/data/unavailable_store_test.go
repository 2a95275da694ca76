package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

func TestUnavailableStore_EveryCallFails(t *testing.T) {
	s := NewUnavailableStore("postgres", errors.New("dial tcp: connection refused"))
	ctx := context.Background()

	_, err := s.Submit(ctx, model.SubmitParams{})
	assert.True(t, apperrors.IsStoreUnavailable(err))
	assert.Contains(t, err.Error(), "connection refused")

	_, err = s.Fetch(ctx, "x")
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.List(ctx, model.ListOptions{Limit: 1})
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.Cancel(ctx, "x")
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.Introspect(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.DeleteTerminalBefore(ctx, time.Now(), 10)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.ReserveNext(ctx, []string{"default"}, time.Minute)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	_, err = s.ExtendLease(ctx, "x", time.Minute)
	assert.True(t, apperrors.IsStoreUnavailable(err))
	assert.Equal(t, "postgres", s.Backend())
}

func TestUnavailableStore_DefaultReason(t *testing.T) {
	s := NewUnavailableStore("redis", nil)
	assert.EqualError(t, s.Reason(), "backend not configured")
}
