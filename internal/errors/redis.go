package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// unavailableReplies are server replies that mean the node cannot serve right now.
var unavailableReplies = []string{"LOADING", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN", "READONLY"}

// MapRedisError maps go-redis errors onto the job store taxonomy. redis.Nil becomes NotFound;
// transport failures, closed clients and transient server replies become StoreUnavailable.
func MapRedisError(backend string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FromContext(backend, err)
	}
	if errors.Is(err, redis.Nil) {
		return &AppError{Code: ErrCodeNotFound, Message: "job not found", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return StoreUnavailable(backend, err)
	}
	msg := err.Error()
	for _, prefix := range unavailableReplies {
		if strings.HasPrefix(msg, prefix) {
			return StoreUnavailable(backend, err)
		}
	}

	return &AppError{Code: ErrCodeInternal, Message: "job store error", Cause: err}
}
