package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/jobfacade/internal/errors"
)

// StatusFor maps an error onto an HTTP status code.
//
// Only caller mistakes and backend availability are protocol errors; job outcomes travel as data
// in 200 responses and never reach this function.
func StatusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeStoreUnavailable, apperrors.ErrCodeTimeout:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeCanceled:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeJobFailure, apperrors.ErrCodeInternal:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorCodeFor names the error in the response body.
func errorCodeFor(err error) string {
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(apperrors.ErrCodeTimeout)
	}
	return string(apperrors.ErrCodeInternal)
}

// ErrorOpts contains all options needed to render an error response.
type ErrorOpts struct {
	W      http.ResponseWriter
	R      *http.Request
	Err    error
	Logger *slog.Logger
	// Attrs are added to the log record, e.g. the job id being served.
	Attrs []any
}

// RenderError writes the JSON error body for opts.Err. Server-side failures are logged; caller
// mistakes are not.
func RenderError(opts ErrorOpts) {
	status := StatusFor(opts.Err)
	if status >= http.StatusInternalServerError && opts.Logger != nil {
		attrs := append([]any{
			"method", opts.R.Method,
			"path", opts.R.URL.Path,
			"status", status,
			"error", opts.Err,
		}, opts.Attrs...)
		opts.Logger.ErrorContext(opts.R.Context(), "request failed", attrs...)
	}

	msg := opts.Err.Error()
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError && !errors.As(opts.Err, &appErr) {
		// Native errors may carry driver details; keep them in logs only.
		msg = http.StatusText(status)
	}
	WriteJSON(opts.W, status, ErrorBody{
		Error:   errorCodeFor(opts.Err),
		Message: msg,
		Field:   apperrors.GetField(opts.Err),
	})
}
