package errors

import (
	"context"
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "job not found",
			},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "msg"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
	if err := Wrapf(nil, ErrCodeInternal, "msg %d", 1); err != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestInvalidField(t *testing.T) {
	err := InvalidField("count", "count must be at least 1")
	if !IsInvalidArgument(err) {
		t.Errorf("InvalidField().Code = %v, want %v", err.Code, ErrCodeInvalidArgument)
	}
	if GetField(err) != "count" {
		t.Errorf("GetField() = %q, want count", GetField(err))
	}
}

func TestStoreUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := StoreUnavailable("redis", cause)
	if !IsStoreUnavailable(err) {
		t.Fatalf("IsStoreUnavailable() = false")
	}
	if !errors.Is(err, cause) {
		t.Errorf("StoreUnavailable should wrap its cause")
	}
	if want := `job store "redis" unavailable: dial tcp: connection refused`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFromContext(t *testing.T) {
	if err := FromContext("memory", nil); err != nil {
		t.Errorf("FromContext(nil) = %v", err)
	}
	if err := FromContext("memory", context.DeadlineExceeded); !IsStoreUnavailable(err) {
		t.Errorf("deadline should map to store_unavailable, got %v", GetCode(err))
	}
	if err := FromContext("memory", context.Canceled); !IsStoreUnavailable(err) {
		t.Errorf("cancel should map to store_unavailable, got %v", GetCode(err))
	}
	plain := errors.New("plain")
	if err := FromContext("memory", plain); !errors.Is(err, plain) || GetCode(err) != "" {
		t.Errorf("plain errors should pass through, got %v", err)
	}
	nf := NotFoundf("job %s not found", "x")
	if err := FromContext("memory", nf); !IsNotFound(err) {
		t.Errorf("app errors should pass through, got %v", GetCode(err))
	}
}

func TestGetCode_NonAppError(t *testing.T) {
	if code := GetCode(errors.New("x")); code != "" {
		t.Errorf("GetCode() = %q, want empty", code)
	}
}
