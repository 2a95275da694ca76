package errors

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps PostgreSQL driver errors onto the job store taxonomy:
// - pgx.ErrNoRows and malformed ids → NotFound
// - connection, shutdown and resource classes → StoreUnavailable
// - context deadlines and cancellations → StoreUnavailable
// - anything else → Internal
func MapDBError(backend string, err error) error {
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

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "job not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(backend, pgErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return StoreUnavailable(backend, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return StoreUnavailable(backend, err)
	}

	return &AppError{
		Code:    ErrCodeInternal,
		Message: "job store error",
		Cause:   err,
	}
}

func mapPgError(backend string, pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.InvalidTextRepresentation:
		// Ids that are not valid UUIDs can never exist.
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "job not found",
			Cause:   pgErr,
		}
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgerrcode.IsOperatorIntervention(pgErr.Code),
		pgerrcode.IsInsufficientResources(pgErr.Code):
		return StoreUnavailable(backend, pgErr)
	case pgErr.Code == pgerrcode.UndefinedTable:
		return &AppError{
			Code:    ErrCodeStoreUnavailable,
			Message: "job store schema missing; run migrations",
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "job store database error",
			Cause:   pgErr,
		}
	}
}
