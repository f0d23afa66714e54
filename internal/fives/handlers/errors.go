package handlers

import (
	"context"
	"errors"
	"net/http"

	e "github.com/gartstein/fives/internal/fives/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapServiceError maps domain errors to gRPC status codes.
func mapServiceError(err error, logger *zap.Logger) error {
	switch {
	case errors.Is(err, e.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, e.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, e.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, e.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, e.ErrNotSignedIn):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, e.ErrOffline):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, e.ErrSyncInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		logger.Error("Internal server error", zap.Error(err))
		return status.Error(codes.Internal, "internal server error")
	}
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, e.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, e.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, e.ErrConflict), errors.Is(err, e.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, e.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, e.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, e.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
