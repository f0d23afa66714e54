package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantHTTP int
	}{
		{"NotFound", fmt.Errorf("audit x: %w", e.ErrNotFound), codes.NotFound, http.StatusNotFound},
		{"InvalidInput", e.ErrInvalidInput, codes.InvalidArgument, http.StatusBadRequest},
		{"UnknownTable", e.ErrUnknownTable, codes.InvalidArgument, http.StatusBadRequest},
		{"Conflict", e.ErrConflict, codes.AlreadyExists, http.StatusConflict},
		{"Forbidden", e.ErrForbidden, codes.PermissionDenied, http.StatusForbidden},
		{"NotSignedIn", e.ErrNotSignedIn, codes.Unauthenticated, http.StatusUnauthorized},
		{"Offline", e.ErrOffline, codes.Unavailable, http.StatusServiceUnavailable},
		{"SyncInProgress", e.ErrSyncInProgress, codes.Aborted, http.StatusConflict},
		{"Timeout", context.DeadlineExceeded, codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{"Unknown", errors.New("boom"), codes.Internal, http.StatusInternalServerError},
	}

	logger := zaptest.NewLogger(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(mapServiceError(tt.err, logger))
			assert.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Equal(t, tt.wantHTTP, httpStatus(tt.err))
		})
	}
}
