package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware(t *testing.T) {
	token, err := GenerateToken(Claims{
		Role:             models.RoleAuditor,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, "secret", time.Hour)
	require.NoError(t, err)

	var sawClaims bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := HTTPMiddleware(next, "secret")

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
		wantClaims bool
	}{
		{name: "read is open", method: http.MethodGet, path: "/v1/companies", wantStatus: http.StatusNoContent},
		{name: "sign in is open", method: http.MethodPost, path: "/v1/session", wantStatus: http.StatusNoContent},
		{name: "sign out without token", method: http.MethodDelete, path: "/v1/session", wantStatus: http.StatusUnauthorized},
		{name: "sign out with token", method: http.MethodDelete, path: "/v1/session", header: "Bearer " + token, wantStatus: http.StatusNoContent, wantClaims: true},
		{name: "metrics is open", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusNoContent},
		{name: "write without token", method: http.MethodPost, path: "/v1/audits", wantStatus: http.StatusUnauthorized},
		{name: "write with bad scheme", method: http.MethodPost, path: "/v1/audits", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{name: "write with bad token", method: http.MethodPatch, path: "/v1/audit-items/1", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "write with token", method: http.MethodPost, path: "/v1/audits", header: "Bearer " + token, wantStatus: http.StatusNoContent, wantClaims: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sawClaims = false
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantClaims, sawClaims)
		})
	}
}
