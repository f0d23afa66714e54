package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTokenHandler(t *testing.T) {
	h := tokenHandler("secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/token?sub=u1&role=company_admin&company=c1&company=c2&email=a@b.c", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	claims, err := auth.ParseToken(resp.Token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, models.RoleCompanyAdmin, claims.Role)
	assert.Equal(t, []string{"c1", "c2"}, claims.Companies)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestTokenHandler_Defaults(t *testing.T) {
	rec := httptest.NewRecorder()
	tokenHandler("secret", zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	claims, err := auth.ParseToken(resp.Token, "secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuditor, claims.Role)
	assert.NotEmpty(t, claims.Subject)
}

func TestTokenHandler_UnknownRole(t *testing.T) {
	rec := httptest.NewRecorder()
	tokenHandler("secret", zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token?role=root", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
