package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/cache"
	"github.com/gartstein/fives/internal/fives/controller"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/queue"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/session"
	"github.com/gartstein/fives/internal/fives/syncer"
	"github.com/golang-jwt/jwt/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testSecret  = "test-secret"
	testCompany = "c1"
)

// offlineSyncer keeps the controller in queue mode.
type offlineSyncer struct{}

func (offlineSyncer) Online() bool                               { return false }
func (offlineSyncer) RefreshTable(context.Context, string) error { return nil }
func (offlineSyncer) RequestTimeout() time.Duration              { return time.Second }

type apiFixture struct {
	server   *httptest.Server
	cache    *cache.Store
	queue    *queue.Queue
	sessions *session.Manager
	orch     *mockOrchestrator
	token    string
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	repo, err := remote.New(db, logger)
	require.NoError(t, err)

	store, err := cache.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	q, err := queue.New(ctx, store.DB(), queue.DefaultPolicy(), logger)
	require.NoError(t, err)

	sessions := session.NewManager(store, testSecret, logger)
	svc := controller.NewService(controller.Deps{
		Cache:    store,
		Queue:    q,
		Remote:   repo,
		Syncer:   offlineSyncer{},
		Sessions: sessions,
	}, logger)
	t.Cleanup(svc.Wait)

	orch := &mockOrchestrator{state: syncer.Offline}
	api := NewAPI(svc, sessions, orch, q, logger)
	mux := runtime.NewServeMux()
	require.NoError(t, api.Register(mux))

	server := httptest.NewServer(auth.HTTPMiddleware(mux, testSecret))
	t.Cleanup(server.Close)

	token, err := auth.GenerateToken(auth.Claims{
		Role:             models.RoleCompanyAdmin,
		Companies:        []string{testCompany},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, testSecret, time.Hour)
	require.NoError(t, err)

	require.True(t, store.Put(ctx, cache.StoreCompanies, &models.Company{
		ID: testCompany, Name: "Acme", Status: models.CompanyActive,
	}))
	return &apiFixture{server: server, cache: store, queue: q, sessions: sessions, orch: orch, token: token}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *apiFixture) signIn(t *testing.T) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/session", map[string]string{"token": f.token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_SessionLifecycle(t *testing.T) {
	f := setupAPI(t)

	resp := f.do(t, http.MethodGet, "/v1/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/session", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.signIn(t)
	resp = f.do(t, http.MethodGet, "/v1/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[sessionResponse](t, resp)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, models.RoleCompanyAdmin, got.Role)

	resp = f.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err := f.sessions.Current()
	assert.ErrorIs(t, err, e.ErrNotSignedIn)
}

func TestAPI_WritesNeedToken(t *testing.T) {
	f := setupAPI(t)
	f.signIn(t)
	f.token = ""

	resp := f.do(t, http.MethodPost, "/v1/environments", map[string]string{"company_id": testCompany})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/companies", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "cached reads stay open")
}

func TestAPI_WritesNeedSessionOwner(t *testing.T) {
	f := setupAPI(t)
	f.signIn(t)

	other, err := auth.GenerateToken(auth.Claims{
		Role:             models.RoleCompanyAdmin,
		Companies:        []string{testCompany},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"},
	}, testSecret, time.Hour)
	require.NoError(t, err)
	owner := f.token
	f.token = other

	resp := f.do(t, http.MethodPost, "/v1/environments", environmentRequest{
		CompanyID: testCompany, Name: "Plant", Level: models.LevelRoot,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, err = f.sessions.Current()
	require.NoError(t, err, "a foreign token cannot sign the owner out")

	f.token = ""
	resp = f.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.token = owner
	resp = f.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_OfflineAuditFlow(t *testing.T) {
	f := setupAPI(t)
	f.signIn(t)

	resp := f.do(t, http.MethodPost, "/v1/environments", environmentRequest{
		CompanyID: testCompany, Name: "Plant", Level: models.LevelRoot,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	env := decodeBody[models.Environment](t, resp)

	for _, title := range []string{"Aisles clear", "Labels visible"} {
		resp = f.do(t, http.MethodPost, "/v1/criteria", criterionRequest{
			CompanyID: testCompany, Senso: models.Seiton, Title: title,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/v1/audits", startAuditRequest{EnvironmentID: env.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decodeBody[controller.AuditDetail](t, resp)
	require.Len(t, started.Items, 2)

	resp = f.do(t, http.MethodPatch, "/v1/audit-items/"+started.Items[0].ID, map[string]string{"comment": "no answer"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	yes := true
	resp = f.do(t, http.MethodPatch, "/v1/audit-items/"+started.Items[0].ID, answerRequest{Answer: &yes})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/audits/"+started.Audit.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decodeBody[controller.AuditDetail](t, resp)
	assert.Equal(t, models.AuditCompleted, done.Audit.Status)
	assert.InDelta(t, 10.0, done.Score, 0.001)

	resp = f.do(t, http.MethodGet, "/v1/audits/"+started.Audit.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxType, resp.Header.Get("Content-Type"))

	resp = f.do(t, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ops := decodeBody[[]models.Operation](t, resp)
	// env, two criteria, audit, two items, one answer, completion
	assert.Len(t, ops, 8)
}

func TestAPI_Errors(t *testing.T) {
	f := setupAPI(t)
	f.signIn(t)

	resp := f.do(t, http.MethodGet, "/v1/audits/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/environments", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/companies/other/audits", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/admin/auditors", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Sync(t *testing.T) {
	f := setupAPI(t)
	f.orch.syncFunc = func(context.Context, bool) (syncer.Result, error) {
		return syncer.Result{}, e.ErrOffline
	}
	f.signIn(t)

	resp := f.do(t, http.MethodGet, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "offline", decodeBody[syncer.Status](t, resp).State)

	resp = f.do(t, http.MethodPost, "/v1/sync", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.orch.triggers())

	resp = f.do(t, http.MethodPost, "/v1/sync?wait=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/sync/connectivity", SetConnectivityRequest{Online: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", decodeBody[SetConnectivityResponse](t, resp).State)
}

func TestAPI_Requeue(t *testing.T) {
	f := setupAPI(t)
	f.signIn(t)
	ctx := context.Background()

	op := &models.Operation{Kind: models.OpCreate, Table: models.TableAudits, RecordID: "a1", Payload: []byte(`{}`)}
	require.NoError(t, f.queue.Enqueue(ctx, op))
	dead, err := f.queue.RecordFailure(ctx, op.Seq, e.ErrInvalidInput)
	require.NoError(t, err)
	require.True(t, dead)

	resp := f.do(t, http.MethodGet, "/v1/queue/dead-letters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]models.Operation](t, resp), 1)

	resp = f.do(t, http.MethodPost, "/v1/queue/abc/requeue", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/queue/"+strconv.FormatUint(op.Seq, 10)+"/requeue", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, f.orch.triggers())

	dl, err := f.queue.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dl)
}

