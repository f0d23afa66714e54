package remote

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB initializes an in-memory SQLite database standing in for Postgres.
func SetupTestDB(t *testing.T) *Repository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "failed to open test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo, err := New(db, zaptest.NewLogger(t))
	require.NoError(t, err, "failed to migrate test database")
	return repo
}

func createOp(t *testing.T, table string, rec models.Record) models.Operation {
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	return models.Operation{
		Kind:           models.OpCreate,
		Table:          table,
		RecordID:       rec.RecordID(),
		Payload:        payload,
		IdempotencyKey: ids.New(),
	}
}

func TestApplyCreateAssignsRemoteID(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	local := &models.Company{ID: ids.NewLocal(), Name: "Acme", Status: models.CompanyActive}
	id, err := repo.Apply(ctx, createOp(t, models.TableCompanies, local))
	require.NoError(t, err)
	assert.False(t, ids.IsLocal(id))

	rec, err := repo.Get(ctx, models.TableCompanies, id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.(*models.Company).Name)
}

func TestApplyCreateKeepsRemoteID(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	id, err := repo.Apply(ctx, createOp(t, models.TableCompanies, &models.Company{ID: "fixed", Name: "Acme"}))
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = repo.Apply(ctx, createOp(t, models.TableCompanies, &models.Company{ID: "fixed", Name: "Again"}))
	assert.ErrorIs(t, err, e.ErrConflict)
}

func TestApplyIsIdempotent(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	op := createOp(t, models.TableAudits, &models.Audit{ID: ids.NewLocal(), CompanyID: "c1", EnvironmentID: "e1", Status: models.AuditInProgress})

	first, err := repo.Apply(ctx, op)
	require.NoError(t, err)
	second, err := repo.Apply(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, first, second, "replay acknowledges the original write")

	recs, err := repo.Fetch(ctx, models.TableAudits, Scope{All: true})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestApplyRejectsUnsyncedReferences(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	item := &models.AuditItem{ID: ids.NewLocal(), AuditID: ids.NewLocal(), Question: "Floor is clean"}
	_, err := repo.Apply(ctx, createOp(t, models.TableAuditItems, item))
	assert.ErrorIs(t, err, e.ErrInvalidInput)
	assert.True(t, e.IsPermanent(err))

	var rows int64
	require.NoError(t, repo.db.Table(models.TableAuditItems).Count(&rows).Error)
	assert.Zero(t, rows)

	// its own temporary id is fine once the parent is resolved
	item.AuditID = ids.New()
	id, err := repo.Apply(ctx, createOp(t, models.TableAuditItems, item))
	require.NoError(t, err)
	assert.False(t, ids.IsLocal(id))
}

func TestApplyUpdate(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	id, err := repo.Apply(ctx, createOp(t, models.TableCompanies, &models.Company{ID: ids.NewLocal(), Name: "Acme", Email: "a@acme.io", Status: models.CompanyActive}))
	require.NoError(t, err)

	payload, _ := json.Marshal(&models.Company{ID: id, Name: "Renamed", Email: "", Status: models.CompanyInactive})
	_, err = repo.Apply(ctx, models.Operation{
		Kind:     models.OpUpdate,
		Table:    models.TableCompanies,
		RecordID: id,
		Payload:  payload,
		Fields:   []string{"name", "status"},
	})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, models.TableCompanies, id)
	require.NoError(t, err)
	company := rec.(*models.Company)
	assert.Equal(t, "Renamed", company.Name)
	assert.Equal(t, models.CompanyInactive, company.Status)
	assert.Equal(t, "a@acme.io", company.Email, "unselected columns are untouched")
}

func TestApplyUpdateFailures(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()
	payload, _ := json.Marshal(&models.Company{Name: "x"})

	tests := []struct {
		name string
		op   models.Operation
		want error
	}{
		{
			name: "missing row",
			op:   models.Operation{Kind: models.OpUpdate, Table: models.TableCompanies, RecordID: "nope", Payload: payload, Fields: []string{"name"}},
			want: e.ErrNotFound,
		},
		{
			name: "temporary id",
			op:   models.Operation{Kind: models.OpUpdate, Table: models.TableCompanies, RecordID: ids.NewLocal(), Payload: payload, Fields: []string{"name"}},
			want: e.ErrNotFound,
		},
		{
			name: "no fields",
			op:   models.Operation{Kind: models.OpUpdate, Table: models.TableCompanies, RecordID: "nope", Payload: payload},
			want: e.ErrInvalidInput,
		},
		{
			name: "unknown table",
			op:   models.Operation{Kind: models.OpCreate, Table: "widgets", Payload: payload},
			want: e.ErrUnknownTable,
		},
		{
			name: "bad payload",
			op:   models.Operation{Kind: models.OpCreate, Table: models.TableCompanies, Payload: []byte("{")},
			want: e.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Apply(ctx, tt.op)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchScoped(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	for _, rec := range []struct {
		table string
		rec   models.Record
	}{
		{models.TableAudits, &models.Audit{ID: "a1", CompanyID: "c1", EnvironmentID: "e1", Status: models.AuditInProgress}},
		{models.TableAudits, &models.Audit{ID: "a2", CompanyID: "c2", EnvironmentID: "e2", Status: models.AuditInProgress}},
		{models.TableAuditItems, &models.AuditItem{ID: "i1", AuditID: "a1"}},
		{models.TableAuditItems, &models.AuditItem{ID: "i2", AuditID: "a2"}},
		{models.TableMasterCriteria, &models.Criterion{ID: "m1", Senso: models.Seiri, Title: "Sort", Weight: 1, ScoringType: models.ScoringYesNo, Origin: models.OriginPlatform}},
	} {
		_, err := repo.Apply(ctx, createOp(t, rec.table, rec.rec))
		require.NoError(t, err)
	}

	scope := Scope{CompanyIDs: []string{"c1"}}

	audits, err := repo.Fetch(ctx, models.TableAudits, scope)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "a1", audits[0].RecordID())

	items, err := repo.Fetch(ctx, models.TableAuditItems, scope)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "i1", items[0].RecordID())

	master, err := repo.Fetch(ctx, models.TableMasterCriteria, scope)
	require.NoError(t, err)
	assert.Len(t, master, 1, "platform tables are not company scoped")

	all, err := repo.Fetch(ctx, models.TableAudits, Scope{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.Fetch(ctx, models.TableAudits, Scope{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.Fetch(ctx, "widgets", scope)
	assert.ErrorIs(t, err, e.ErrUnknownTable)
}

func TestGetNotFound(t *testing.T) {
	repo := SetupTestDB(t)
	_, err := repo.Get(context.Background(), models.TableCompanies, "missing")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestPing(t *testing.T) {
	repo := SetupTestDB(t)
	assert.NoError(t, repo.Ping(context.Background()))
	require.NoError(t, repo.Close())
	assert.Error(t, repo.Ping(context.Background()))
}

func TestConfigDSN(t *testing.T) {
	cfg := &Config{Host: "db", Port: 5432, User: "fives", Password: `p a's\`, DBName: "fives", SSLMode: "disable"}
	assert.Equal(t, `host=db port=5432 user=fives password='p a\'s\\' dbname=fives sslmode=disable`, cfg.DSN())

	cfg.Password = ""
	assert.Contains(t, cfg.DSN(), "password='' dbname=fives")
}

func TestOpen_Unreachable(t *testing.T) {
	repo, err := Open(&Config{Host: "127.0.0.1", Port: 1, User: "u", DBName: "d", SSLMode: "disable"}, zaptest.NewLogger(t))
	require.NoError(t, err, "opening does not dial")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, repo.Ping(ctx))
	assert.False(t, repo.migrated)
}
