package seed

import (
	"context"
	"testing"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var seededAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDefaultLibrary(t *testing.T) {
	lib, err := Default(seededAt)
	require.NoError(t, err)

	perSenso := make(map[models.Senso]int)
	for _, c := range lib.Criteria {
		perSenso[c.Senso]++
		assert.Equal(t, models.OriginPlatform, c.Origin)
		assert.GreaterOrEqual(t, c.Weight, 1)
		assert.Empty(t, c.CompanyID)
	}
	for _, senso := range models.Sensos {
		assert.Equal(t, 5, perSenso[senso], "senso %s", senso)
	}
	assert.Equal(t, models.Seiri, lib.Criteria[0].Senso)

	require.Len(t, lib.Models, 2)
	assert.Len(t, lib.Models[0].CriterionIDs, len(lib.Criteria))
	assert.Equal(t, []string{
		ID("seiri-unneeded-items"),
		ID("seiton-marked-places"),
		ID("seiso-floor"),
		ID("seiketsu-standards"),
		ID("shitsuke-audits"),
	}, lib.Models[1].CriterionIDs)
}

func TestIDIsStable(t *testing.T) {
	assert.Equal(t, ID("seiso-floor"), ID("seiso-floor"))
	assert.NotEqual(t, ID("seiso-floor"), ID("seiri-red-tag"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown senso",
			doc:  "criteria:\n  tidy:\n    - key: a\n      title: A\n",
			want: "unknown senso",
		},
		{
			name: "duplicate key",
			doc:  "criteria:\n  seiri:\n    - key: a\n      title: A\n    - key: a\n      title: B\n",
			want: "duplicate criterion key",
		},
		{
			name: "missing title",
			doc:  "criteria:\n  seiri:\n    - key: a\n",
			want: "needs a key and a title",
		},
		{
			name: "unknown model criterion",
			doc:  "criteria:\n  seiri:\n    - key: a\n      title: A\nmodels:\n  - key: m\n    name: M\n    criteria: [b]\n",
			want: "unknown criterion",
		},
		{
			name: "bad yaml",
			doc:  "criteria: [",
			want: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), seededAt)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestApplyIsRepeatable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	repo, err := remote.New(db, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	lib, err := Default(seededAt)
	require.NoError(t, err)

	require.NoError(t, Apply(ctx, repo, lib, zaptest.NewLogger(t)))
	require.NoError(t, Apply(ctx, repo, lib, zaptest.NewLogger(t)))

	criteria, err := repo.Fetch(ctx, models.TableMasterCriteria, remote.Scope{})
	require.NoError(t, err)
	assert.Len(t, criteria, len(lib.Criteria))

	masterModels, err := repo.Fetch(ctx, models.TableMasterModels, remote.Scope{})
	require.NoError(t, err)
	require.Len(t, masterModels, 2)
}
