package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func answer(v bool) *bool { return &v }

func TestWriteAudit(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	in := Audit{
		Company: models.Company{Name: "Acme"},
		Path: []models.Environment{
			{Name: "Plant"}, {Name: "Warehouse"}, {Name: "Dock 3"},
		},
		Audit: models.Audit{ID: "a1", AuditorID: "u1", Status: models.AuditInProgress, StartedAt: started},
		Items: []models.AuditItem{
			{Senso: models.Seiso, Question: "Floor clean?", Weight: 1, Answer: answer(false)},
			{Senso: models.Seiri, Question: "Unneeded items removed?", Weight: 1, Answer: answer(true)},
			{Senso: models.Seiri, Question: "Tools tagged?", Weight: 1},
		},
		Scale: models.ScaleTen,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAudit(&buf, in))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{summarySheet, itemsSheet}, f.GetSheetList())

	location, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Plant / Warehouse / Dock 3", location)

	score, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "5", score)

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "seiri", rows[1][0])
	assert.Equal(t, "yes", rows[1][3])
	assert.Equal(t, "seiso", rows[3][0])
	assert.Equal(t, "no", rows[3][3])

	breakdown, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	// header row, then one row per senso
	assert.Equal(t, "Senso", breakdown[9][0])
	assert.Equal(t, "seiri", breakdown[10][0])
	assert.Equal(t, "10", breakdown[10][4])
}

func TestWriteAuditList(t *testing.T) {
	score := 7.5
	completed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	audits := []models.Audit{
		{ID: "a1", EnvironmentID: "e1", Status: models.AuditCompleted, Score: &score, CompletedAt: &completed},
		{ID: "a2", EnvironmentID: "e2", Status: models.AuditInProgress},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAuditList(&buf, models.Company{Name: "Acme"}, audits, map[string]string{"e1": "Dock 3"}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(auditsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Dock 3", rows[3][1])
	assert.Equal(t, "7.5", rows[3][6])
	assert.Equal(t, "2026-03-02 09:00", rows[3][5])
}
