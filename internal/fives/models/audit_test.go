package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func answer(v bool) *bool { return &v }

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name  string
		items []AuditItem
		scale ScoreScale
		want  float64
	}{
		{
			name:  "nothing answered",
			items: []AuditItem{{}, {}},
			scale: ScaleTen,
			want:  0,
		},
		{
			name:  "all yes on ten scale",
			items: []AuditItem{{Answer: answer(true)}, {Answer: answer(true)}},
			scale: ScaleTen,
			want:  10,
		},
		{
			name: "unanswered items ignored",
			items: []AuditItem{
				{Answer: answer(true)},
				{Answer: answer(false)},
				{Answer: answer(true)},
				{},
			},
			scale: ScaleTen,
			want:  6.67,
		},
		{
			name:  "percent scale",
			items: []AuditItem{{Answer: answer(true)}, {Answer: answer(false)}},
			scale: ScalePercent,
			want:  50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeScore(tt.items, tt.scale)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ComputeScore(tt.items, tt.scale), "score must be stable under recomputation")
		})
	}
}

func TestSensoBreakdown(t *testing.T) {
	items := []AuditItem{
		{Senso: Seiri, Answer: answer(true)},
		{Senso: Seiri, Answer: answer(false)},
		{Senso: Seiso, Answer: answer(true)},
		{Senso: Shitsuke},
	}

	breakdown := SensoBreakdown(items, ScalePercent)

	assert.Len(t, breakdown, len(Sensos))
	assert.Equal(t, SensoScore{Senso: Seiri, Yes: 1, Answered: 2, Total: 2, Score: 50}, breakdown[0])
	assert.Equal(t, SensoScore{Senso: Seiton}, breakdown[1])
	assert.Equal(t, float64(100), breakdown[2].Score)
	assert.Equal(t, 1, breakdown[4].Total)
	assert.Equal(t, 0, breakdown[4].Answered)
}

func TestCompanyUpdateApply(t *testing.T) {
	name := "Acme"
	company := &Company{Name: "Old", Email: "a@b.c"}
	update := &CompanyUpdate{Name: &name}

	fields := update.Apply(company)

	assert.Equal(t, []string{"name"}, fields)
	assert.Equal(t, "Acme", company.Name)
	assert.Equal(t, "a@b.c", company.Email)
}
