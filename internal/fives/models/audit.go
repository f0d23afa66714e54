package models

import (
	"math"
	"time"
)

// AuditStatus is the lifecycle state of an audit.
type AuditStatus string

const (
	AuditInProgress AuditStatus = "in_progress"
	AuditCompleted  AuditStatus = "completed"
)

// Audit is one evaluation pass over a location.
type Audit struct {
	ID            string      `gorm:"primaryKey;size:64" json:"id"`
	CompanyID     string      `gorm:"size:64;index;not null" json:"company_id"`
	EnvironmentID string      `gorm:"size:64;index;not null" json:"environment_id"`
	AuditorID     string      `gorm:"size:64;index" json:"auditor_id"`
	Status        AuditStatus `gorm:"size:16;not null" json:"status"`
	// Score is set when the audit completes.
	Score       *float64   `json:"score"`
	Notes       string     `gorm:"size:4000" json:"notes"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	// DeletedAt marks a soft-deleted audit.
	DeletedAt *time.Time `json:"deleted_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (a *Audit) RecordID() string      { return a.ID }
func (a *Audit) SetRecordID(id string) { a.ID = id }
func (a *Audit) IndexKey() string      { return a.CompanyID }

// IsDeleted reports whether the audit was soft-deleted.
func (a *Audit) IsDeleted() bool { return a.DeletedAt != nil }

// AuditItem is one criterion question inside an audit together with its answer.
type AuditItem struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	AuditID     string `gorm:"size:64;index;not null" json:"audit_id"`
	CriterionID string `gorm:"size:64" json:"criterion_id"`
	Senso       Senso  `gorm:"size:16" json:"senso"`
	Question    string `gorm:"size:300" json:"question"`
	Weight      int    `json:"weight"`
	// Answer is nil until the auditor answers the item.
	Answer     *bool      `json:"answer"`
	Comment    string     `gorm:"size:2000" json:"comment"`
	AnsweredAt *time.Time `json:"answered_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (i *AuditItem) RecordID() string      { return i.ID }
func (i *AuditItem) SetRecordID(id string) { i.ID = id }
func (i *AuditItem) IndexKey() string      { return i.AuditID }

// ScoreScale selects the display range of a score.
type ScoreScale string

const (
	ScaleTen     ScoreScale = "ten"
	ScalePercent ScoreScale = "percent"
)

// Max returns the upper bound of the scale.
func (s ScoreScale) Max() float64 {
	if s == ScalePercent {
		return 100
	}
	return 10
}

// ComputeScore returns yes answers over answered items, scaled to the range
// and rounded to two decimals. Unanswered items are ignored; an audit with
// nothing answered scores zero.
func ComputeScore(items []AuditItem, scale ScoreScale) float64 {
	yes, answered := tally(items)
	if answered == 0 {
		return 0
	}
	return round2(float64(yes) / float64(answered) * scale.Max())
}

// SensoScore is the per-category tally of an audit.
type SensoScore struct {
	Senso    Senso   `json:"senso"`
	Yes      int     `json:"yes"`
	Answered int     `json:"answered"`
	Total    int     `json:"total"`
	Score    float64 `json:"score"`
}

// SensoBreakdown scores each senso separately, in methodology order.
func SensoBreakdown(items []AuditItem, scale ScoreScale) []SensoScore {
	grouped := make(map[Senso][]AuditItem)
	for _, item := range items {
		grouped[item.Senso] = append(grouped[item.Senso], item)
	}

	out := make([]SensoScore, 0, len(Sensos))
	for _, senso := range Sensos {
		group := grouped[senso]
		yes, answered := tally(group)
		out = append(out, SensoScore{
			Senso:    senso,
			Yes:      yes,
			Answered: answered,
			Total:    len(group),
			Score:    ComputeScore(group, scale),
		})
	}
	return out
}

func tally(items []AuditItem) (yes, answered int) {
	for _, item := range items {
		if item.Answer == nil {
			continue
		}
		answered++
		if *item.Answer {
			yes++
		}
	}
	return yes, answered
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
