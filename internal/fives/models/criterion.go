package models

import (
	"time"
)

// Senso is one of the five 5S categories.
type Senso string

const (
	Seiri    Senso = "seiri"
	Seiton   Senso = "seiton"
	Seiso    Senso = "seiso"
	Seiketsu Senso = "seiketsu"
	Shitsuke Senso = "shitsuke"
)

// Sensos lists the categories in methodology order.
var Sensos = []Senso{Seiri, Seiton, Seiso, Seiketsu, Shitsuke}

func (s Senso) Valid() bool {
	for _, known := range Sensos {
		if s == known {
			return true
		}
	}
	return false
}

// CriterionOrigin tells platform-provided criteria from company-authored ones.
type CriterionOrigin string

const (
	OriginPlatform CriterionOrigin = "platform"
	OriginCustom   CriterionOrigin = "custom"
)

// ScoringYesNo is the only scoring type audits currently evaluate.
const ScoringYesNo = "yes_no"

// Criterion is an evaluable statement. Master criteria have an empty CompanyID
// and live in master_criteria; company criteria live in company_criteria.
type Criterion struct {
	ID          string          `gorm:"primaryKey;size:64" json:"id"`
	CompanyID   string          `gorm:"size:64;index" json:"company_id"`
	Senso       Senso           `gorm:"size:16;not null" json:"senso"`
	Title       string          `gorm:"size:300;not null" json:"title"`
	Description string          `gorm:"size:2000" json:"description"`
	Weight      int             `gorm:"not null" json:"weight"`
	ScoringType string          `gorm:"size:16;not null" json:"scoring_type"`
	Origin      CriterionOrigin `gorm:"size:16;not null" json:"origin"`
	MasterID    *string         `gorm:"size:64" json:"master_id"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (c *Criterion) RecordID() string      { return c.ID }
func (c *Criterion) SetRecordID(id string) { c.ID = id }
func (c *Criterion) IndexKey() string      { return c.CompanyID }

// CriterionUpdate holds the editable criterion fields.
type CriterionUpdate struct {
	ID          string
	Title       *string
	Description *string
	Weight      *int
	Active      *bool
}

// Apply copies the set fields onto c and returns the changed column names.
func (u *CriterionUpdate) Apply(c *Criterion) []string {
	var fields []string
	if u.Title != nil {
		c.Title = *u.Title
		fields = append(fields, "title")
	}
	if u.Description != nil {
		c.Description = *u.Description
		fields = append(fields, "description")
	}
	if u.Weight != nil {
		c.Weight = *u.Weight
		fields = append(fields, "weight")
	}
	if u.Active != nil {
		c.Active = *u.Active
		fields = append(fields, "active")
	}
	return fields
}

// EnvironmentCriterion links a criterion to the environment it applies to.
type EnvironmentCriterion struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CompanyID     string    `gorm:"size:64;index" json:"company_id"`
	EnvironmentID string    `gorm:"size:64;index;not null" json:"environment_id"`
	CriterionID   string    `gorm:"size:64;not null" json:"criterion_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (l *EnvironmentCriterion) RecordID() string      { return l.ID }
func (l *EnvironmentCriterion) SetRecordID(id string) { l.ID = id }
func (l *EnvironmentCriterion) IndexKey() string      { return l.EnvironmentID }

// AuditModel is a named template selecting which criteria an audit evaluates.
type AuditModel struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	CompanyID    string    `gorm:"size:64;index" json:"company_id"`
	Name         string    `gorm:"size:200;not null" json:"name"`
	Description  string    `gorm:"size:2000" json:"description"`
	CriterionIDs []string  `gorm:"serializer:json" json:"criterion_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m *AuditModel) RecordID() string      { return m.ID }
func (m *AuditModel) SetRecordID(id string) { m.ID = id }
func (m *AuditModel) IndexKey() string      { return m.CompanyID }
