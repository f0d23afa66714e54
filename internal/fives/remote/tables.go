package remote

import (
	"encoding/json"
	"fmt"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"gorm.io/gorm"
)

// Scope narrows a fetch to what the signed-in user may see.
type Scope struct {
	// All is set for platform admins and disables company filtering.
	All        bool
	CompanyIDs []string
}

type tableSpec struct {
	name  string
	model func() any
	// decode turns a queued payload into a record of this table.
	decode func(payload []byte) (models.Record, error)
	fetch  func(db *gorm.DB) ([]models.Record, error)
	// scope restricts a query to the given companies. nil means unscoped.
	scope func(db *gorm.DB, companyIDs []string) *gorm.DB
}

func spec[T any, PT interface {
	*T
	models.Record
}](name string, scope func(db *gorm.DB, companyIDs []string) *gorm.DB) tableSpec {
	return tableSpec{
		name:  name,
		model: func() any { return PT(new(T)) },
		decode: func(payload []byte) (models.Record, error) {
			rec := PT(new(T))
			if err := json.Unmarshal(payload, rec); err != nil {
				return nil, err
			}
			return rec, nil
		},
		fetch: func(db *gorm.DB) ([]models.Record, error) {
			var rows []T
			if err := db.Order("id").Find(&rows).Error; err != nil {
				return nil, err
			}
			out := make([]models.Record, len(rows))
			for i := range rows {
				out[i] = PT(&rows[i])
			}
			return out, nil
		},
		scope: scope,
	}
}

func byCompany(db *gorm.DB, companyIDs []string) *gorm.DB {
	return db.Where("company_id IN ?", companyIDs)
}

func byCompanyID(db *gorm.DB, companyIDs []string) *gorm.DB {
	return db.Where("id IN ?", companyIDs)
}

func byAudit(db *gorm.DB, companyIDs []string) *gorm.DB {
	return db.Where("audit_id IN (?)",
		db.Session(&gorm.Session{NewDB: true}).Table(models.TableAudits).Select("id").Where("company_id IN ?", companyIDs))
}

func byMember(db *gorm.DB, companyIDs []string) *gorm.DB {
	return db.Where("user_id IN (?)",
		db.Session(&gorm.Session{NewDB: true}).Table(models.TableUserCompanies).Select("user_id").Where("company_id IN ?", companyIDs))
}

var tables = map[string]tableSpec{
	models.TableCompanies:           spec[models.Company](models.TableCompanies, byCompanyID),
	models.TableEnvironments:        spec[models.Environment](models.TableEnvironments, byCompany),
	models.TableCompanyCriteria:     spec[models.Criterion](models.TableCompanyCriteria, byCompany),
	models.TableMasterCriteria:      spec[models.Criterion](models.TableMasterCriteria, nil),
	models.TableCompanyModels:       spec[models.AuditModel](models.TableCompanyModels, byCompany),
	models.TableMasterModels:        spec[models.AuditModel](models.TableMasterModels, nil),
	models.TableAudits:              spec[models.Audit](models.TableAudits, byCompany),
	models.TableAuditItems:          spec[models.AuditItem](models.TableAuditItems, byAudit),
	models.TableUserRoles:           spec[models.UserRole](models.TableUserRoles, byMember),
	models.TableUserCompanies:       spec[models.UserCompany](models.TableUserCompanies, byCompany),
	models.TableUserEnvironments:    spec[models.UserEnvironment](models.TableUserEnvironments, byMember),
	models.TableProfiles:            spec[models.Profile](models.TableProfiles, byCompanyMemberProfile),
	models.TableEnvironmentCriteria: spec[models.EnvironmentCriterion](models.TableEnvironmentCriteria, byCompany),
}

func byCompanyMemberProfile(db *gorm.DB, companyIDs []string) *gorm.DB {
	return db.Where("id IN (?)",
		db.Session(&gorm.Session{NewDB: true}).Table(models.TableUserCompanies).Select("user_id").Where("company_id IN ?", companyIDs))
}

// Tables returns the names of every table the store knows.
func Tables() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	return names
}

// Receipt remembers an applied operation so a replay of the same
// idempotency key is acknowledged without writing twice.
type Receipt struct {
	IdempotencyKey string `gorm:"primaryKey;size:64"`
	TargetTable    string `gorm:"size:64"`
	RecordID       string `gorm:"size:64"`
	CreatedAt      int64  `gorm:"autoCreateTime"`
}

func (Receipt) TableName() string { return "sync_receipts" }

// Decode parses a queued payload into a record of table.
func Decode(table string, payload []byte) (models.Record, error) {
	spec, err := lookup(table)
	if err != nil {
		return nil, err
	}
	rec, err := spec.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", e.ErrInvalidInput, err)
	}
	return rec, nil
}
