// Package models defines the domain entities shared by the remote store, the
// local cache and the sync queue. JSON field names match database column
// names so a payload can be replayed against any table without a mapping.
package models

// Remote table names.
const (
	TableCompanies           = "companies"
	TableEnvironments        = "environments"
	TableCompanyCriteria     = "company_criteria"
	TableMasterCriteria      = "master_criteria"
	TableCompanyModels       = "company_models"
	TableMasterModels        = "master_models"
	TableAudits              = "audits"
	TableAuditItems          = "audit_items"
	TableUserRoles           = "user_roles"
	TableUserCompanies       = "user_companies"
	TableUserEnvironments    = "user_environments"
	TableProfiles            = "profiles"
	TableEnvironmentCriteria = "environment_criteria"
)

// Record is implemented by every entity that can be cached or replayed.
type Record interface {
	// RecordID returns the primary key.
	RecordID() string
	// SetRecordID replaces the primary key, used when a temporary id is reconciled.
	SetRecordID(id string)
	// IndexKey returns the secondary index value used by the local cache.
	IndexKey() string
}
