package cache

import (
	"github.com/gartstein/fives/internal/fives/models"
)

// Object store names.
const (
	StoreAudits              = "audits"
	StoreAuditItems          = "auditItems"
	StoreCriteria            = "criteria"
	StoreEnvironments        = "environments"
	StoreCompanies           = "companies"
	StoreMasterCriteria      = "master_criteria"
	StoreMasterModels        = "master_models"
	StoreAuthCache           = "authCache"
	StoreUserRoles           = "user_roles"
	StoreAppMetadata         = "appMetadata"
	StoreUserCompanies       = "user_companies"
	StoreEnvironmentCriteria = "environment_criteria"
	// StorePendingSync names the queue; its rows live in the pending_sync table.
	StorePendingSync = "pendingSync"
)

var knownStores = map[string]bool{
	StoreAudits:              true,
	StoreAuditItems:          true,
	StoreCriteria:            true,
	StoreEnvironments:        true,
	StoreCompanies:           true,
	StoreMasterCriteria:      true,
	StoreMasterModels:        true,
	StoreAuthCache:           true,
	StoreUserRoles:           true,
	StoreAppMetadata:         true,
	StoreUserCompanies:       true,
	StoreEnvironmentCriteria: true,
}

// mirrored maps remote tables onto the stores that cache them.
var mirrored = map[string]string{
	models.TableAudits:              StoreAudits,
	models.TableAuditItems:          StoreAuditItems,
	models.TableCompanyCriteria:     StoreCriteria,
	models.TableEnvironments:        StoreEnvironments,
	models.TableCompanies:           StoreCompanies,
	models.TableMasterCriteria:      StoreMasterCriteria,
	models.TableMasterModels:        StoreMasterModels,
	models.TableUserRoles:           StoreUserRoles,
	models.TableUserCompanies:       StoreUserCompanies,
	models.TableEnvironmentCriteria: StoreEnvironmentCriteria,
}

// MirroredTables lists the remote tables refreshed into the cache, parents first.
var MirroredTables = []string{
	models.TableCompanies,
	models.TableEnvironments,
	models.TableMasterCriteria,
	models.TableMasterModels,
	models.TableCompanyCriteria,
	models.TableEnvironmentCriteria,
	models.TableAudits,
	models.TableAuditItems,
	models.TableUserRoles,
	models.TableUserCompanies,
}

// StoreForTable returns the store mirroring a remote table.
func StoreForTable(table string) (string, bool) {
	store, ok := mirrored[table]
	return store, ok
}
