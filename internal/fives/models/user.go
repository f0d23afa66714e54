package models

import (
	"time"
)

// Role scopes what a signed-in user may see and do.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleCompanyAdmin  Role = "company_admin"
	RoleAuditor       Role = "auditor"
)

func (r Role) Valid() bool {
	return r == RolePlatformAdmin || r == RoleCompanyAdmin || r == RoleAuditor
}

type UserRole struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	Role      Role      `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *UserRole) RecordID() string      { return r.ID }
func (r *UserRole) SetRecordID(id string) { r.ID = id }
func (r *UserRole) IndexKey() string      { return r.UserID }

type UserCompany struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	CompanyID string    `gorm:"size:64;index;not null" json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *UserCompany) RecordID() string      { return u.ID }
func (u *UserCompany) SetRecordID(id string) { u.ID = id }
func (u *UserCompany) IndexKey() string      { return u.CompanyID }

type UserEnvironment struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	UserID        string    `gorm:"size:64;index;not null" json:"user_id"`
	EnvironmentID string    `gorm:"size:64;not null" json:"environment_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u *UserEnvironment) RecordID() string      { return u.ID }
func (u *UserEnvironment) SetRecordID(id string) { u.ID = id }
func (u *UserEnvironment) IndexKey() string      { return u.UserID }

// Profile carries the display identity of a user. Its ID is the user id.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Email     string    `gorm:"size:320;uniqueIndex" json:"email"`
	FullName  string    `gorm:"size:200" json:"full_name"`
	Phone     string    `gorm:"size:64" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Profile) RecordID() string      { return p.ID }
func (p *Profile) SetRecordID(id string) { p.ID = id }
func (p *Profile) IndexKey() string      { return p.Email }

// CompanyUser is a profile joined with its role inside one company.
type CompanyUser struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      Role   `json:"role"`
	CompanyID string `json:"company_id"`
}
