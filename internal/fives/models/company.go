package models

import (
	"time"
)

// CompanyStatus is the soft on/off switch for a company. Companies are never hard-deleted.
type CompanyStatus string

const (
	CompanyActive   CompanyStatus = "active"
	CompanyInactive CompanyStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s CompanyStatus) Valid() bool {
	return s == CompanyActive || s == CompanyInactive
}

// Company defines the domain model for an audited organisation.
type Company struct {
	// ID is the unique identifier for the company.
	ID string `gorm:"primaryKey;size:64" json:"id"`
	// Name is the company's display name.
	Name string `gorm:"size:200;not null" json:"name"`
	// Status toggles the company between active and inactive.
	Status CompanyStatus `gorm:"size:16;not null" json:"status"`
	// ContactName is the person responsible for the 5S program.
	ContactName string `gorm:"size:200" json:"contact_name"`
	Email       string `gorm:"size:320" json:"email"`
	Phone       string `gorm:"size:64" json:"phone"`
	Address     string `gorm:"size:500" json:"address"`
	// CreatedAt records the timestamp when the company was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt records the timestamp when the company was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Company) RecordID() string      { return c.ID }
func (c *Company) SetRecordID(id string) { c.ID = id }
func (c *Company) IndexKey() string      { return c.ID }

// CompanyUpdate represents the fields that can be updated for a Company.
// Pointer types are used to allow partial updates.
type CompanyUpdate struct {
	ID          string
	Name        *string
	ContactName *string
	Email       *string
	Phone       *string
	Address     *string
}

// Apply copies the set fields onto c and returns the changed column names.
func (u *CompanyUpdate) Apply(c *Company) []string {
	var fields []string
	if u.Name != nil {
		c.Name = *u.Name
		fields = append(fields, "name")
	}
	if u.ContactName != nil {
		c.ContactName = *u.ContactName
		fields = append(fields, "contact_name")
	}
	if u.Email != nil {
		c.Email = *u.Email
		fields = append(fields, "email")
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
		fields = append(fields, "phone")
	}
	if u.Address != nil {
		c.Address = *u.Address
		fields = append(fields, "address")
	}
	return fields
}
