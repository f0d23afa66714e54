package models

import (
	"time"
)

// AuthSnapshot is the signed-in identity persisted locally so the service
// stays usable while offline.
type AuthSnapshot struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	CompanyIDs     []string  `json:"company_ids"`
	EnvironmentIDs []string  `json:"environment_ids"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	CachedAt       time.Time `json:"cached_at"`
}

func (s *AuthSnapshot) RecordID() string    { return "current" }
func (s *AuthSnapshot) SetRecordID(_ string) {}
func (s *AuthSnapshot) IndexKey() string    { return s.UserID }
