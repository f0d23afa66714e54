package handlers

import (
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/session"
)

type companyRequest struct {
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

func (r *companyRequest) toModel() *models.Company {
	return &models.Company{
		Name:        r.Name,
		ContactName: r.ContactName,
		Email:       r.Email,
		Phone:       r.Phone,
		Address:     r.Address,
	}
}

type companyPatch struct {
	Name        *string `json:"name"`
	ContactName *string `json:"contact_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
}

func (p *companyPatch) toUpdate(id string) *models.CompanyUpdate {
	return &models.CompanyUpdate{
		ID:          id,
		Name:        p.Name,
		ContactName: p.ContactName,
		Email:       p.Email,
		Phone:       p.Phone,
		Address:     p.Address,
	}
}

type companyStatusRequest struct {
	Status models.CompanyStatus `json:"status"`
}

type environmentRequest struct {
	CompanyID   string                  `json:"company_id"`
	ParentID    *string                 `json:"parent_id"`
	Name        string                  `json:"name"`
	Level       models.EnvironmentLevel `json:"level"`
	Description string                  `json:"description"`
}

func (r *environmentRequest) toModel() *models.Environment {
	return &models.Environment{
		CompanyID:   r.CompanyID,
		ParentID:    r.ParentID,
		Name:        r.Name,
		Level:       r.Level,
		Description: r.Description,
	}
}

type environmentPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (p *environmentPatch) toUpdate(id string) *models.EnvironmentUpdate {
	return &models.EnvironmentUpdate{ID: id, Name: p.Name, Description: p.Description}
}

type criterionRequest struct {
	CompanyID   string       `json:"company_id"`
	Senso       models.Senso `json:"senso"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Weight      int          `json:"weight"`
}

func (r *criterionRequest) toModel() *models.Criterion {
	return &models.Criterion{
		CompanyID:   r.CompanyID,
		Senso:       r.Senso,
		Title:       r.Title,
		Description: r.Description,
		Weight:      r.Weight,
	}
}

type criterionPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Weight      *int    `json:"weight"`
	Active      *bool   `json:"active"`
}

func (p *criterionPatch) toUpdate(id string) *models.CriterionUpdate {
	return &models.CriterionUpdate{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Weight:      p.Weight,
		Active:      p.Active,
	}
}

type adoptRequest struct {
	MasterIDs []string `json:"master_ids"`
}

type linkRequest struct {
	CriterionID string `json:"criterion_id"`
}

type modelRequest struct {
	CompanyID    string   `json:"company_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	CriterionIDs []string `json:"criterion_ids"`
}

func (r *modelRequest) toModel() *models.AuditModel {
	return &models.AuditModel{
		CompanyID:    r.CompanyID,
		Name:         r.Name,
		Description:  r.Description,
		CriterionIDs: r.CriterionIDs,
	}
}

type startAuditRequest struct {
	EnvironmentID string `json:"environment_id"`
	ModelID       string `json:"model_id"`
}

type answerRequest struct {
	Answer  *bool  `json:"answer"`
	Comment string `json:"comment"`
}

type assignRequest struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

type deleteUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type signInRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	UserID     string      `json:"user_id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Role       models.Role `json:"role"`
	CompanyIDs []string    `json:"company_ids"`
}

func sessionToResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		UserID:     s.UserID,
		Email:      s.Email,
		Name:       s.Name,
		Role:       s.Role,
		CompanyIDs: s.CompanyIDs,
	}
}
