package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
)

const maxNameLength = 200

// ListCompanies returns the companies the user can see, by name.
func (s *Service) ListCompanies(ctx context.Context) ([]models.Company, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	s.refreshLater(models.TableCompanies)

	all := cache.List[models.Company](ctx, s.cache, cache.StoreCompanies)
	companies := all[:0]
	for _, c := range all {
		if sess.CanAccessCompany(c.ID) {
			companies = append(companies, c)
		}
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].Name < companies[j].Name })
	return companies, nil
}

// GetCompany retrieves a company by id.
func (s *Service) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	if _, err := s.requireAccess(id); err != nil {
		return nil, err
	}
	return load[models.Company](ctx, s, models.TableCompanies, id)
}

// CreateCompany adds a company. Only platform admins create companies.
func (s *Service) CreateCompany(ctx context.Context, company *models.Company) (*models.Company, error) {
	if _, err := s.requirePlatformAdmin(); err != nil {
		return nil, err
	}
	company.Name = strings.TrimSpace(company.Name)
	if company.Name == "" || len(company.Name) > maxNameLength {
		return nil, fmt.Errorf("%w: invalid name", e.ErrInvalidInput)
	}
	if company.Status == "" {
		company.Status = models.CompanyActive
	}
	if !company.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", e.ErrInvalidInput, company.Status)
	}

	now := s.now().UTC()
	company.ID = s.newID()
	company.CreatedAt = now
	company.UpdatedAt = now

	if err := s.write(ctx, models.OpCreate, models.TableCompanies, company, nil); err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	return company, nil
}

// UpdateCompany modifies the specified company fields.
func (s *Service) UpdateCompany(ctx context.Context, update *models.CompanyUpdate) (*models.Company, error) {
	if update.ID == "" {
		return nil, fmt.Errorf("%w: invalid company ID", e.ErrInvalidInput)
	}
	if _, err := s.requireManage(update.ID); err != nil {
		return nil, err
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: invalid name", e.ErrInvalidInput)
		}
		update.Name = &name
	}

	company, err := load[models.Company](ctx, s, models.TableCompanies, update.ID)
	if err != nil {
		return nil, err
	}
	fields := update.Apply(company)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", e.ErrInvalidInput)
	}
	company.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, models.OpUpdate, models.TableCompanies, company, append(fields, "updated_at")); err != nil {
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	return company, nil
}

// SetCompanyStatus activates or deactivates a company. Companies are never deleted.
func (s *Service) SetCompanyStatus(ctx context.Context, id string, status models.CompanyStatus) (*models.Company, error) {
	if _, err := s.requirePlatformAdmin(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", e.ErrInvalidInput, status)
	}

	company, err := load[models.Company](ctx, s, models.TableCompanies, id)
	if err != nil {
		return nil, err
	}
	if company.Status == status {
		return company, nil
	}
	company.Status = status
	company.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, models.OpUpdate, models.TableCompanies, company, []string{"status", "updated_at"}); err != nil {
		return nil, fmt.Errorf("failed to set company status: %w", err)
	}
	return company, nil
}
