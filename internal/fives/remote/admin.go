package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewCompanyUser describes a user account created on behalf of a company.
type NewCompanyUser struct {
	Email     string
	FullName  string
	Phone     string
	CompanyID string
	Role      models.Role
}

// CreateCompanyUser creates the profile, role and company membership of a
// new user in one transaction.
func (r *Repository) CreateCompanyUser(ctx context.Context, in NewCompanyUser) (*models.CompanyUser, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", e.ErrInvalidInput)
	}
	if in.CompanyID == "" || !in.Role.Valid() || in.Role == models.RolePlatformAdmin {
		return nil, fmt.Errorf("%w: company user needs a company and a company role", e.ErrInvalidInput)
	}

	profile := &models.Profile{ID: ids.New(), Email: email, FullName: in.FullName, Phone: in.Phone}
	err := r.WithTransaction(ctx, func(repo *Repository) error {
		var company models.Company
		if err := repo.db.Table(models.TableCompanies).First(&company, "id = ?", in.CompanyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: company %s", e.ErrNotFound, in.CompanyID)
			}
			return err
		}
		if err := repo.db.Table(models.TableProfiles).Create(profile).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s already registered", e.ErrConflict, email)
			}
			return err
		}
		if err := repo.db.Table(models.TableUserRoles).Create(&models.UserRole{
			ID: ids.New(), UserID: profile.ID, Role: in.Role,
		}).Error; err != nil {
			return err
		}
		return repo.db.Table(models.TableUserCompanies).Create(&models.UserCompany{
			ID: ids.New(), UserID: profile.ID, CompanyID: in.CompanyID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Company user created",
		zap.String("user_id", profile.ID),
		zap.String("company_id", in.CompanyID),
		zap.String("role", string(in.Role)),
	)
	return &models.CompanyUser{
		UserID:    profile.ID,
		Email:     profile.Email,
		FullName:  profile.FullName,
		Role:      in.Role,
		CompanyID: in.CompanyID,
	}, nil
}

// ListCompanyUsers returns users holding role in the given companies. An
// empty role matches every role.
func (r *Repository) ListCompanyUsers(ctx context.Context, companyIDs []string, role models.Role) ([]models.CompanyUser, error) {
	query := r.db.WithContext(ctx).
		Table(models.TableUserCompanies+" AS uc").
		Select("p.id AS user_id, p.email, p.full_name, ur.role, uc.company_id").
		Joins("JOIN "+models.TableProfiles+" AS p ON p.id = uc.user_id").
		Joins("JOIN "+models.TableUserRoles+" AS ur ON ur.user_id = uc.user_id").
		Where("uc.company_id IN ?", companyIDs)
	if role != "" {
		query = query.Where("ur.role = ?", role)
	}

	var users []models.CompanyUser
	if err := query.Order("p.full_name, uc.company_id").Scan(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list company users: %w", err)
	}
	return users, nil
}

// ListAuditors returns the auditors of every given company.
func (r *Repository) ListAuditors(ctx context.Context, companyIDs []string) ([]models.CompanyUser, error) {
	return r.ListCompanyUsers(ctx, companyIDs, models.RoleAuditor)
}

// DeleteUsers removes users together with their roles and memberships.
// It returns how many profiles were deleted.
func (r *Repository) DeleteUsers(ctx context.Context, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	err := r.WithTransaction(ctx, func(repo *Repository) error {
		for _, table := range []string{models.TableUserRoles, models.TableUserCompanies, models.TableUserEnvironments} {
			if err := repo.db.Table(table).Where("user_id IN ?", userIDs).Delete(tables[table].model()).Error; err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		result := repo.db.Table(models.TableProfiles).Where("id IN ?", userIDs).Delete(&models.Profile{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete users: %w", err)
	}
	return deleted, nil
}

// UpsertMasterCriteria writes the platform criteria library, replacing
// titles, weights and descriptions of criteria that already exist.
func (r *Repository) UpsertMasterCriteria(ctx context.Context, criteria []models.Criterion) error {
	if len(criteria) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Table(models.TableMasterCriteria).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"senso", "title", "description", "weight", "active", "updated_at"}),
	}).Create(&criteria).Error
}

// UpsertMasterModels writes the platform audit models.
func (r *Repository) UpsertMasterModels(ctx context.Context, auditModels []models.AuditModel) error {
	if len(auditModels) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Table(models.TableMasterModels).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "criterion_ids", "updated_at"}),
	}).Create(&auditModels).Error
}
