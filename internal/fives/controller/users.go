package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/notify"
	"github.com/gartstein/fives/internal/fives/remote"
	"go.uber.org/zap"
)

// Assignment is the result of granting a user a role inside a company.
type Assignment struct {
	Role       models.UserRole    `json:"role"`
	Membership models.UserCompany `json:"membership"`
}

// AssignUser gives an existing user a role and membership in a company.
// Platform admins cannot be created this way.
func (s *Service) AssignUser(ctx context.Context, userID, companyID string, role models.Role) (*Assignment, error) {
	if _, err := s.requireManage(companyID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", e.ErrInvalidInput)
	}
	if !role.Valid() || role == models.RolePlatformAdmin {
		return nil, fmt.Errorf("%w: invalid role %q", e.ErrInvalidInput, role)
	}

	now := s.now().UTC()
	userRole := &models.UserRole{ID: s.newID(userID), UserID: userID, Role: role, CreatedAt: now}
	if err := s.write(ctx, models.OpCreate, models.TableUserRoles, userRole, nil, userID); err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}

	refs := []string{userID, companyID}
	membership := &models.UserCompany{ID: s.newID(refs...), UserID: userID, CompanyID: companyID, CreatedAt: now}
	if err := s.write(ctx, models.OpCreate, models.TableUserCompanies, membership, nil, refs...); err != nil {
		return nil, fmt.Errorf("failed to add membership: %w", err)
	}
	return &Assignment{Role: *userRole, Membership: *membership}, nil
}

// ListCompanyUsers returns the members of a company with their roles.
func (s *Service) ListCompanyUsers(ctx context.Context, companyID string) ([]models.CompanyUser, error) {
	if _, err := s.requireAccess(companyID); err != nil {
		return nil, err
	}
	if err := s.requireOnline(); err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
	defer cancel()
	return s.remote.ListCompanyUsers(listCtx, []string{companyID}, "")
}

// NewUser describes an account to create for a company.
type NewUser struct {
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	Phone     string      `json:"phone"`
	CompanyID string      `json:"company_id"`
	Role      models.Role `json:"role"`
}

// CreateCompanyUser registers a user for a company and sends a welcome
// email. A failed email is logged; the user stays created.
func (s *Service) CreateCompanyUser(ctx context.Context, in NewUser) (*models.CompanyUser, error) {
	if _, err := s.requireManage(in.CompanyID); err != nil {
		return nil, err
	}
	if err := s.requireOnline(); err != nil {
		return nil, err
	}

	createCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
	defer cancel()
	user, err := s.remote.CreateCompanyUser(createCtx, remote.NewCompanyUser{
		Email:     in.Email,
		FullName:  in.FullName,
		Phone:     in.Phone,
		CompanyID: in.CompanyID,
		Role:      in.Role,
	})
	if err != nil {
		return nil, err
	}
	s.refreshLater(models.TableUserCompanies)

	if s.notifier != nil {
		msg := notify.Message{
			To:      []string{user.Email},
			Subject: "Your 5S audit account",
			Body:    fmt.Sprintf("Hello %s, an account with role %s was created for you.", user.FullName, user.Role),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("Failed to send welcome email", zap.String("user_id", user.UserID), zap.Error(err))
		}
	}
	return user, nil
}

// ListAuditors returns the auditors of every company the caller can see.
func (s *Service) ListAuditors(ctx context.Context) ([]models.CompanyUser, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := s.requireOnline(); err != nil {
		return nil, err
	}

	companyIDs := sess.CompanyIDs
	if sess.IsPlatformAdmin() {
		companyIDs = nil
		for _, c := range cache.List[models.Company](ctx, s.cache, cache.StoreCompanies) {
			companyIDs = append(companyIDs, c.ID)
		}
	}
	if len(companyIDs) == 0 {
		return nil, nil
	}

	listCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
	defer cancel()
	auditors, err := s.remote.ListAuditors(listCtx, companyIDs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(auditors, func(i, j int) bool { return auditors[i].FullName < auditors[j].FullName })
	return auditors, nil
}

// DeleteUsers removes user accounts. Platform admins only.
func (s *Service) DeleteUsers(ctx context.Context, userIDs []string) (int64, error) {
	sess, err := s.requirePlatformAdmin()
	if err != nil {
		return 0, err
	}
	if err := s.requireOnline(); err != nil {
		return 0, err
	}
	for _, id := range userIDs {
		if id == sess.UserID {
			return 0, fmt.Errorf("%w: cannot delete the signed-in user", e.ErrInvalidInput)
		}
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
	defer cancel()
	deleted, err := s.remote.DeleteUsers(deleteCtx, userIDs)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Users deleted", zap.Int64("count", deleted), zap.String("by", sess.UserID))
	s.refreshLater(models.TableUserRoles)
	s.refreshLater(models.TableUserCompanies)
	return deleted, nil
}

// SendEmail delivers a notification through the webhook.
func (s *Service) SendEmail(ctx context.Context, msg notify.Message) error {
	if _, err := s.current(); err != nil {
		return err
	}
	if err := s.requireOnline(); err != nil {
		return err
	}
	if s.notifier == nil {
		return fmt.Errorf("%w: email is not configured", e.ErrInvalidInput)
	}
	return s.notifier.Send(ctx, msg)
}
