package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
)

// ListEnvironments returns every environment of a company.
func (s *Service) ListEnvironments(ctx context.Context, companyID string) ([]models.Environment, error) {
	if _, err := s.requireAccess(companyID); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableEnvironments)
	return cache.ListByIndex[models.Environment](ctx, s.cache, cache.StoreEnvironments, companyID), nil
}

// EnvironmentTree returns the location hierarchy of a company.
func (s *Service) EnvironmentTree(ctx context.Context, companyID string) ([]*models.EnvironmentNode, error) {
	envs, err := s.ListEnvironments(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return models.BuildTree(envs), nil
}

// CreateEnvironment adds a node to a company's location tree.
func (s *Service) CreateEnvironment(ctx context.Context, env *models.Environment) (*models.Environment, error) {
	if _, err := s.requireManage(env.CompanyID); err != nil {
		return nil, err
	}
	env.Name = strings.TrimSpace(env.Name)
	if env.Name == "" || len(env.Name) > maxNameLength {
		return nil, fmt.Errorf("%w: invalid name", e.ErrInvalidInput)
	}

	var parent *models.Environment
	refs := []string{env.CompanyID}
	if env.ParentID != nil && *env.ParentID != "" {
		p, err := load[models.Environment](ctx, s, models.TableEnvironments, *env.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
		parent = p
		refs = append(refs, p.ID)
	} else {
		env.ParentID = nil
	}
	if err := env.ValidateParent(parent); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
	}
	if parent == nil && s.hasRoot(ctx, env.CompanyID) {
		return nil, fmt.Errorf("%w: company already has a root environment", e.ErrConflict)
	}

	now := s.now().UTC()
	env.ID = s.newID(refs...)
	env.CreatedAt = now
	env.UpdatedAt = now

	if err := s.write(ctx, models.OpCreate, models.TableEnvironments, env, nil, refs...); err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	return env, nil
}

func (s *Service) hasRoot(ctx context.Context, companyID string) bool {
	for _, env := range cache.ListByIndex[models.Environment](ctx, s.cache, cache.StoreEnvironments, companyID) {
		if env.ParentID == nil {
			return true
		}
	}
	return false
}

// UpdateEnvironment renames or re-describes a node.
func (s *Service) UpdateEnvironment(ctx context.Context, update *models.EnvironmentUpdate) (*models.Environment, error) {
	env, err := load[models.Environment](ctx, s, models.TableEnvironments, update.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManage(env.CompanyID); err != nil {
		return nil, err
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: invalid name", e.ErrInvalidInput)
		}
		update.Name = &name
	}

	fields := update.Apply(env)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", e.ErrInvalidInput)
	}
	env.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, models.OpUpdate, models.TableEnvironments, env, append(fields, "updated_at")); err != nil {
		return nil, fmt.Errorf("failed to update environment: %w", err)
	}
	return env, nil
}
