package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/remote"
	"go.uber.org/zap"
)

// ListCriteria returns a company's criteria, by senso then title.
func (s *Service) ListCriteria(ctx context.Context, companyID string) ([]models.Criterion, error) {
	if _, err := s.requireAccess(companyID); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableCompanyCriteria)
	criteria := cache.ListByIndex[models.Criterion](ctx, s.cache, cache.StoreCriteria, companyID)
	sortCriteria(criteria)
	return criteria, nil
}

// ListMasterCriteria returns the active platform library.
func (s *Service) ListMasterCriteria(ctx context.Context) ([]models.Criterion, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableMasterCriteria)
	all := cache.List[models.Criterion](ctx, s.cache, cache.StoreMasterCriteria)
	active := all[:0]
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	sortCriteria(active)
	return active, nil
}

func sortCriteria(criteria []models.Criterion) {
	sort.SliceStable(criteria, func(i, j int) bool {
		a, b := sensoIndex(criteria[i].Senso), sensoIndex(criteria[j].Senso)
		if a != b {
			return a < b
		}
		return criteria[i].Title < criteria[j].Title
	})
}

func sensoIndex(s models.Senso) int {
	for i, known := range models.Sensos {
		if known == s {
			return i
		}
	}
	return len(models.Sensos)
}

// CreateCriterion adds a custom criterion to a company library.
func (s *Service) CreateCriterion(ctx context.Context, c *models.Criterion) (*models.Criterion, error) {
	if _, err := s.requireManage(c.CompanyID); err != nil {
		return nil, err
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" || len(c.Title) > 300 {
		return nil, fmt.Errorf("%w: invalid title", e.ErrInvalidInput)
	}
	if !c.Senso.Valid() {
		return nil, fmt.Errorf("%w: unknown senso %q", e.ErrInvalidInput, c.Senso)
	}
	if c.Weight == 0 {
		c.Weight = 1
	}
	if c.Weight < 1 {
		return nil, fmt.Errorf("%w: weight must be at least 1", e.ErrInvalidInput)
	}

	now := s.now().UTC()
	c.ID = s.newID(c.CompanyID)
	c.ScoringType = models.ScoringYesNo
	c.Origin = models.OriginCustom
	c.MasterID = nil
	c.Active = true
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.write(ctx, models.OpCreate, models.TableCompanyCriteria, c, nil, c.CompanyID); err != nil {
		return nil, fmt.Errorf("failed to create criterion: %w", err)
	}
	return c, nil
}

// UpdateCriterion edits a company criterion.
func (s *Service) UpdateCriterion(ctx context.Context, update *models.CriterionUpdate) (*models.Criterion, error) {
	c, err := load[models.Criterion](ctx, s, models.TableCompanyCriteria, update.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManage(c.CompanyID); err != nil {
		return nil, err
	}
	if update.Weight != nil && *update.Weight < 1 {
		return nil, fmt.Errorf("%w: weight must be at least 1", e.ErrInvalidInput)
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return nil, fmt.Errorf("%w: invalid title", e.ErrInvalidInput)
	}

	fields := update.Apply(c)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", e.ErrInvalidInput)
	}
	c.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, models.OpUpdate, models.TableCompanyCriteria, c, append(fields, "updated_at")); err != nil {
		return nil, fmt.Errorf("failed to update criterion: %w", err)
	}
	return c, nil
}

// AdoptMasterCriteria copies platform criteria into a company library.
// Criteria the company already adopted are returned as they are.
func (s *Service) AdoptMasterCriteria(ctx context.Context, companyID string, masterIDs []string) ([]models.Criterion, error) {
	if _, err := s.requireManage(companyID); err != nil {
		return nil, err
	}
	if len(masterIDs) == 0 {
		return nil, fmt.Errorf("%w: no criteria selected", e.ErrInvalidInput)
	}

	adopted := make(map[string]models.Criterion)
	for _, c := range cache.ListByIndex[models.Criterion](ctx, s.cache, cache.StoreCriteria, companyID) {
		if c.MasterID != nil {
			adopted[*c.MasterID] = c
		}
	}

	out := make([]models.Criterion, 0, len(masterIDs))
	for _, masterID := range masterIDs {
		if existing, ok := adopted[masterID]; ok {
			out = append(out, existing)
			continue
		}
		master, err := load[models.Criterion](ctx, s, models.TableMasterCriteria, masterID)
		if err != nil {
			return out, err
		}

		now := s.now().UTC()
		id := master.ID
		c := &models.Criterion{
			ID:          s.newID(companyID),
			CompanyID:   companyID,
			Senso:       master.Senso,
			Title:       master.Title,
			Description: master.Description,
			Weight:      master.Weight,
			ScoringType: master.ScoringType,
			Origin:      models.OriginPlatform,
			MasterID:    &id,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.write(ctx, models.OpCreate, models.TableCompanyCriteria, c, nil, companyID); err != nil {
			return out, fmt.Errorf("failed to adopt criterion %s: %w", masterID, err)
		}
		adopted[masterID] = *c
		out = append(out, *c)
	}
	return out, nil
}

// LinkCriterion applies a company criterion to an environment. Linking twice
// returns the existing link.
func (s *Service) LinkCriterion(ctx context.Context, environmentID, criterionID string) (*models.EnvironmentCriterion, error) {
	env, err := load[models.Environment](ctx, s, models.TableEnvironments, environmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManage(env.CompanyID); err != nil {
		return nil, err
	}
	criterion, err := load[models.Criterion](ctx, s, models.TableCompanyCriteria, criterionID)
	if err != nil {
		return nil, err
	}
	if criterion.CompanyID != env.CompanyID {
		return nil, fmt.Errorf("%w: criterion belongs to another company", e.ErrInvalidInput)
	}

	for _, link := range cache.ListByIndex[models.EnvironmentCriterion](ctx, s.cache, cache.StoreEnvironmentCriteria, environmentID) {
		if link.CriterionID == criterionID {
			return &link, nil
		}
	}

	refs := []string{env.CompanyID, env.ID, criterion.ID}
	link := &models.EnvironmentCriterion{
		ID:            s.newID(refs...),
		CompanyID:     env.CompanyID,
		EnvironmentID: env.ID,
		CriterionID:   criterion.ID,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.write(ctx, models.OpCreate, models.TableEnvironmentCriteria, link, nil, refs...); err != nil {
		return nil, fmt.Errorf("failed to link criterion: %w", err)
	}
	return link, nil
}

// ListEnvironmentCriteria returns the criteria linked to an environment.
func (s *Service) ListEnvironmentCriteria(ctx context.Context, environmentID string) ([]models.Criterion, error) {
	env, err := load[models.Environment](ctx, s, models.TableEnvironments, environmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireAccess(env.CompanyID); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableEnvironmentCriteria)

	links := cache.ListByIndex[models.EnvironmentCriterion](ctx, s.cache, cache.StoreEnvironmentCriteria, environmentID)
	criteria := make([]models.Criterion, 0, len(links))
	for _, link := range links {
		var c models.Criterion
		if s.cache.Get(ctx, cache.StoreCriteria, link.CriterionID, &c) {
			criteria = append(criteria, c)
		}
	}
	sortCriteria(criteria)
	return criteria, nil
}

// ListModels returns the platform audit models and, when online, the
// company's own models.
func (s *Service) ListModels(ctx context.Context, companyID string) ([]models.AuditModel, error) {
	if _, err := s.requireAccess(companyID); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableMasterModels)
	out := cache.List[models.AuditModel](ctx, s.cache, cache.StoreMasterModels)

	if s.syncer.Online() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
		defer cancel()
		recs, err := s.remote.Fetch(fetchCtx, models.TableCompanyModels, remote.Scope{CompanyIDs: []string{companyID}})
		if err != nil {
			s.logger.Warn("Failed to fetch company models", zap.String("company_id", companyID), zap.Error(err))
		}
		for _, rec := range recs {
			if m, ok := rec.(*models.AuditModel); ok {
				out = append(out, *m)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateModel saves a company audit model.
func (s *Service) CreateModel(ctx context.Context, m *models.AuditModel) (*models.AuditModel, error) {
	if _, err := s.requireManage(m.CompanyID); err != nil {
		return nil, err
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" || len(m.Name) > maxNameLength {
		return nil, fmt.Errorf("%w: invalid name", e.ErrInvalidInput)
	}
	if len(m.CriterionIDs) == 0 {
		return nil, fmt.Errorf("%w: a model needs at least one criterion", e.ErrInvalidInput)
	}

	now := s.now().UTC()
	refs := append([]string{m.CompanyID}, m.CriterionIDs...)
	m.ID = s.newID(refs...)
	m.CreatedAt = now
	m.UpdatedAt = now
	if err := s.write(ctx, models.OpCreate, models.TableCompanyModels, m, nil, refs...); err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return m, nil
}
