package controller

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/report"
)

// AuditDetail is an audit with its items and per-senso scores.
type AuditDetail struct {
	Audit     models.Audit        `json:"audit"`
	Items     []models.AuditItem  `json:"items"`
	Breakdown []models.SensoScore `json:"breakdown"`
	Score     float64             `json:"score"`
}

// ListAudits returns a company's audits, newest first. Deleted audits are
// left out.
func (s *Service) ListAudits(ctx context.Context, companyID string) ([]models.Audit, error) {
	if _, err := s.requireAccess(companyID); err != nil {
		return nil, err
	}
	s.refreshLater(models.TableAudits)

	all := cache.ListByIndex[models.Audit](ctx, s.cache, cache.StoreAudits, companyID)
	audits := all[:0]
	for _, a := range all {
		if !a.IsDeleted() {
			audits = append(audits, a)
		}
	}
	sort.SliceStable(audits, func(i, j int) bool {
		return audits[i].StartedAt.After(audits[j].StartedAt)
	})
	return audits, nil
}

// GetAudit returns an audit with its items and scores.
func (s *Service) GetAudit(ctx context.Context, id string) (*AuditDetail, error) {
	audit, err := s.loadAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	items := s.auditItems(ctx, id)

	score := models.ComputeScore(items, s.scale)
	if audit.Score != nil {
		score = *audit.Score
	}
	return &AuditDetail{
		Audit:     *audit,
		Items:     items,
		Breakdown: models.SensoBreakdown(items, s.scale),
		Score:     score,
	}, nil
}

func (s *Service) loadAudit(ctx context.Context, id string) (*models.Audit, error) {
	audit, err := load[models.Audit](ctx, s, models.TableAudits, id)
	if err != nil {
		return nil, err
	}
	if audit.IsDeleted() {
		return nil, fmt.Errorf("%w: audit %s", e.ErrNotFound, id)
	}
	if _, err := s.requireAccess(audit.CompanyID); err != nil {
		return nil, err
	}
	return audit, nil
}

// ListAuditItems returns the items of an audit in senso order.
func (s *Service) ListAuditItems(ctx context.Context, auditID string) ([]models.AuditItem, error) {
	if _, err := s.loadAudit(ctx, auditID); err != nil {
		return nil, err
	}
	return s.auditItems(ctx, auditID), nil
}

func (s *Service) auditItems(ctx context.Context, auditID string) []models.AuditItem {
	s.refreshLater(models.TableAuditItems)
	items := cache.ListByIndex[models.AuditItem](ctx, s.cache, cache.StoreAuditItems, auditID)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := sensoIndex(items[i].Senso), sensoIndex(items[j].Senso)
		if a != b {
			return a < b
		}
		return items[i].Question < items[j].Question
	})
	return items
}

// StartAudit opens an audit of an environment. The questions come from the
// model when one is given, else from the criteria linked to the environment,
// else from every active criterion of the company.
func (s *Service) StartAudit(ctx context.Context, environmentID, modelID string) (*AuditDetail, error) {
	env, err := load[models.Environment](ctx, s, models.TableEnvironments, environmentID)
	if err != nil {
		return nil, err
	}
	sess, err := s.requireAccess(env.CompanyID)
	if err != nil {
		return nil, err
	}

	criteria, err := s.auditCriteria(ctx, env, modelID)
	if err != nil {
		return nil, err
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("%w: no criteria to audit", e.ErrInvalidInput)
	}

	now := s.now().UTC()
	refs := []string{env.CompanyID, env.ID}
	audit := &models.Audit{
		ID:            s.newID(refs...),
		CompanyID:     env.CompanyID,
		EnvironmentID: env.ID,
		AuditorID:     sess.UserID,
		Status:        models.AuditInProgress,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.write(ctx, models.OpCreate, models.TableAudits, audit, nil, refs...); err != nil {
		return nil, fmt.Errorf("failed to start audit: %w", err)
	}

	items := make([]models.AuditItem, 0, len(criteria))
	for _, c := range criteria {
		item := &models.AuditItem{
			ID:          s.newID(audit.ID, c.ID),
			AuditID:     audit.ID,
			CriterionID: c.ID,
			Senso:       c.Senso,
			Question:    c.Title,
			Weight:      c.Weight,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.write(ctx, models.OpCreate, models.TableAuditItems, item, nil, audit.ID, c.ID); err != nil {
			return nil, fmt.Errorf("failed to add audit item: %w", err)
		}
		items = append(items, *item)
	}

	return &AuditDetail{
		Audit:     *audit,
		Items:     items,
		Breakdown: models.SensoBreakdown(items, s.scale),
	}, nil
}

func (s *Service) auditCriteria(ctx context.Context, env *models.Environment, modelID string) ([]models.Criterion, error) {
	if modelID != "" {
		model, err := s.loadModel(ctx, modelID)
		if err != nil {
			return nil, err
		}
		criteria := make([]models.Criterion, 0, len(model.CriterionIDs))
		for _, id := range model.CriterionIDs {
			c, err := s.loadCriterion(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", model.Name, err)
			}
			criteria = append(criteria, *c)
		}
		return criteria, nil
	}

	if linked, err := s.ListEnvironmentCriteria(ctx, env.ID); err != nil {
		return nil, err
	} else if len(linked) > 0 {
		return linked, nil
	}

	var active []models.Criterion
	for _, c := range cache.ListByIndex[models.Criterion](ctx, s.cache, cache.StoreCriteria, env.CompanyID) {
		if c.Active {
			active = append(active, c)
		}
	}
	sortCriteria(active)
	return active, nil
}

func (s *Service) loadModel(ctx context.Context, id string) (*models.AuditModel, error) {
	var m models.AuditModel
	if s.cache.Get(ctx, cache.StoreMasterModels, id, &m) {
		return &m, nil
	}
	return load[models.AuditModel](ctx, s, models.TableCompanyModels, id)
}

// loadCriterion looks in the company library first and the platform library
// second, since models may name either.
func (s *Service) loadCriterion(ctx context.Context, id string) (*models.Criterion, error) {
	var c models.Criterion
	if s.cache.Get(ctx, cache.StoreCriteria, id, &c) {
		return &c, nil
	}
	if s.cache.Get(ctx, cache.StoreMasterCriteria, id, &c) {
		return &c, nil
	}
	return load[models.Criterion](ctx, s, models.TableCompanyCriteria, id)
}

// AnswerItem records the auditor's answer to one item.
func (s *Service) AnswerItem(ctx context.Context, itemID string, answer bool, comment string) (*models.AuditItem, error) {
	item, err := load[models.AuditItem](ctx, s, models.TableAuditItems, itemID)
	if err != nil {
		return nil, err
	}
	audit, err := s.loadAudit(ctx, item.AuditID)
	if err != nil {
		return nil, err
	}
	if audit.Status != models.AuditInProgress {
		return nil, fmt.Errorf("%w: audit %s is %s", e.ErrConflict, audit.ID, audit.Status)
	}

	now := s.now().UTC()
	item.Answer = &answer
	item.Comment = comment
	item.AnsweredAt = &now
	item.UpdatedAt = now

	fields := []string{"answer", "comment", "answered_at", "updated_at"}
	if err := s.write(ctx, models.OpUpdate, models.TableAuditItems, item, fields, item.AuditID); err != nil {
		return nil, fmt.Errorf("failed to answer item: %w", err)
	}
	return item, nil
}

// CompleteAudit scores an audit and closes it for answers.
func (s *Service) CompleteAudit(ctx context.Context, id string) (*AuditDetail, error) {
	audit, err := s.loadAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	if audit.Status == models.AuditCompleted {
		return nil, fmt.Errorf("%w: audit %s already completed", e.ErrConflict, id)
	}
	items := s.auditItems(ctx, id)

	now := s.now().UTC()
	score := models.ComputeScore(items, s.scale)
	audit.Score = &score
	audit.Status = models.AuditCompleted
	audit.CompletedAt = &now
	audit.UpdatedAt = now

	fields := []string{"score", "status", "completed_at", "updated_at"}
	if err := s.write(ctx, models.OpUpdate, models.TableAudits, audit, fields); err != nil {
		return nil, fmt.Errorf("failed to complete audit: %w", err)
	}
	return &AuditDetail{
		Audit:     *audit,
		Items:     items,
		Breakdown: models.SensoBreakdown(items, s.scale),
		Score:     score,
	}, nil
}

// DeleteAudit soft-deletes an audit.
func (s *Service) DeleteAudit(ctx context.Context, id string) error {
	audit, err := s.loadAudit(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.requireManage(audit.CompanyID); err != nil {
		return err
	}

	now := s.now().UTC()
	audit.DeletedAt = &now
	audit.UpdatedAt = now
	if err := s.write(ctx, models.OpUpdate, models.TableAudits, audit, []string{"deleted_at", "updated_at"}); err != nil {
		return fmt.Errorf("failed to delete audit: %w", err)
	}
	return nil
}

// ExportAudit writes an xlsx report of one audit.
func (s *Service) ExportAudit(ctx context.Context, id string, w io.Writer) error {
	detail, err := s.GetAudit(ctx, id)
	if err != nil {
		return err
	}
	company, err := load[models.Company](ctx, s, models.TableCompanies, detail.Audit.CompanyID)
	if err != nil {
		return err
	}
	envs := cache.ListByIndex[models.Environment](ctx, s.cache, cache.StoreEnvironments, company.ID)

	return report.WriteAudit(w, report.Audit{
		Company: *company,
		Path:    models.Path(envs, detail.Audit.EnvironmentID),
		Audit:   detail.Audit,
		Items:   detail.Items,
		Scale:   s.scale,
	})
}

// ExportAudits writes an xlsx listing of a company's audits.
func (s *Service) ExportAudits(ctx context.Context, companyID string, w io.Writer) error {
	audits, err := s.ListAudits(ctx, companyID)
	if err != nil {
		return err
	}
	company, err := load[models.Company](ctx, s, models.TableCompanies, companyID)
	if err != nil {
		return err
	}

	envs := cache.ListByIndex[models.Environment](ctx, s.cache, cache.StoreEnvironments, companyID)
	locations := make(map[string]string, len(envs))
	for _, env := range envs {
		locations[env.ID] = env.Name
	}
	return report.WriteAuditList(w, *company, audits, locations)
}
