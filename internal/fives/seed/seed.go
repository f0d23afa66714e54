// Package seed loads the platform criteria library shipped with the binary.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed master_criteria.yaml
var masterCriteria []byte

// namespace derives stable ids from library keys, so seeding twice updates
// rather than duplicates.
var namespace = uuid.MustParse("6f1c7f5e-4a55-4c8e-9b1e-5f5f0e8d2b11")

type criterionEntry struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Weight      int    `yaml:"weight"`
}

type modelEntry struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	All         bool     `yaml:"all"`
	Criteria    []string `yaml:"criteria"`
}

type library struct {
	Criteria map[models.Senso][]criterionEntry `yaml:"criteria"`
	Models   []modelEntry                       `yaml:"models"`
}

// Library is the parsed platform library.
type Library struct {
	Criteria []models.Criterion
	Models   []models.AuditModel
}

// Store is where the library is written.
type Store interface {
	UpsertMasterCriteria(ctx context.Context, criteria []models.Criterion) error
	UpsertMasterModels(ctx context.Context, auditModels []models.AuditModel) error
}

// Default parses the embedded library.
func Default(now time.Time) (*Library, error) {
	return Parse(masterCriteria, now)
}

// Parse reads a library document. Criteria come out in senso order.
func Parse(data []byte, now time.Time) (*Library, error) {
	var doc library
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse criteria library: %w", err)
	}

	lib := &Library{}
	byKey := make(map[string]string)
	for senso := range doc.Criteria {
		if !senso.Valid() {
			return nil, fmt.Errorf("unknown senso %q in criteria library", senso)
		}
	}
	for _, senso := range models.Sensos {
		for _, entry := range doc.Criteria[senso] {
			if entry.Key == "" || entry.Title == "" {
				return nil, fmt.Errorf("%s criterion needs a key and a title", senso)
			}
			if _, dup := byKey[entry.Key]; dup {
				return nil, fmt.Errorf("duplicate criterion key %q", entry.Key)
			}
			weight := entry.Weight
			if weight < 1 {
				weight = 1
			}
			id := ID(entry.Key)
			byKey[entry.Key] = id
			lib.Criteria = append(lib.Criteria, models.Criterion{
				ID:          id,
				Senso:       senso,
				Title:       entry.Title,
				Description: entry.Description,
				Weight:      weight,
				ScoringType: models.ScoringYesNo,
				Origin:      models.OriginPlatform,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	for _, entry := range doc.Models {
		m := models.AuditModel{
			ID:          ID(entry.Key),
			Name:        entry.Name,
			Description: entry.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if entry.All {
			for _, c := range lib.Criteria {
				m.CriterionIDs = append(m.CriterionIDs, c.ID)
			}
		}
		for _, key := range entry.Criteria {
			id, ok := byKey[key]
			if !ok {
				return nil, fmt.Errorf("model %q references unknown criterion %q", entry.Key, key)
			}
			m.CriterionIDs = append(m.CriterionIDs, id)
		}
		if len(m.CriterionIDs) == 0 {
			return nil, fmt.Errorf("model %q selects no criteria", entry.Key)
		}
		lib.Models = append(lib.Models, m)
	}
	return lib, nil
}

// ID returns the stable id of a library key.
func ID(key string) string {
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// Apply writes the library to store.
func Apply(ctx context.Context, store Store, lib *Library, logger *zap.Logger) error {
	if err := store.UpsertMasterCriteria(ctx, lib.Criteria); err != nil {
		return fmt.Errorf("failed to seed master criteria: %w", err)
	}
	if err := store.UpsertMasterModels(ctx, lib.Models); err != nil {
		return fmt.Errorf("failed to seed master models: %w", err)
	}
	logger.Info("Seeded platform library",
		zap.Int("criteria", len(lib.Criteria)),
		zap.Int("models", len(lib.Models)),
	)
	return nil
}
