package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SchemaVersion is the cache layout this build expects. Bumping it runs the
// migrations above the stored version on the next Open.
const SchemaVersion = 2

const schemaVersionKey = "schema_version"

type migration struct {
	version int
	name    string
	apply   func(tx *gorm.DB) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "create cache rows",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&Row{})
		},
	},
	{
		version: 2,
		name:    "drop auth snapshots cached without environment scope",
		apply: func(tx *gorm.DB) error {
			return tx.Where("store = ?", StoreAuthCache).Delete(&Row{}).Error
		},
	},
}

type schemaMeta struct {
	Version int `json:"version"`
}

func (s *Store) migrate(ctx context.Context) error {
	// the metadata row lives in cache_rows, so the table must exist before
	// the stored version can be read
	if err := s.db.WithContext(ctx).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}

	current, err := s.storedVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			data, _ := json.Marshal(schemaMeta{Version: m.version})
			return s.upsert(tx, []Row{{
				Store:     StoreAppMetadata,
				ID:        schemaVersionKey,
				Data:      data,
				UpdatedAt: s.now(),
			}})
		})
		if err != nil {
			return fmt.Errorf("cache migration %d (%s): %w", m.version, m.name, err)
		}
		s.logger.Info("Applied cache migration", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

func (s *Store) storedVersion(ctx context.Context) (int, error) {
	var row Row
	err := s.db.WithContext(ctx).First(&row, "store = ? AND id = ?", StoreAppMetadata, schemaVersionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	var meta schemaMeta
	if err := json.Unmarshal(row.Data, &meta); err != nil {
		return 0, fmt.Errorf("failed to decode schema version: %w", err)
	}
	return meta.Version, nil
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) int {
	v, err := s.storedVersion(ctx)
	if err != nil {
		s.logger.Error("Failed to read cache version", zap.Error(err))
		return 0
	}
	return v
}
