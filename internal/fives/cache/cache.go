// Package cache keeps a local, reload-surviving copy of remote rows so reads
// work without the network. Rows are grouped in named stores, keyed by id and
// indexed by a secondary key. Failures never reach the caller as errors: they
// are logged and reads come back empty.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Row is one cached record.
type Row struct {
	Store     string `gorm:"primaryKey;size:64;index:idx_cache_rows_index,priority:1"`
	ID        string `gorm:"primaryKey;size:128"`
	IndexKey  string `gorm:"size:128;index:idx_cache_rows_index,priority:2"`
	Data      []byte
	UpdatedAt time.Time
}

func (Row) TableName() string { return "cache_rows" }

// Store is the local cache database.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the sqlite file at path and applies pending schema migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logger.Error("Failed to open cache database", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return New(ctx, db, logger)
}

// New wraps an open database. sqlite allows a single writer, so the pool is
// pinned to one connection; this also keeps ":memory:" databases coherent.
func New(ctx context.Context, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access cache pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.Named("cache"), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		s.logger.Error("Failed to migrate cache", zap.Error(err))
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying database so the pending queue can share the file.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the database.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *Store) checkStore(store string) bool {
	if knownStores[store] {
		return true
	}
	s.logger.Error("Unknown cache store", zap.String("store", store))
	return false
}

func (s *Store) toRow(store string, rec models.Record) (Row, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Row{}, err
	}
	return Row{
		Store:     store,
		ID:        rec.RecordID(),
		IndexKey:  rec.IndexKey(),
		Data:      data,
		UpdatedAt: s.now(),
	}, nil
}

// Put upserts a record. The last writer for a key wins.
func (s *Store) Put(ctx context.Context, store string, rec models.Record) bool {
	return s.PutMany(ctx, store, []models.Record{rec})
}

// PutMany upserts records in a single statement.
func (s *Store) PutMany(ctx context.Context, store string, recs []models.Record) bool {
	if !s.checkStore(store) {
		return false
	}
	if len(recs) == 0 {
		return true
	}

	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row, err := s.toRow(store, rec)
		if err != nil {
			s.logger.Error("Failed to encode cache row",
				zap.String("store", store),
				zap.String("id", rec.RecordID()),
				zap.Error(err),
			)
			return false
		}
		rows = append(rows, row)
	}

	if err := s.upsert(s.db.WithContext(ctx), rows); err != nil {
		s.logger.Error("Failed to write cache rows", zap.String("store", store), zap.Int("count", len(rows)), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) upsert(db *gorm.DB, rows []Row) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"index_key", "data", "updated_at"}),
	}).Create(&rows).Error
}

// Get decodes the record stored under id into out.
func (s *Store) Get(ctx context.Context, store, id string, out any) bool {
	if !s.checkStore(store) {
		return false
	}

	var row Row
	err := s.db.WithContext(ctx).First(&row, "store = ? AND id = ?", store, id).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("Failed to read cache row", zap.String("store", store), zap.String("id", id), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(row.Data, out); err != nil {
		s.logger.Error("Failed to decode cache row", zap.String("store", store), zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// All returns every row of a store ordered by id.
func (s *Store) All(ctx context.Context, store string) []Row {
	if !s.checkStore(store) {
		return nil
	}
	return s.find(s.db.WithContext(ctx).Where("store = ?", store), store)
}

// ByIndex returns the rows of a store whose secondary key equals key.
func (s *Store) ByIndex(ctx context.Context, store, key string) []Row {
	if !s.checkStore(store) {
		return nil
	}
	return s.find(s.db.WithContext(ctx).Where("store = ? AND index_key = ?", store, key), store)
}

func (s *Store) find(query *gorm.DB, store string) []Row {
	var rows []Row
	if err := query.Order("id").Find(&rows).Error; err != nil {
		s.logger.Error("Failed to list cache rows", zap.String("store", store), zap.Error(err))
		return nil
	}
	return rows
}

// Delete removes one row.
func (s *Store) Delete(ctx context.Context, store, id string) bool {
	if !s.checkStore(store) {
		return false
	}
	if err := s.db.WithContext(ctx).Where("store = ? AND id = ?", store, id).Delete(&Row{}).Error; err != nil {
		s.logger.Error("Failed to delete cache row", zap.String("store", store), zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// Clear empties a store.
func (s *Store) Clear(ctx context.Context, store string) bool {
	if !s.checkStore(store) {
		return false
	}
	if err := s.db.WithContext(ctx).Where("store = ?", store).Delete(&Row{}).Error; err != nil {
		s.logger.Error("Failed to clear cache store", zap.String("store", store), zap.Error(err))
		return false
	}
	return true
}

// ReplaceStore swaps the content of a store for a fresh remote snapshot.
// Rows holding temporary local ids are kept since the remote side has not
// seen them yet.
func (s *Store) ReplaceStore(ctx context.Context, store string, recs []models.Record) bool {
	if !s.checkStore(store) {
		return false
	}

	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row, err := s.toRow(store, rec)
		if err != nil {
			s.logger.Error("Failed to encode cache row", zap.String("store", store), zap.Error(err))
			return false
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(`store = ? AND id NOT LIKE ? ESCAPE '\'`, store, ids.EscapeLike(ids.LocalPrefix)+"%").Delete(&Row{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return s.upsert(tx, rows)
	})
	if err != nil {
		s.logger.Error("Failed to replace cache store", zap.String("store", store), zap.Error(err))
		return false
	}
	return true
}

// RewriteReference replaces a temporary id with its canonical id wherever it
// appears: as a row id, as an index key, or inside the cached JSON. It
// returns the number of rows rewritten.
func (s *Store) RewriteReference(ctx context.Context, oldID, newID string) int {
	if oldID == "" || oldID == newID {
		return 0
	}

	var rows []Row
	err := s.db.WithContext(ctx).
		Where(`id = ? OR index_key = ? OR data LIKE ? ESCAPE '\'`, oldID, oldID, "%"+ids.EscapeLike(oldID)+"%").
		Find(&rows).Error
	if err != nil {
		s.logger.Error("Failed to look up references", zap.String("id", oldID), zap.Error(err))
		return 0
	}
	if len(rows) == 0 {
		return 0
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if row.ID == oldID {
				if err := tx.Where("store = ? AND id = ?", row.Store, row.ID).Delete(&Row{}).Error; err != nil {
					return err
				}
				row.ID = newID
			}
			if row.IndexKey == oldID {
				row.IndexKey = newID
			}
			row.Data = bytes.ReplaceAll(row.Data, []byte(oldID), []byte(newID))
			row.UpdatedAt = s.now()
			if err := s.upsert(tx, []Row{row}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to rewrite references", zap.String("from", oldID), zap.String("to", newID), zap.Error(err))
		return 0
	}
	return len(rows)
}

// Decode unmarshals rows into values of T, skipping rows that fail to decode.
func Decode[T any](rows []Row) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := json.Unmarshal(row.Data, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// List returns every record of a store decoded as T.
func List[T any](ctx context.Context, s *Store, store string) []T {
	return Decode[T](s.All(ctx, store))
}

// ListByIndex returns the records of a store with the given secondary key.
func ListByIndex[T any](ctx context.Context, s *Store, store, key string) []T {
	return Decode[T](s.ByIndex(ctx, store, key))
}
