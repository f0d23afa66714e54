// Package remote is the gorm repository for the hosted Postgres store. It
// applies replayed operations idempotently and serves scoped snapshots for
// the local cache.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Repository struct {
	db     *gorm.DB
	logger *zap.Logger

	mu       sync.Mutex
	migrated bool
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the libpq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, quoteDSN(c.Password), c.DBName, c.SSLMode)
}

// quoteDSN quotes a value so empty strings and spaces survive parsing.
func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

// Open prepares a Postgres connection without dialing it, so the service
// can start while the store is unreachable. Tables are migrated on the first
// successful Ping.
func Open(cfg *Config, logger *zap.Logger) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError:       true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Repository{db: db, logger: logger.Named("remote")}, nil
}

// New wraps an open database and migrates it.
func New(db *gorm.DB, logger *zap.Logger) (*Repository, error) {
	r := &Repository{db: db, logger: logger.Named("remote")}
	if err := r.ensureMigrated(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureMigrated() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.migrated {
		return nil
	}
	if err := r.migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	r.migrated = true
	r.logger.Info("Remote schema migrated")
	return nil
}

func (r *Repository) migrate() error {
	for _, name := range Tables() {
		if err := r.db.Table(name).AutoMigrate(tables[name].model()); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return r.db.AutoMigrate(&Receipt{})
}

// Ping checks that the database answers and that its schema is current.
func (r *Repository) Ping(ctx context.Context) error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return r.ensureMigrated()
}

func lookup(table string) (tableSpec, error) {
	spec, ok := tables[table]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %s", e.ErrUnknownTable, table)
	}
	return spec, nil
}

// Apply executes a queued operation and returns the canonical record id.
// Creates carrying a temporary local id are given a remote id. An operation
// whose idempotency key was already applied is acknowledged with the id
// recorded the first time, without writing again.
func (r *Repository) Apply(ctx context.Context, op models.Operation) (string, error) {
	spec, err := lookup(op.Table)
	if err != nil {
		return "", err
	}
	rec, err := spec.decode(op.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", e.ErrInvalidInput, err)
	}
	if refs := ids.LocalRefs(op.Payload, op.RecordID); len(refs) > 0 {
		return "", fmt.Errorf("%w: %s references unsynced record %s", e.ErrInvalidInput, op.Table, refs[0])
	}

	var canonical string
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if op.IdempotencyKey != "" {
			var receipt Receipt
			err := tx.First(&receipt, "idempotency_key = ?", op.IdempotencyKey).Error
			if err == nil {
				canonical = receipt.RecordID
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		switch op.Kind {
		case models.OpCreate:
			canonical, err = r.create(tx, spec, rec)
		case models.OpUpdate:
			canonical, err = r.update(tx, spec, op.RecordID, rec, op.Fields)
		default:
			err = fmt.Errorf("%w: operation kind %q", e.ErrInvalidInput, op.Kind)
		}
		if err != nil {
			return err
		}

		if op.IdempotencyKey == "" {
			return nil
		}
		return tx.Create(&Receipt{
			IdempotencyKey: op.IdempotencyKey,
			TargetTable:    op.Table,
			RecordID:       canonical,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return canonical, nil
}

func (r *Repository) create(tx *gorm.DB, spec tableSpec, rec models.Record) (string, error) {
	id := rec.RecordID()
	if id == "" || ids.IsLocal(id) {
		id = ids.New()
		rec.SetRecordID(id)
	}

	if err := tx.Table(spec.name).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", fmt.Errorf("%w: %s %s already exists", e.ErrConflict, spec.name, id)
		}
		return "", err
	}
	return id, nil
}

func (r *Repository) update(tx *gorm.DB, spec tableSpec, id string, rec models.Record, fields []string) (string, error) {
	if id == "" || ids.IsLocal(id) {
		return "", fmt.Errorf("%w: %s %s has not been created remotely", e.ErrNotFound, spec.name, id)
	}

	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "id" {
			columns = append(columns, f)
		}
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%w: update without fields", e.ErrInvalidInput)
	}

	rec.SetRecordID(id)
	result := tx.Table(spec.name).Where("id = ?", id).Select(columns).Updates(rec)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", fmt.Errorf("%w: %s %s", e.ErrNotFound, spec.name, id)
	}
	return id, nil
}

// Fetch returns the rows of table visible within scope.
func (r *Repository) Fetch(ctx context.Context, table string, scope Scope) ([]models.Record, error) {
	spec, err := lookup(table)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Table(spec.name)
	if spec.scope != nil && !scope.All {
		query = spec.scope(query, scope.CompanyIDs)
	}

	recs, err := spec.fetch(query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	return recs, nil
}

// Get loads a single record by id.
func (r *Repository) Get(ctx context.Context, table, id string) (models.Record, error) {
	spec, err := lookup(table)
	if err != nil {
		return nil, err
	}

	rec := spec.model()
	result := r.db.WithContext(ctx).Table(spec.name).Where("id = ?", id).Limit(1).Find(rec)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s %s", e.ErrNotFound, table, id)
	}
	return rec.(models.Record), nil
}

func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, logger: r.logger})
	})
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
