// Package queue persists writes that could not reach the remote store and
// hands them back, in arrival order, for replay.
package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Queue is the pending-operation queue backed by the pending_sync table.
type Queue struct {
	db     *gorm.DB
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

// New prepares the queue table on db.
func New(ctx context.Context, db *gorm.DB, policy Policy, logger *zap.Logger) (*Queue, error) {
	if err := db.WithContext(ctx).AutoMigrate(&models.Operation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue: %w", err)
	}
	return &Queue{
		db:     db,
		policy: policy,
		logger: logger.Named("queue"),
		now:    time.Now,
	}, nil
}

// Policy returns the retry policy in force.
func (q *Queue) Policy() Policy { return q.policy }

// Enqueue appends op. Seq, timestamps and a missing idempotency key are filled in.
func (q *Queue) Enqueue(ctx context.Context, op *models.Operation) error {
	if op.Kind != models.OpCreate && op.Kind != models.OpUpdate {
		return fmt.Errorf("%w: operation kind %q", e.ErrInvalidInput, op.Kind)
	}
	if op.Table == "" || op.RecordID == "" {
		return fmt.Errorf("%w: operation needs a table and a record id", e.ErrInvalidInput)
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = uuid.New().String()
	}
	now := q.now()
	op.Seq = 0
	op.CreatedAt = now
	op.NextAttemptAt = now

	if err := q.db.WithContext(ctx).Create(op).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: idempotency key %s already queued", e.ErrConflict, op.IdempotencyKey)
		}
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.logger.Debug("Operation queued",
		zap.Uint64("seq", op.Seq),
		zap.String("kind", string(op.Kind)),
		zap.String("table", op.Table),
		zap.String("record_id", op.RecordID),
	)
	return nil
}

// Pending lists live operations in insertion order. Unless force is set,
// operations still waiting out their backoff are left out.
func (q *Queue) Pending(ctx context.Context, force bool) ([]models.Operation, error) {
	query := q.db.WithContext(ctx).Where("dead_letter = ?", false)
	if !force {
		query = query.Where("next_attempt_at <= ?", q.now())
	}

	var ops []models.Operation
	if err := query.Order("seq").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	return ops, nil
}

// Remove deletes an operation once the remote store has accepted it.
func (q *Queue) Remove(ctx context.Context, seq uint64) error {
	result := q.db.WithContext(ctx).Delete(&models.Operation{}, "seq = ?", seq)
	if result.Error != nil {
		return fmt.Errorf("failed to remove operation %d: %w", seq, result.Error)
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// RecordFailure books a failed attempt. The operation is dead-lettered when
// the failure is permanent or the policy's attempts are used up; otherwise
// its next attempt is pushed back by the policy's backoff.
func (q *Queue) RecordFailure(ctx context.Context, seq uint64, cause error) (bool, error) {
	var deadLettered bool
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op models.Operation
		if err := tx.First(&op, "seq = ?", seq).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return e.ErrNotFound
			}
			return err
		}

		attempts := op.Attempts + 1
		deadLettered = e.IsPermanent(cause) || q.policy.Exhausted(attempts)
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}

		return tx.Model(&models.Operation{}).Where("seq = ?", seq).Updates(map[string]any{
			"attempts":        attempts,
			"last_error":      msg,
			"dead_letter":     deadLettered,
			"next_attempt_at": q.now().Add(q.policy.Delay(attempts)),
		}).Error
	})
	if err != nil {
		return false, err
	}

	if deadLettered {
		q.logger.Warn("Operation dead-lettered", zap.Uint64("seq", seq), zap.Error(cause))
	}
	return deadLettered, nil
}

// DeadLetters lists operations that stopped retrying.
func (q *Queue) DeadLetters(ctx context.Context) ([]models.Operation, error) {
	var ops []models.Operation
	if err := q.db.WithContext(ctx).Where("dead_letter = ?", true).Order("seq").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return ops, nil
}

// Requeue gives a dead-lettered operation a fresh set of attempts. It keeps
// its original seq, so it replays in its original position.
func (q *Queue) Requeue(ctx context.Context, seq uint64) error {
	result := q.db.WithContext(ctx).Model(&models.Operation{}).
		Where("seq = ? AND dead_letter = ?", seq, true).
		Updates(map[string]any{
			"attempts":        0,
			"last_error":      "",
			"dead_letter":     false,
			"next_attempt_at": q.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue operation %d: %w", seq, result.Error)
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// Len returns the number of live operations.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.Operation{}).Where("dead_letter = ?", false).Count(&count).Error
	return count, err
}

// RewriteReference swaps a temporary id for the canonical one in queued
// record ids and payloads so dependent writes target the confirmed row.
func (q *Queue) RewriteReference(ctx context.Context, oldID, newID string) (int, error) {
	if oldID == "" || oldID == newID {
		return 0, nil
	}

	var rewritten int
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ops []models.Operation
		if err := tx.Where(`record_id = ? OR payload LIKE ? ESCAPE '\'`, oldID, "%"+ids.EscapeLike(oldID)+"%").Find(&ops).Error; err != nil {
			return err
		}
		for _, op := range ops {
			updates := map[string]any{
				"payload": bytes.ReplaceAll(op.Payload, []byte(oldID), []byte(newID)),
			}
			if op.RecordID == oldID {
				updates["record_id"] = newID
			}
			if err := tx.Model(&models.Operation{}).Where("seq = ?", op.Seq).Updates(updates).Error; err != nil {
				return err
			}
		}
		rewritten = len(ops)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite queued references: %w", err)
	}
	return rewritten, nil
}

// HasPending reports whether a live operation targets recordID.
func (q *Queue) HasPending(ctx context.Context, recordID string) (bool, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.Operation{}).
		Where("record_id = ? AND dead_letter = ?", recordID, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending operations: %w", err)
	}
	return count > 0, nil
}
