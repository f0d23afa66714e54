package models

import (
	"time"
)

// OpKind is the write a pending operation replays.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
)

// Operation is a write that has not been confirmed by the remote store.
// Payload holds the full JSON record; for updates Fields lists the columns to write.
type Operation struct {
	Seq            uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	Kind           OpKind    `gorm:"size:16;not null" json:"kind"`
	Table          string    `gorm:"column:target_table;size:64;not null" json:"table"`
	RecordID       string    `gorm:"size:128;index" json:"record_id"`
	Payload        []byte    `json:"payload"`
	Fields         []string  `gorm:"serializer:json" json:"fields,omitempty"`
	IdempotencyKey string    `gorm:"size:64;uniqueIndex" json:"idempotency_key"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
	DeadLetter     bool      `gorm:"index" json:"dead_letter"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName keeps the queue in its own table next to the cache rows.
func (Operation) TableName() string { return "pending_sync" }
