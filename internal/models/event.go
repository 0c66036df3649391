package models

import "time"

// ProcessedEvent records an applied external event id. Existence of a row is
// the sole idempotency guard for the reconciler: the row is written in the
// same transaction as the entity mutation it covers, and rows are never
// updated or deleted.
type ProcessedEvent struct {
	ID          uint      `gorm:"primaryKey"`
	EventID     string    `gorm:"not null;uniqueIndex"`
	EventType   string    `gorm:"not null;index"`
	ProcessedAt time.Time `gorm:"not null"`
}
