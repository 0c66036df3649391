package models

import "time"

// Payment records a settled transaction. Rows are immutable once written and
// created exactly once per external transaction id (unique index is the
// backstop for the idempotent mark-paid path).
type Payment struct {
	ID            uint      `gorm:"primaryKey"`
	WorkspaceID   uint      `gorm:"not null;index"`
	InvoiceID     uint      `gorm:"not null;index"`
	Amount        int64     `gorm:"not null"`
	Currency      string    `gorm:"not null"`
	Method        string    `gorm:"not null"` // e.g. card, transfer, manual
	TransactionID string    `gorm:"not null;uniqueIndex"`
	PaidAt        time.Time `gorm:"not null"`
	CreatedAt     time.Time
}
