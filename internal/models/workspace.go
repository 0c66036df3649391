package models

import "time"

// Workspace is an isolated customer organization. Every financial entity in
// the engine is scoped to exactly one workspace; cross-workspace reads are a
// correctness bug, not a privacy nicety.
type Workspace struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	Slug       string `gorm:"unique;not null;index"`
	Currency   string `gorm:"not null;default:'USD'"` // default currency for new invoices
	FeePercent *float64                               // per-workspace override of the application fee percent
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResolvedFeePercent returns the workspace override if set, else the default.
func (w *Workspace) ResolvedFeePercent(defaultPercent float64) float64 {
	if w.FeePercent != nil {
		return *w.FeePercent
	}
	return defaultPercent
}

// Customer is the billed party on an invoice.
type Customer struct {
	ID          uint   `gorm:"primaryKey"`
	WorkspaceID uint   `gorm:"not null;index"`
	Name        string `gorm:"not null;index"`
	Email       string // required before an invoice for this customer can be published
	ExternalID  string `gorm:"index"` // processor customer id, set once
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
