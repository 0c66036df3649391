package models

import "time"

// Invoice lifecycle states. Paid and cancelled are terminal.
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

// Invoice is the financial document. All monetary fields are integer minor
// currency units (cents). Subtotal, tax and total are only ever recomputed
// from the line items; Total = Subtotal + TaxAmount always holds.
type Invoice struct {
	ID          uint   `gorm:"primaryKey"`
	WorkspaceID uint   `gorm:"not null;index;uniqueIndex:ux_invoices_workspace_number,priority:1"`
	CustomerID  uint   `gorm:"not null;index"`
	Customer    Customer `gorm:"foreignKey:CustomerID"`
	Number      string `gorm:"not null;uniqueIndex:ux_invoices_workspace_number,priority:2"`
	Currency    string `gorm:"not null;default:'USD'"`
	Status      string `gorm:"not null;default:'draft';index"`

	Items      []LineItem `gorm:"foreignKey:InvoiceID"`
	Subtotal   int64      `gorm:"not null"`
	TaxPercent string     `gorm:"not null;default:'0'"` // decimal string, e.g. "8.25"
	TaxAmount  int64      `gorm:"not null"`
	Total      int64      `gorm:"not null"`

	InvoiceDate time.Time `gorm:"not null"`
	DueDate     *time.Time
	SentDate    *time.Time
	PaidDate    *time.Time

	// Processor-side references, each written at most once.
	ExternalID string `gorm:"index"`
	HostedURL  string
	PDFURL     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further transition out of the status exists.
func (i *Invoice) Terminal() bool {
	return i.Status == InvoicePaid || i.Status == InvoiceCancelled
}

// LineItem belongs to exactly one invoice. Line items are replaced as a set
// on update, never patched individually.
type LineItem struct {
	ID          uint   `gorm:"primaryKey"`
	InvoiceID   uint   `gorm:"not null;index"`
	Description string `gorm:"not null"`
	Quantity    int64  `gorm:"not null"`
	UnitPrice   int64  `gorm:"not null"` // minor units
	Amount      int64  `gorm:"not null"` // Quantity * UnitPrice
}
