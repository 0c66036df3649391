package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/money"
	"github.com/sellaro/billing/internal/notify"
	"github.com/sellaro/billing/internal/processor"
)

// invoiceTransitions declares every legal edge of the invoice state machine.
// Paid and cancelled are terminal: no edges out.
var invoiceTransitions = map[string][]string{
	models.InvoiceDraft:   {models.InvoiceSent, models.InvoiceCancelled},
	models.InvoiceSent:    {models.InvoicePaid, models.InvoiceOverdue, models.InvoiceCancelled},
	models.InvoiceOverdue: {models.InvoicePaid, models.InvoiceCancelled},
}

func canTransition(from, to string) bool {
	for _, t := range invoiceTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// InvoiceService owns the invoice document model and its lifecycle.
type InvoiceService struct {
	DB                *gorm.DB
	Processor         processor.Client
	Notifier          notify.Notifier
	Log               zerolog.Logger
	DefaultFeePercent float64
}

func NewInvoiceService(db *gorm.DB, pc processor.Client, n notify.Notifier, log zerolog.Logger, defaultFeePercent float64) *InvoiceService {
	return &InvoiceService{DB: db, Processor: pc, Notifier: n, Log: log, DefaultFeePercent: defaultFeePercent}
}

// LineItemInput is one incoming line. Line items are always replaced as a
// full set, never patched.
type LineItemInput struct {
	Description string
	Quantity    int64
	UnitPrice   int64 // minor units
}

func toLineItems(in []LineItemInput) []models.LineItem {
	items := make([]models.LineItem, len(in))
	for i, it := range in {
		items[i] = models.LineItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return items
}

type CreateInvoiceInput struct {
	WorkspaceID uint
	CustomerID  uint
	Currency    string // defaults to the workspace currency
	TaxPercent  decimal.Decimal
	InvoiceDate time.Time // zero means now
	DueInDays   *int
	Items       []LineItemInput
}

// Create validates the line items, computes totals, assigns a
// workspace-unique invoice number and stores the invoice in draft.
func (s *InvoiceService) Create(ctx context.Context, in CreateInvoiceInput) (*models.Invoice, error) {
	var created models.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Locking the workspace row serializes number assignment per tenant.
		var ws models.Workspace
		if err := lockForUpdate(tx).First(&ws, in.WorkspaceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWorkspaceNotFound
			}
			return err
		}
		var cust models.Customer
		if err := tx.Where("workspace_id = ?", ws.ID).First(&cust, in.CustomerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCustomerNotFound
			}
			return err
		}
		if cust.Email == "" {
			return ErrCustomerMissingEmail
		}

		totals, err := money.ComputeTotals(toLineItems(in.Items), in.TaxPercent)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Invoice{}).Where("workspace_id = ?", ws.ID).Count(&count).Error; err != nil {
			return err
		}

		currency := in.Currency
		if currency == "" {
			currency = ws.Currency
		}
		invoiceDate := in.InvoiceDate
		if invoiceDate.IsZero() {
			invoiceDate = time.Now().UTC()
		}
		created = models.Invoice{
			WorkspaceID: ws.ID,
			CustomerID:  cust.ID,
			Number:      fmt.Sprintf("INV-%05d", count+1),
			Currency:    currency,
			Status:      models.InvoiceDraft,
			Subtotal:    totals.Subtotal,
			TaxPercent:  in.TaxPercent.String(),
			TaxAmount:   totals.TaxAmount,
			Total:       totals.Total,
			InvoiceDate: invoiceDate,
		}
		if in.DueInDays != nil {
			due := invoiceDate.AddDate(0, 0, *in.DueInDays)
			created.DueDate = &due
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		items := totals.Items
		for i := range items {
			items[i].InvoiceID = created.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		created.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

type UpdateInvoiceInput struct {
	Items      []LineItemInput
	TaxPercent *decimal.Decimal // nil keeps the stored percentage
	DueInDays  *int
}

// Update replaces the entire line-item set and recomputes totals, exactly as
// in Create. Only draft and sent invoices are editable.
func (s *InvoiceService) Update(ctx context.Context, workspaceID, invoiceID uint, in UpdateInvoiceInput) (*models.Invoice, error) {
	var updated models.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockInvoice(tx, workspaceID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceDraft && inv.Status != models.InvoiceSent {
			return &InvalidTransitionError{Current: inv.Status, Attempted: "update"}
		}

		pct, err := decimal.NewFromString(inv.TaxPercent)
		if err != nil {
			return fmt.Errorf("stored tax percent %q: %w", inv.TaxPercent, err)
		}
		if in.TaxPercent != nil {
			pct = *in.TaxPercent
		}
		totals, err := money.ComputeTotals(toLineItems(in.Items), pct)
		if err != nil {
			return err
		}

		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.LineItem{}).Error; err != nil {
			return err
		}
		items := totals.Items
		for i := range items {
			items[i].InvoiceID = inv.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}

		inv.Subtotal = totals.Subtotal
		inv.TaxAmount = totals.TaxAmount
		inv.Total = totals.Total
		inv.TaxPercent = pct.String()
		if in.DueInDays != nil {
			due := inv.InvoiceDate.AddDate(0, 0, *in.DueInDays)
			inv.DueDate = &due
		}
		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		inv.Items = items
		updated = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Publish moves a draft to sent, stamps the sent date and requests a customer
// notification. The notification is fire-and-forget: its failure is logged
// and surfaced separately, never rolled into the state transition.
func (s *InvoiceService) Publish(ctx context.Context, workspaceID, invoiceID uint) (*models.Invoice, error) {
	var published models.Invoice
	var customer models.Customer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockInvoice(tx, workspaceID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceDraft {
			return &InvalidTransitionError{Current: inv.Status, Attempted: models.InvoiceSent}
		}
		now := time.Now().UTC()
		inv.Status = models.InvoiceSent
		inv.SentDate = &now
		if err := tx.Save(inv).Error; err != nil {
			return err
		}
		if err := tx.First(&customer, inv.CustomerID).Error; err != nil {
			return err
		}
		published = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary := notify.InvoiceSummary{Number: published.Number, Total: published.Total, Currency: published.Currency}
	if nerr := s.Notifier.SendInvoiceNotification(ctx, customer.Email, summary, published.HostedURL); nerr != nil {
		s.Log.Error().Err(nerr).Str("invoice", published.Number).Msg("invoice notification failed")
	}
	return &published, nil
}

// MarkPaid settles an invoice from a direct user action (e.g. recording an
// offline payment). Idempotent on the external transaction id: a repeat call
// is a no-op success with exactly one Payment row ever written.
func (s *InvoiceService) MarkPaid(ctx context.Context, workspaceID, invoiceID uint, amount int64, transactionID, method string, at time.Time) (*models.Invoice, error) {
	var settled models.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockInvoice(tx, workspaceID, invoiceID)
		if err != nil {
			return err
		}
		if err := settleInvoice(tx, inv, amount, inv.Currency, method, transactionID, at, true); err != nil {
			return err
		}
		settled = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

// MarkOverdue transitions sent -> overdue (payment failure or past-due
// detection).
func (s *InvoiceService) MarkOverdue(ctx context.Context, workspaceID, invoiceID uint) (*models.Invoice, error) {
	var out models.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockInvoice(tx, workspaceID, invoiceID)
		if err != nil {
			return err
		}
		if _, err := applyTransition(tx, inv, models.InvoiceOverdue, true); err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel terminates an invoice from any non-terminal state. No further effect
// processing happens after cancellation.
func (s *InvoiceService) Cancel(ctx context.Context, workspaceID, invoiceID uint) (*models.Invoice, error) {
	var out models.Invoice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockInvoice(tx, workspaceID, invoiceID)
		if err != nil {
			return err
		}
		if _, err := applyTransition(tx, inv, models.InvoiceCancelled, true); err != nil {
			return err
		}
		out = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PushToProcessor creates the hosted external invoice for payment collection.
// Gated on connected-account readiness; idempotent via the write-once
// external id and an invoice-derived idempotency key, so a retry after a
// network failure cannot create a duplicate external resource.
func (s *InvoiceService) PushToProcessor(ctx context.Context, workspaceID, invoiceID uint) (*models.Invoice, error) {
	var ws models.Workspace
	if err := s.DB.WithContext(ctx).First(&ws, workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, err
	}
	var acct models.ConnectedAccount
	if err := s.DB.WithContext(ctx).Where("workspace_id = ?", ws.ID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotReady
		}
		return nil, err
	}
	// Readiness check happens before any external call is attempted.
	if !acct.Ready() {
		return nil, ErrAccountNotReady
	}

	var inv models.Invoice
	if err := s.DB.WithContext(ctx).Preload("Items").Where("workspace_id = ?", ws.ID).First(&inv, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if inv.ExternalID != "" {
		// Already pushed; the external reference is acquired exactly once.
		return &inv, nil
	}
	if inv.Terminal() || inv.Status == models.InvoiceOverdue {
		return nil, &InvalidTransitionError{Current: inv.Status, Attempted: "push"}
	}

	var cust models.Customer
	if err := s.DB.WithContext(ctx).First(&cust, inv.CustomerID).Error; err != nil {
		return nil, err
	}
	if cust.ExternalID == "" {
		extCustomer, err := s.Processor.CreateCustomer(ctx, processor.CustomerParams{
			AccountID:      acct.ExternalAccountID,
			Name:           cust.Name,
			Email:          cust.Email,
			IdempotencyKey: fmt.Sprintf("customer-%d", cust.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("push invoice %s: %w", inv.Number, err)
		}
		cust.ExternalID = extCustomer
		if err := s.DB.WithContext(ctx).Model(&models.Customer{}).Where("id = ? AND external_id = ''", cust.ID).Update("external_id", extCustomer).Error; err != nil {
			return nil, err
		}
	}

	daysUntilDue := int64(30)
	if inv.DueDate != nil {
		if d := int64(time.Until(*inv.DueDate).Hours() / 24); d > 0 {
			daysUntilDue = d
		} else {
			daysUntilDue = 1
		}
	}
	items := make([]processor.HostedInvoiceItem, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = processor.HostedInvoiceItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	hosted, err := s.Processor.CreateHostedInvoice(ctx, processor.HostedInvoiceParams{
		AccountID:      acct.ExternalAccountID,
		CustomerID:     cust.ExternalID,
		Currency:       inv.Currency,
		DaysUntilDue:   daysUntilDue,
		Items:          items,
		FeeAmount:      money.PercentOf(inv.Total, ws.ResolvedFeePercent(s.DefaultFeePercent)),
		IdempotencyKey: fmt.Sprintf("invoice-%d-push", inv.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("push invoice %s: %w", inv.Number, err)
	}

	// The guarded update keeps the external reference write-once even if two
	// pushes race.
	res := s.DB.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND (external_id = '' OR external_id IS NULL)", inv.ID).
		Updates(map[string]any{"external_id": hosted.ID, "hosted_url": hosted.HostedURL, "pdf_url": hosted.PDFURL})
	if res.Error != nil {
		return nil, res.Error
	}
	if err := s.DB.WithContext(ctx).Preload("Items").First(&inv, inv.ID).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// lockInvoice loads an invoice scoped to its workspace under a row lock.
func (s *InvoiceService) lockInvoice(tx *gorm.DB, workspaceID, invoiceID uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := lockForUpdate(tx).Where("workspace_id = ?", workspaceID).First(&inv, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// applyTransition moves an invoice along a declared edge. In strict mode an
// illegal edge is an error; in lenient mode (reconciler path) it is a no-op,
// so reordered external events converge instead of failing.
func applyTransition(tx *gorm.DB, inv *models.Invoice, to string, strict bool) (bool, error) {
	if inv.Status == to {
		return false, nil
	}
	if !canTransition(inv.Status, to) {
		if strict {
			return false, &InvalidTransitionError{Current: inv.Status, Attempted: to}
		}
		return false, nil
	}
	now := time.Now().UTC()
	inv.Status = to
	switch to {
	case models.InvoiceSent:
		if inv.SentDate == nil {
			inv.SentDate = &now
		}
	case models.InvoicePaid:
		if inv.PaidDate == nil {
			inv.PaidDate = &now
		}
	}
	return true, tx.Save(inv).Error
}

// settleInvoice creates the Payment row and transitions to paid, all inside
// the caller's transaction. Deduplicated on the external transaction id: the
// second delivery of the same settlement is success with no effect.
func settleInvoice(tx *gorm.DB, inv *models.Invoice, amount int64, currency, method, transactionID string, at time.Time, strict bool) error {
	var existing int64
	if err := tx.Model(&models.Payment{}).Where("transaction_id = ?", transactionID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	if inv.Status != models.InvoiceSent && inv.Status != models.InvoiceOverdue {
		if strict {
			return &InvalidTransitionError{Current: inv.Status, Attempted: models.InvoicePaid}
		}
		return nil
	}
	if currency == "" {
		currency = inv.Currency
	}
	if amount == 0 {
		amount = inv.Total
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payment := models.Payment{
		WorkspaceID:   inv.WorkspaceID,
		InvoiceID:     inv.ID,
		Amount:        amount,
		Currency:      currency,
		Method:        method,
		TransactionID: transactionID,
		PaidAt:        at,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}
	inv.Status = models.InvoicePaid
	paidAt := at
	inv.PaidDate = &paidAt
	return tx.Save(inv).Error
}
