package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/processor"
)

// Reconciler applies external processor events to internal state with
// exactly-once semantics over an at-least-once delivery channel. The
// ProcessedEvent ledger is the single idempotency mechanism: the ledger row
// is written in the same transaction as the entity mutation, so "event seen"
// and "effect applied" can never diverge.
type Reconciler struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

func NewReconciler(db *gorm.DB, log zerolog.Logger) *Reconciler {
	return &Reconciler{DB: db, Log: log}
}

// ApplyExternalEvent is the single entry point. Duplicate events return
// success with no effect. Dispatch errors roll back the whole transaction,
// ledger write included, so the processor can safely redeliver.
func (r *Reconciler) ApplyExternalEvent(ctx context.Context, ev processor.Event) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&models.ProcessedEvent{}).Where("event_id = ?", ev.EventID()).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			r.Log.Debug().Str("event", ev.EventID()).Msg("duplicate event, no effect")
			return nil
		}
		if err := r.dispatch(tx, ev); err != nil {
			return err
		}
		return tx.Create(&models.ProcessedEvent{
			EventID:     ev.EventID(),
			EventType:   ev.EventType(),
			ProcessedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		r.Log.Error().Err(err).Str("event", ev.EventID()).Str("type", ev.EventType()).Msg("event dispatch failed")
	}
	return err
}

// dispatch routes a typed event to its handler. A missing target entity is
// not an error: the event is recorded as processed with no state change
// (forward compatibility with events the tenant has no entity for). Illegal
// transitions from reordered delivery are no-ops, never errors.
func (r *Reconciler) dispatch(tx *gorm.DB, ev processor.Event) error {
	switch e := ev.(type) {
	case processor.CheckoutCompleted:
		return r.settleByExternalID(tx, e.ExternalInvoiceID, e.Amount, e.Currency, "checkout", e.TransactionID, e.OccurredAt)
	case processor.InvoicePaid:
		return r.settleByExternalID(tx, e.ExternalInvoiceID, e.Amount, e.Currency, "card", e.TransactionID, e.OccurredAt)
	case processor.InvoicePaymentFailed:
		return r.transitionByExternalID(tx, e.ExternalInvoiceID, models.InvoiceOverdue)
	case processor.InvoiceMarkedUncollectible:
		return r.transitionByExternalID(tx, e.ExternalInvoiceID, models.InvoiceOverdue)
	case processor.InvoiceVoided:
		return r.transitionByExternalID(tx, e.ExternalInvoiceID, models.InvoiceCancelled)
	case processor.InvoiceSent:
		return r.transitionByExternalID(tx, e.ExternalInvoiceID, models.InvoiceSent)
	case processor.AccountUpdated:
		acct, err := lockAccountByExternalID(tx, e.Snapshot.AccountID)
		if errors.Is(err, ErrAccountNotFound) {
			r.Log.Warn().Str("account", e.Snapshot.AccountID).Msg("snapshot for unknown account, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		return applySnapshotTx(tx, acct, e.Snapshot, e.EventID(), e.OccurredAt, "account_updated")
	case processor.AccountDeauthorized:
		acct, err := lockAccountByExternalID(tx, e.AccountID)
		if errors.Is(err, ErrAccountNotFound) {
			r.Log.Warn().Str("account", e.AccountID).Msg("deauthorization for unknown account, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		acct.Deauthorized = true
		acct.OnboardingStatus = DeriveOnboardingStatus(acct)
		acct.LastEventID = e.EventID()
		at := e.OccurredAt
		acct.LastEventAt = &at
		if err := tx.Save(acct).Error; err != nil {
			return err
		}
		return appendAccountEvent(tx, acct.ID, "account_deauthorized", map[string]any{"account": e.AccountID})
	case processor.UnknownEvent:
		r.Log.Debug().Str("type", e.EventType()).Msg("unhandled event type")
		return nil
	default:
		r.Log.Debug().Str("type", ev.EventType()).Msg("unhandled event variant")
		return nil
	}
}

func (r *Reconciler) lockInvoiceByExternalID(tx *gorm.DB, externalID string) (*models.Invoice, bool, error) {
	if externalID == "" {
		return nil, false, nil
	}
	var inv models.Invoice
	err := lockForUpdate(tx).Where("external_id = ?", externalID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.Log.Warn().Str("external_id", externalID).Msg("event for unknown invoice, skipping")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &inv, true, nil
}

func (r *Reconciler) settleByExternalID(tx *gorm.DB, externalID string, amount int64, currency, method, transactionID string, at time.Time) error {
	inv, ok, err := r.lockInvoiceByExternalID(tx, externalID)
	if err != nil || !ok {
		return err
	}
	return settleInvoice(tx, inv, amount, currency, method, transactionID, at, false)
}

func (r *Reconciler) transitionByExternalID(tx *gorm.DB, externalID, to string) error {
	inv, ok, err := r.lockInvoiceByExternalID(tx, externalID)
	if err != nil || !ok {
		return err
	}
	_, err = applyTransition(tx, inv, to, false)
	return err
}
