package processor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is a verified-but-undecoded webhook delivery. Account is the
// connected account the delivery concerns, when the processor sets it.
type Envelope struct {
	ID      string
	Type    string
	Account string
	Created time.Time
	Raw     json.RawMessage
}

// Event is the closed set of internal event variants the reconciler accepts.
// Everything is decoded and normalized here, at the boundary; no handler
// downstream does ad hoc field access on raw payloads.
type Event interface {
	EventID() string
	EventType() string
}

type baseEvent struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

func (e baseEvent) EventID() string   { return e.ID }
func (e baseEvent) EventType() string { return e.Type }

// CheckoutCompleted settles an invoice through a hosted checkout session.
type CheckoutCompleted struct {
	baseEvent
	ExternalInvoiceID string
	Amount            int64
	Currency          string
	TransactionID     string
}

// InvoicePaid settles an invoice paid directly on the hosted invoice page.
type InvoicePaid struct {
	baseEvent
	ExternalInvoiceID string
	Amount            int64
	Currency          string
	TransactionID     string
}

// InvoicePaymentFailed marks a payment attempt as failed.
type InvoicePaymentFailed struct {
	baseEvent
	ExternalInvoiceID string
}

// InvoiceMarkedUncollectible is treated like a payment failure: the invoice
// becomes overdue, it is not cancelled.
type InvoiceMarkedUncollectible struct {
	baseEvent
	ExternalInvoiceID string
}

// InvoiceVoided cancels the internal invoice.
type InvoiceVoided struct {
	baseEvent
	ExternalInvoiceID string
}

// InvoiceSent mirrors the processor sending the hosted invoice.
type InvoiceSent struct {
	baseEvent
	ExternalInvoiceID string
}

// AccountUpdated carries a fresh connected-account snapshot.
type AccountUpdated struct {
	baseEvent
	Snapshot AccountSnapshot
}

// AccountDeauthorized revokes the connection to the account.
type AccountDeauthorized struct {
	baseEvent
	AccountID string
}

// UnknownEvent is any type the engine does not handle. The reconciler records
// it as processed with no state change (forward compatibility).
type UnknownEvent struct {
	baseEvent
}

type checkoutSessionPayload struct {
	ID            string `json:"id"`
	Invoice       string `json:"invoice"`
	PaymentIntent string `json:"payment_intent"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
}

type accountPayload struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Requirements     struct {
		CurrentlyDue  []string `json:"currently_due"`
		EventuallyDue []string `json:"eventually_due"`
		PastDue       []string `json:"past_due"`
	} `json:"requirements"`
}

type applicationPayload struct {
	ID      string `json:"id"`
	Account string `json:"account"`
}

// ParseEvent decodes a verified envelope into one of the closed event
// variants. Malformed payloads for known types are an error (the delivery is
// rejected so the processor redelivers); unknown types are not.
func ParseEvent(env Envelope) (Event, error) {
	base := baseEvent{ID: env.ID, Type: env.Type, OccurredAt: env.Created}
	switch env.Type {
	case "checkout.session.completed":
		var p checkoutSessionPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		tx := p.PaymentIntent
		if tx == "" {
			tx = p.ID
		}
		return CheckoutCompleted{baseEvent: base, ExternalInvoiceID: p.Invoice, Amount: p.AmountTotal, Currency: p.Currency, TransactionID: tx}, nil
	case "invoice.paid", "invoice.payment_succeeded":
		var p invoicePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		tx := p.Charge
		if tx == "" {
			tx = p.PaymentIntent
		}
		if tx == "" {
			// no charge reference yet; the event id is still unique per settlement
			tx = env.ID
		}
		return InvoicePaid{baseEvent: base, ExternalInvoiceID: p.ID, Amount: p.AmountPaid, Currency: p.Currency, TransactionID: tx}, nil
	case "invoice.payment_failed":
		var p invoicePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return InvoicePaymentFailed{baseEvent: base, ExternalInvoiceID: p.ID}, nil
	case "invoice.marked_uncollectible":
		var p invoicePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return InvoiceMarkedUncollectible{baseEvent: base, ExternalInvoiceID: p.ID}, nil
	case "invoice.voided":
		var p invoicePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return InvoiceVoided{baseEvent: base, ExternalInvoiceID: p.ID}, nil
	case "invoice.sent":
		var p invoicePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return InvoiceSent{baseEvent: base, ExternalInvoiceID: p.ID}, nil
	case "account.updated":
		var p accountPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return AccountUpdated{baseEvent: base, Snapshot: AccountSnapshot{
			AccountID:        p.ID,
			ChargesEnabled:   p.ChargesEnabled,
			PayoutsEnabled:   p.PayoutsEnabled,
			DetailsSubmitted: p.DetailsSubmitted,
			CurrentlyDue:     p.Requirements.CurrentlyDue,
			EventuallyDue:    p.Requirements.EventuallyDue,
			PastDue:          p.Requirements.PastDue,
		}}, nil
	case "account.application.deauthorized":
		var p applicationPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		acct := env.Account
		if acct == "" {
			acct = p.Account
		}
		return AccountDeauthorized{baseEvent: base, AccountID: acct}, nil
	default:
		return UnknownEvent{baseEvent: base}, nil
	}
}
