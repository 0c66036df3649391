// Package processor defines the payment-processor collaborator contract and
// its Stripe-backed implementation. The engine only ever talks to the Client
// interface; credentials come from an explicit config struct, never ambient
// environment lookups or a shared global client.
package processor

import (
	"context"
	"time"
)

// AccountSnapshot is the processor's authoritative view of a connected
// account. The engine derives onboarding status from these flags and never
// trusts a status field supplied out of band.
type AccountSnapshot struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	CurrentlyDue     []string
	EventuallyDue    []string
	PastDue          []string
}

// AccountLink is a one-time, time-boxed onboarding/verification URL.
type AccountLink struct {
	URL       string
	ExpiresAt time.Time
}

// HostedInvoiceParams describes the external invoice to create. IdempotencyKey
// is derived from the internal invoice id so repeated calls cannot create
// duplicate external resources.
type HostedInvoiceParams struct {
	AccountID      string // connected account collecting the payment
	CustomerID     string // processor customer id
	Currency       string
	DaysUntilDue   int64
	Items          []HostedInvoiceItem
	FeeAmount      int64 // application fee in minor units, 0 for none
	IdempotencyKey string
}

type HostedInvoiceItem struct {
	Description string
	Quantity    int64
	UnitPrice   int64
}

// HostedInvoice is the processor-side document the customer pays.
type HostedInvoice struct {
	ID        string
	HostedURL string
	PDFURL    string
}

// CustomerParams creates a processor-side customer record.
type CustomerParams struct {
	AccountID      string
	Name           string
	Email          string
	IdempotencyKey string
}

// Client is the collaborator contract consumed by the engine. Calls are
// synchronous network calls; callers own timeout and retry policy and must
// reuse the same idempotency key when retrying.
type Client interface {
	CreateAccount(ctx context.Context, idempotencyKey string) (accountID string, err error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (AccountLink, error)
	GetAccount(ctx context.Context, accountID string) (AccountSnapshot, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (customerID string, err error)
	CreateHostedInvoice(ctx context.Context, params HostedInvoiceParams) (HostedInvoice, error)
	// VerifyWebhook checks the delivery signature and returns the raw event
	// envelope. Unverifiable payloads are rejected, never dispatched.
	VerifyWebhook(payload []byte, signatureHeader string) (Envelope, error)
}
