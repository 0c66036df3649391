// Package notify is the outbound notification collaborator boundary. Actual
// email delivery lives outside the engine; publishing an invoice only emits a
// delivery request, and a failed request never rolls back the state change
// that triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// InvoiceSummary is the minimal content a notification needs.
type InvoiceSummary struct {
	Number   string
	Total    int64
	Currency string
}

type Notifier interface {
	SendInvoiceNotification(ctx context.Context, toAddress string, summary InvoiceSummary, hostedURL string) error
}

// LogNotifier records the delivery request in the log. Used wherever a real
// mail transport is not wired.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) SendInvoiceNotification(_ context.Context, toAddress string, summary InvoiceSummary, hostedURL string) error {
	n.Log.Info().
		Str("to", toAddress).
		Str("invoice", summary.Number).
		Int64("total", summary.Total).
		Str("currency", summary.Currency).
		Str("hosted_url", hostedURL).
		Msg("invoice notification requested")
	return nil
}
