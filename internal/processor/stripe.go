package processor

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeConfig is the explicit credential set for the Stripe client.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

var _ Client = (*StripeClient)(nil)

func NewStripeClient(cfg StripeConfig) *StripeClient {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeClient{api: api, webhookSecret: cfg.WebhookSecret}
}

func (c *StripeClient) CreateAccount(ctx context.Context, idempotencyKey string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(idempotencyKey)
	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return acct.ID, nil
}

func (c *StripeClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (AccountLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return AccountLink{}, fmt.Errorf("create account link: %w", err)
	}
	return AccountLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0)}, nil
}

func (c *StripeClient) GetAccount(ctx context.Context, accountID string) (AccountSnapshot, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := c.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("get account %s: %w", accountID, err)
	}
	snap := AccountSnapshot{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
	if acct.Requirements != nil {
		snap.CurrentlyDue = acct.Requirements.CurrentlyDue
		snap.EventuallyDue = acct.Requirements.EventuallyDue
		snap.PastDue = acct.Requirements.PastDue
	}
	return snap, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(p.Name),
		Email: stripe.String(p.Email),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	if p.AccountID != "" {
		params.SetStripeAccount(p.AccountID)
	}
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

// CreateHostedInvoice creates, populates and finalizes a send-invoice on the
// connected account, returning the hosted payment page and PDF URLs. All
// sub-calls share the caller's idempotency key prefix so a retry after a
// partial failure cannot duplicate external resources.
func (c *StripeClient) CreateHostedInvoice(ctx context.Context, p HostedInvoiceParams) (HostedInvoice, error) {
	invParams := &stripe.InvoiceParams{
		Customer:         stripe.String(p.CustomerID),
		Currency:         stripe.String(p.Currency),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(p.DaysUntilDue),
	}
	if p.FeeAmount > 0 {
		invParams.ApplicationFeeAmount = stripe.Int64(p.FeeAmount)
	}
	invParams.Context = ctx
	invParams.IdempotencyKey = stripe.String(p.IdempotencyKey)
	if p.AccountID != "" {
		invParams.SetStripeAccount(p.AccountID)
	}
	inv, err := c.api.Invoices.New(invParams)
	if err != nil {
		return HostedInvoice{}, fmt.Errorf("create invoice: %w", err)
	}

	for i, item := range p.Items {
		itemParams := &stripe.InvoiceItemParams{
			Customer:    stripe.String(p.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Description: stripe.String(item.Description),
			Quantity:    stripe.Int64(item.Quantity),
			UnitAmount:  stripe.Int64(item.UnitPrice),
			Currency:    stripe.String(p.Currency),
		}
		itemParams.Context = ctx
		itemParams.IdempotencyKey = stripe.String(fmt.Sprintf("%s-item-%d", p.IdempotencyKey, i))
		if p.AccountID != "" {
			itemParams.SetStripeAccount(p.AccountID)
		}
		if _, err := c.api.InvoiceItems.New(itemParams); err != nil {
			return HostedInvoice{}, fmt.Errorf("create invoice item %d: %w", i, err)
		}
	}

	finParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finParams.Context = ctx
	finParams.IdempotencyKey = stripe.String(p.IdempotencyKey + "-finalize")
	if p.AccountID != "" {
		finParams.SetStripeAccount(p.AccountID)
	}
	fin, err := c.api.Invoices.FinalizeInvoice(inv.ID, finParams)
	if err != nil {
		return HostedInvoice{}, fmt.Errorf("finalize invoice: %w", err)
	}
	return HostedInvoice{ID: fin.ID, HostedURL: fin.HostedInvoiceURL, PDFURL: fin.InvoicePDF}, nil
}

func (c *StripeClient) VerifyWebhook(payload []byte, signatureHeader string) (Envelope, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return Envelope{}, fmt.Errorf("verify webhook: %w", err)
	}
	env := Envelope{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Account: ev.Account,
		Created: time.Unix(ev.Created, 0),
	}
	if ev.Data != nil {
		env.Raw = ev.Data.Raw
	}
	return env, nil
}
