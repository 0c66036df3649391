package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/money"
)

func designItems() []LineItemInput {
	return []LineItemInput{
		{Description: "Design", Quantity: 10, UnitPrice: 5000},
		{Description: "Hosting", Quantity: 1, UnitPrice: 2000},
	}
}

func mustPct(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestInvoiceCreate(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "create-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID,
		CustomerID:  cust.ID,
		TaxPercent:  mustPct(t, "8.25"),
		Items:       designItems(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceDraft, inv.Status)
	assert.Equal(t, "INV-00001", inv.Number)
	assert.Equal(t, int64(52000), inv.Subtotal)
	assert.Equal(t, int64(4290), inv.TaxAmount)
	assert.Equal(t, int64(56290), inv.Total)
	assert.Equal(t, "USD", inv.Currency)
	assert.Len(t, inv.Items, 2)

	// numbering is unique per workspace and keeps counting
	second, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-00002", second.Number)
}

func TestInvoiceCreateValidation(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "validate-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	_, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero,
		Items: []LineItemInput{{Description: "", Quantity: 0, UnitPrice: -1}},
	})
	var verr *money.InvalidLineItemsError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations[0], 3)

	// no partial mutation on validation failure
	var count int64
	db.Model(&models.Invoice{}).Count(&count)
	assert.Zero(t, count)

	_, err = svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: 9999, TaxPercent: decimal.Zero, Items: designItems(),
	})
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	noEmail := models.Customer{WorkspaceID: ws.ID, Name: "No Email Inc"}
	require.NoError(t, db.Create(&noEmail).Error)
	_, err = svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: noEmail.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	assert.ErrorIs(t, err, ErrCustomerMissingEmail)
}

func TestInvoiceUpdateReplacesLineItemSet(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "update-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: mustPct(t, "8.25"), Items: designItems(),
	})
	require.NoError(t, err)

	newPct := mustPct(t, "10")
	updated, err := svc.Update(context.Background(), ws.ID, inv.ID, UpdateInvoiceInput{
		Items:      []LineItemInput{{Description: "Consulting", Quantity: 2, UnitPrice: 10000}},
		TaxPercent: &newPct,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), updated.Subtotal)
	assert.Equal(t, int64(2000), updated.TaxAmount)
	assert.Equal(t, int64(22000), updated.Total)

	var items []models.LineItem
	require.NoError(t, db.Where("invoice_id = ?", inv.ID).Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "Consulting", items[0].Description)
}

func TestInvoiceUpdateRejectedAfterSettlement(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "update-paid-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	_, err = svc.MarkPaid(context.Background(), ws.ID, inv.ID, 54000, "tx_upd", "manual", time.Now())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), ws.ID, inv.ID, UpdateInvoiceInput{Items: designItems()})
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.InvoicePaid, terr.Current)
}

func TestInvoicePublish(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "publish-ws")
	fn := &fakeNotifier{}
	svc := newInvoiceService(db, newFakeProcessor(), fn)

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	published, err := svc.Publish(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, published.Status)
	require.NotNil(t, published.SentDate)
	assert.Equal(t, 1, fn.sentCount())

	// publish is only legal from draft
	_, err = svc.Publish(context.Background(), ws.ID, inv.ID)
	var terr *InvalidTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestInvoicePublishSurvivesNotificationFailure(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "publish-notify-ws")
	fn := &fakeNotifier{fail: errors.New("smtp down")}
	svc := newInvoiceService(db, newFakeProcessor(), fn)

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	published, err := svc.Publish(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, published.Status)

	var stored models.Invoice
	require.NoError(t, db.First(&stored, inv.ID).Error)
	assert.Equal(t, models.InvoiceSent, stored.Status)
}

func TestInvoiceMarkPaidIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "markpaid-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: mustPct(t, "8.25"), Items: designItems(),
	})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)

	paidAt := time.Now().UTC()
	first, err := svc.MarkPaid(context.Background(), ws.ID, inv.ID, 56290, "tx_1", "manual", paidAt)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, first.Status)
	require.NotNil(t, first.PaidDate)

	// same transaction id again: no-op success, still exactly one payment row
	_, err = svc.MarkPaid(context.Background(), ws.ID, inv.ID, 56290, "tx_1", "manual", paidAt)
	require.NoError(t, err)

	var payments []models.Payment
	require.NoError(t, db.Where("invoice_id = ?", inv.ID).Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(56290), payments[0].Amount)
}

func TestInvoiceMarkPaidFromDraftRejected(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "markpaid-draft-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	_, err = svc.MarkPaid(context.Background(), ws.ID, inv.ID, 54000, "tx_d", "manual", time.Now())
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	var count int64
	db.Model(&models.Payment{}).Count(&count)
	assert.Zero(t, count)
}

func TestInvoiceOverdueThenLatePayment(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "overdue-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)

	over, err := svc.MarkOverdue(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceOverdue, over.Status)

	// overdue -> paid is a legal edge (late payment)
	paid, err := svc.MarkPaid(context.Background(), ws.ID, inv.ID, 54000, "tx_late", "manual", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
}

func TestInvoiceCancelTerminal(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "cancel-ws")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceCancelled, cancelled.Status)

	// no transition out of cancelled
	_, err = svc.Publish(context.Background(), ws.ID, inv.ID)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	_, err = svc.Cancel(context.Background(), ws.ID, inv.ID)
	require.ErrorAs(t, err, &terr)
}

func TestInvoiceWorkspaceScoping(t *testing.T) {
	db := setupTestDB(t)
	wsA, custA := seedWorkspace(t, db, "scope-a")
	wsB, _ := seedWorkspace(t, db, "scope-b")
	svc := newInvoiceService(db, newFakeProcessor(), &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: wsA.ID, CustomerID: custA.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	// tenant B cannot touch tenant A's invoice
	_, err = svc.Publish(context.Background(), wsB.ID, inv.ID)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
	_, err = svc.Cancel(context.Background(), wsB.ID, inv.ID)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestPushToProcessorGatedOnAccountReadiness(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "push-gate-ws")
	fp := newFakeProcessor()
	svc := newInvoiceService(db, fp, &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: decimal.Zero, Items: designItems(),
	})
	require.NoError(t, err)

	// no connected account at all
	_, err = svc.PushToProcessor(context.Background(), ws.ID, inv.ID)
	assert.ErrorIs(t, err, ErrAccountNotReady)

	// half-enabled account: charges on, payouts off
	acct := models.ConnectedAccount{
		WorkspaceID: ws.ID, ExternalAccountID: "acct_half",
		ChargesEnabled: true, PayoutsEnabled: false, DetailsSubmitted: true,
		CurrentlyDue: "[]", EventuallyDue: "[]", PastDue: "[]",
	}
	require.NoError(t, db.Create(&acct).Error)
	_, err = svc.PushToProcessor(context.Background(), ws.ID, inv.ID)
	assert.ErrorIs(t, err, ErrAccountNotReady)

	// the gate fires before any external call
	assert.Zero(t, fp.hostedCallCount())
}

func TestPushToProcessorIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "push-ws")
	readyAccount(t, db, ws.ID, "acct_ready")
	fp := newFakeProcessor()
	svc := newInvoiceService(db, fp, &fakeNotifier{})

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: mustPct(t, "8.25"), Items: designItems(),
	})
	require.NoError(t, err)

	pushed, err := svc.PushToProcessor(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_1", pushed.ExternalID)
	assert.NotEmpty(t, pushed.HostedURL)
	assert.NotEmpty(t, pushed.PDFURL)

	// second push returns the same external reference without a new call
	again, err := svc.PushToProcessor(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_1", again.ExternalID)
	assert.Equal(t, 1, fp.hostedCallCount())

	// customer external id was created once and reused
	var stored models.Customer
	require.NoError(t, db.First(&stored, cust.ID).Error)
	assert.Equal(t, "cus_1", stored.ExternalID)
}

func TestPushToProcessorAppliesWorkspaceFeeOverride(t *testing.T) {
	db := setupTestDB(t)
	ws, cust := seedWorkspace(t, db, "push-fee-ws")
	fee := 2.9
	require.NoError(t, db.Model(&models.Workspace{}).Where("id = ?", ws.ID).Update("fee_percent", fee).Error)
	readyAccount(t, db, ws.ID, "acct_fee")
	fp := newFakeProcessor()
	svc := NewInvoiceService(db, fp, &fakeNotifier{}, zerolog.Nop(), 1.0)

	inv, err := svc.Create(context.Background(), CreateInvoiceInput{
		WorkspaceID: ws.ID, CustomerID: cust.ID, TaxPercent: mustPct(t, "8.25"), Items: designItems(),
	})
	require.NoError(t, err)
	_, err = svc.PushToProcessor(context.Background(), ws.ID, inv.ID)
	require.NoError(t, err)

	require.Equal(t, 1, fp.hostedCallCount())
	// 56290 * 2.9% = 1632.41 -> 1632 (override wins over the 1% default)
	assert.Equal(t, int64(1632), fp.hostedCalls[0].FeeAmount)
}
