package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/notify"
	"github.com/sellaro/billing/internal/processor"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Workspace{}, &models.Customer{}, &models.Invoice{}, &models.LineItem{},
		&models.Payment{}, &models.ConnectedAccount{}, &models.AccountEvent{}, &models.ProcessedEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedWorkspace(t *testing.T, db *gorm.DB, slug string) (models.Workspace, models.Customer) {
	t.Helper()
	ws := models.Workspace{Name: slug, Slug: slug, Currency: "USD"}
	if err := db.Create(&ws).Error; err != nil {
		t.Fatalf("workspace: %v", err)
	}
	cust := models.Customer{WorkspaceID: ws.ID, Name: "Acme Corp", Email: "billing@acme.test"}
	if err := db.Create(&cust).Error; err != nil {
		t.Fatalf("customer: %v", err)
	}
	return ws, cust
}

// fakeProcessor is an in-memory processor.Client that records calls.
type fakeProcessor struct {
	mu             sync.Mutex
	accountSeq     int
	customerSeq    int
	invoiceSeq     int
	linkSeq        int
	hostedCalls    []processor.HostedInvoiceParams
	accountCalls   int
	snapshot       processor.AccountSnapshot
	hostedErr      error
	createAcctErr  error
	createLinkErr  error
	getAccountErr  error
	linkExpiresAt  time.Time
}

var _ processor.Client = (*fakeProcessor)(nil)

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{linkExpiresAt: time.Now().Add(10 * time.Minute)}
}

func (f *fakeProcessor) CreateAccount(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAcctErr != nil {
		return "", f.createAcctErr
	}
	f.accountSeq++
	f.accountCalls++
	return fmt.Sprintf("acct_%d", f.accountSeq), nil
}

func (f *fakeProcessor) CreateAccountLink(_ context.Context, accountID, _, _ string) (processor.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createLinkErr != nil {
		return processor.AccountLink{}, f.createLinkErr
	}
	f.linkSeq++
	return processor.AccountLink{URL: fmt.Sprintf("https://onboard.test/%s/%d", accountID, f.linkSeq), ExpiresAt: f.linkExpiresAt}, nil
}

func (f *fakeProcessor) GetAccount(_ context.Context, accountID string) (processor.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getAccountErr != nil {
		return processor.AccountSnapshot{}, f.getAccountErr
	}
	snap := f.snapshot
	snap.AccountID = accountID
	return snap, nil
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, _ processor.CustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerSeq++
	return fmt.Sprintf("cus_%d", f.customerSeq), nil
}

func (f *fakeProcessor) CreateHostedInvoice(_ context.Context, p processor.HostedInvoiceParams) (processor.HostedInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostedErr != nil {
		return processor.HostedInvoice{}, f.hostedErr
	}
	f.invoiceSeq++
	f.hostedCalls = append(f.hostedCalls, p)
	id := fmt.Sprintf("in_%d", f.invoiceSeq)
	return processor.HostedInvoice{ID: id, HostedURL: "https://pay.test/" + id, PDFURL: "https://pay.test/" + id + ".pdf"}, nil
}

func (f *fakeProcessor) VerifyWebhook(_ []byte, _ string) (processor.Envelope, error) {
	return processor.Envelope{}, fmt.Errorf("not used in service tests")
}

func (f *fakeProcessor) hostedCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hostedCalls)
}

// fakeNotifier records notification requests and can be told to fail.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  error
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) SendInvoiceNotification(_ context.Context, toAddress string, _ notify.InvoiceSummary, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, toAddress)
	return nil
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newInvoiceService(db *gorm.DB, fp *fakeProcessor, fn *fakeNotifier) *InvoiceService {
	return NewInvoiceService(db, fp, fn, zerolog.Nop(), 0)
}

func newAccountService(db *gorm.DB, fp *fakeProcessor) *AccountService {
	return NewAccountService(db, fp, zerolog.Nop(), "https://app.test/return", "https://app.test/refresh")
}

// readyAccount seeds a fully onboarded connected account for a workspace.
func readyAccount(t *testing.T, db *gorm.DB, wsID uint, externalID string) models.ConnectedAccount {
	t.Helper()
	acct := models.ConnectedAccount{
		WorkspaceID:       wsID,
		ExternalAccountID: externalID,
		ChargesEnabled:    true,
		PayoutsEnabled:    true,
		DetailsSubmitted:  true,
		CurrentlyDue:      "[]",
		EventuallyDue:     "[]",
		PastDue:           "[]",
	}
	acct.OnboardingStatus = DeriveOnboardingStatus(&acct)
	if err := db.Create(&acct).Error; err != nil {
		t.Fatalf("account: %v", err)
	}
	return acct
}
