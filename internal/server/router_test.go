package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/notify"
	"github.com/sellaro/billing/internal/processor"
	"github.com/sellaro/billing/internal/services"
)

type noopProcessor struct{}

func (noopProcessor) CreateAccount(context.Context, string) (string, error) { return "acct_r", nil }
func (noopProcessor) CreateAccountLink(context.Context, string, string, string) (processor.AccountLink, error) {
	return processor.AccountLink{URL: "https://onboard.test/r", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (noopProcessor) GetAccount(_ context.Context, id string) (processor.AccountSnapshot, error) {
	return processor.AccountSnapshot{AccountID: id}, nil
}
func (noopProcessor) CreateCustomer(context.Context, processor.CustomerParams) (string, error) {
	return "cus_r", nil
}
func (noopProcessor) CreateHostedInvoice(context.Context, processor.HostedInvoiceParams) (processor.HostedInvoice, error) {
	return processor.HostedInvoice{ID: "in_r"}, nil
}
func (noopProcessor) VerifyWebhook([]byte, string) (processor.Envelope, error) {
	return processor.Envelope{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
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
	pc := noopProcessor{}
	return New(Deps{
		DB:         db,
		Invoices:   services.NewInvoiceService(db, pc, &notify.LogNotifier{Log: zerolog.Nop()}, zerolog.Nop(), 0),
		Accounts:   services.NewAccountService(db, pc, zerolog.Nop(), "https://r.test", "https://r.test"),
		Queries:    services.NewQueryService(db),
		Reconciler: services.NewReconciler(db, zerolog.Nop()),
		Verifier:   pc,
		Log:        zerolog.Nop(),
	})
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/healthz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestMethodMismatchRejected(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/workspaces", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	wrapped := withRecover(panicky, zerolog.Nop())
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}
