package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/handlers"
	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/services"
)

// Deps is everything the router wires into handlers.
type Deps struct {
	DB         *gorm.DB
	Invoices   *services.InvoiceService
	Accounts   *services.AccountService
	Queries    *services.QueryService
	Reconciler *services.Reconciler
	Verifier   handlers.WebhookVerifier
	Log        zerolog.Logger
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := d.DB.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	wh := handlers.NewWorkspaceHandler(d.DB)
	mux.HandleFunc("POST /api/workspaces", wh.Create)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}", wh.Get)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/customers", wh.ListCustomers)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/customers", wh.CreateCustomer)

	ih := handlers.NewInvoiceHandler(d.DB, d.Invoices)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/invoices", ih.List)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices", ih.Create)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/invoices/{id}", ih.Get)
	mux.HandleFunc("PUT /api/workspaces/{workspaceID}/invoices/{id}", ih.Update)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices/{id}/publish", ih.Publish)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices/{id}/cancel", ih.Cancel)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices/{id}/overdue", ih.MarkOverdue)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices/{id}/pay", ih.Pay)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/invoices/{id}/push", ih.Push)

	ah := handlers.NewAccountHandler(d.Accounts)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/onboarding", ah.Status)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/onboarding", ah.Begin)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/onboarding/refresh", ah.Refresh)
	mux.HandleFunc("POST /api/workspaces/{workspaceID}/onboarding/sync", ah.Sync)

	rh := handlers.NewReportsHandler(d.Queries)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/reports/aging", rh.Aging)
	mux.HandleFunc("GET /api/workspaces/{workspaceID}/reports/dashboard", rh.Dashboard)

	webhook := handlers.NewWebhookHandler(d.Verifier, d.Reconciler, d.Log)
	mux.HandleFunc("POST /webhooks/processor", webhook.Receive)

	return withRecover(withLogging(mux, d.Log), d.Log)
}

// statusRecorder captures the written status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(rec, r)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func withRecover(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("handler panic")
				httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
