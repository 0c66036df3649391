package handlers

import (
	"net/http"
	"time"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/services"
)

type ReportsHandler struct {
	queries *services.QueryService
}

func NewReportsHandler(q *services.QueryService) *ReportsHandler {
	return &ReportsHandler{queries: q}
}

func (h *ReportsHandler) Aging(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	report, err := h.queries.Aging(r.Context(), wsID, time.Now().UTC())
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *ReportsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	totals, err := h.queries.Dashboard(r.Context(), wsID, time.Now().UTC())
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	avg, err := h.queries.AverageCollectionDays(r.Context(), wsID)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"outstanding":             totals.Outstanding,
		"collected":               totals.Collected,
		"month_revenue":           totals.MonthRevenue,
		"open_invoices":           totals.OpenInvoices,
		"average_collection_days": avg,
	})
}
