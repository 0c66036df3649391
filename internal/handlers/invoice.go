package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/services"
)

type InvoiceHandler struct {
	db  *gorm.DB
	svc *services.InvoiceService
}

func NewInvoiceHandler(db *gorm.DB, svc *services.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{db: db, svc: svc}
}

type lineItemRequest struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type createInvoiceRequest struct {
	CustomerID uint              `json:"customer_id"`
	Currency   string            `json:"currency"`
	TaxPercent string            `json:"tax_percent"`
	DueInDays  *int              `json:"due_in_days"`
	Items      []lineItemRequest `json:"items"`
}

type updateInvoiceRequest struct {
	TaxPercent *string           `json:"tax_percent"`
	DueInDays  *int              `json:"due_in_days"`
	Items      []lineItemRequest `json:"items"`
}

type payInvoiceRequest struct {
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
	PaidAt        string `json:"paid_at"` // RFC 3339, optional
}

type lineItemResponse struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Amount      int64  `json:"amount"`
}

type invoiceResponse struct {
	ID          uint               `json:"id"`
	Number      string             `json:"number"`
	CustomerID  uint               `json:"customer_id"`
	Status      string             `json:"status"`
	Currency    string             `json:"currency"`
	Subtotal    int64              `json:"subtotal"`
	TaxPercent  string             `json:"tax_percent"`
	TaxAmount   int64              `json:"tax_amount"`
	Total       int64              `json:"total"`
	InvoiceDate time.Time          `json:"invoice_date"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	SentDate    *time.Time         `json:"sent_date,omitempty"`
	PaidDate    *time.Time         `json:"paid_date,omitempty"`
	ExternalID  string             `json:"external_id,omitempty"`
	HostedURL   string             `json:"hosted_url,omitempty"`
	PDFURL      string             `json:"pdf_url,omitempty"`
	Items       []lineItemResponse `json:"items,omitempty"`
}

func invoiceView(inv *models.Invoice) invoiceResponse {
	out := invoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		CustomerID:  inv.CustomerID,
		Status:      inv.Status,
		Currency:    inv.Currency,
		Subtotal:    inv.Subtotal,
		TaxPercent:  inv.TaxPercent,
		TaxAmount:   inv.TaxAmount,
		Total:       inv.Total,
		InvoiceDate: inv.InvoiceDate,
		DueDate:     inv.DueDate,
		SentDate:    inv.SentDate,
		PaidDate:    inv.PaidDate,
		ExternalID:  inv.ExternalID,
		HostedURL:   inv.HostedURL,
		PDFURL:      inv.PDFURL,
	}
	for _, it := range inv.Items {
		out.Items = append(out.Items, lineItemResponse{
			Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Amount: it.Amount,
		})
	}
	return out
}

func toServiceItems(in []lineItemRequest) []services.LineItemInput {
	items := make([]services.LineItemInput, len(in))
	for i, it := range in {
		items[i] = services.LineItemInput{Description: strings.TrimSpace(it.Description), Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return items
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit := 20
	offset := (page - 1) * limit

	db := h.db.WithContext(r.Context()).Where("workspace_id = ?", wsID)
	if status := r.URL.Query().Get("status"); status != "" {
		db = db.Where("status = ?", status)
	}

	var total int64
	db.Model(&models.Invoice{}).Count(&total)
	var invoices []models.Invoice
	if err := db.Preload("Items").Order("id DESC").Limit(limit).Offset(offset).Find(&invoices).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	out := make([]invoiceResponse, len(invoices))
	for i := range invoices {
		out[i] = invoiceView(&invoices[i])
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": out, "page": page, "total": total})
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, ok := pathUint(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var inv models.Invoice
	if err := h.db.WithContext(r.Context()).Preload("Items").Where("workspace_id = ?", wsID).First(&inv, id).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "invoice_not_found", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(&inv))
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req createInvoiceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	pct := decimal.Zero
	if req.TaxPercent != "" {
		var err error
		pct, err = decimal.NewFromString(req.TaxPercent)
		if err != nil {
			httpx.JSONError(w, http.StatusUnprocessableEntity, "tax_percent_invalid", nil)
			return
		}
	}
	inv, err := h.svc.Create(r.Context(), services.CreateInvoiceInput{
		WorkspaceID: wsID,
		CustomerID:  req.CustomerID,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		TaxPercent:  pct,
		DueInDays:   req.DueInDays,
		Items:       toServiceItems(req.Items),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceView(inv))
}

func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, ok := pathUint(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req updateInvoiceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	in := services.UpdateInvoiceInput{Items: toServiceItems(req.Items), DueInDays: req.DueInDays}
	if req.TaxPercent != nil {
		pct, err := decimal.NewFromString(*req.TaxPercent)
		if err != nil {
			httpx.JSONError(w, http.StatusUnprocessableEntity, "tax_percent_invalid", nil)
			return
		}
		in.TaxPercent = &pct
	}
	inv, err := h.svc.Update(r.Context(), wsID, id, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *InvoiceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Publish)
}

func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Cancel)
}

func (h *InvoiceHandler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.MarkOverdue)
}

func (h *InvoiceHandler) Push(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.PushToProcessor)
}

// lifecycle runs one of the uniform workspace-scoped transitions.
func (h *InvoiceHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, wsID, id uint) (*models.Invoice, error)) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, ok := pathUint(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	inv, err := op(r.Context(), wsID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *InvoiceHandler) Pay(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, ok := pathUint(r, "id")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req payInvoiceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"transaction_id": "required"})
		return
	}
	if req.Method == "" {
		req.Method = "manual"
	}
	var paidAt time.Time
	if req.PaidAt != "" {
		t, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"paid_at": "invalid_timestamp"})
			return
		}
		paidAt = t
	}
	inv, err := h.svc.MarkPaid(r.Context(), wsID, id, req.Amount, req.TransactionID, req.Method, paidAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}
