package handlers

import (
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/models"
)

type WorkspaceHandler struct {
	db *gorm.DB
}

func NewWorkspaceHandler(db *gorm.DB) *WorkspaceHandler {
	return &WorkspaceHandler{db: db}
}

type workspaceRequest struct {
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	Currency   string   `json:"currency"`
	FeePercent *float64 `json:"fee_percent"`
}

type workspaceResponse struct {
	ID         uint     `json:"id"`
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	Currency   string   `json:"currency"`
	FeePercent *float64 `json:"fee_percent,omitempty"`
}

func workspaceView(ws models.Workspace) workspaceResponse {
	return workspaceResponse{ID: ws.ID, Name: ws.Name, Slug: ws.Slug, Currency: ws.Currency, FeePercent: ws.FeePercent}
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	fe := make(map[string]string)
	if req.Name == "" {
		fe["name"] = "required"
	}
	if req.Slug == "" {
		fe["slug"] = "required"
	}
	if len(fe) > 0 {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", fe)
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	ws := models.Workspace{
		Name:       req.Name,
		Slug:       req.Slug,
		Currency:   strings.ToUpper(req.Currency),
		FeePercent: req.FeePercent,
	}
	if err := h.db.WithContext(r.Context()).Create(&ws).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") || strings.Contains(err.Error(), "duplicate") {
			httpx.JSONError(w, http.StatusConflict, "slug_already_exists", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, workspaceView(ws))
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var ws models.Workspace
	if err := h.db.WithContext(r.Context()).First(&ws, wsID).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "workspace_not_found", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, workspaceView(ws))
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type customerResponse struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id,omitempty"`
}

func customerView(c models.Customer) customerResponse {
	return customerResponse{ID: c.ID, Name: c.Name, Email: c.Email, ExternalID: c.ExternalID}
}

func (h *WorkspaceHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var ws models.Workspace
	if err := h.db.WithContext(r.Context()).First(&ws, wsID).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "workspace_not_found", nil)
		return
	}
	var req customerRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", map[string]string{"name": "required"})
		return
	}
	cust := models.Customer{WorkspaceID: ws.ID, Name: req.Name, Email: req.Email}
	if err := h.db.WithContext(r.Context()).Create(&cust).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, customerView(cust))
}

func (h *WorkspaceHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	db := h.db.WithContext(r.Context()).Where("workspace_id = ?", wsID)
	if q != "" {
		db = db.Where("name LIKE ?", "%"+q+"%")
	}
	var customers []models.Customer
	if err := db.Order("name").Find(&customers).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	out := make([]customerResponse, len(customers))
	for i, c := range customers {
		out[i] = customerView(c)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": out})
}
