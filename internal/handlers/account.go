package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/services"
)

type AccountHandler struct {
	svc *services.AccountService
}

func NewAccountHandler(svc *services.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type requirementsResponse struct {
	CurrentlyDue  []string `json:"currently_due"`
	EventuallyDue []string `json:"eventually_due"`
	PastDue       []string `json:"past_due"`
}

type accountResponse struct {
	Status            string                `json:"status"`
	ChargesEnabled    bool                  `json:"charges_enabled"`
	PayoutsEnabled    bool                  `json:"payouts_enabled"`
	DetailsSubmitted  bool                  `json:"details_submitted"`
	Ready             bool                  `json:"ready"`
	Requirements      requirementsResponse  `json:"requirements"`
	OnboardingURL     string                `json:"onboarding_url,omitempty"`
	OnboardingExpires *time.Time            `json:"onboarding_expires,omitempty"`
}

func accountView(a *models.ConnectedAccount) accountResponse {
	currently, eventually, past := a.Requirements()
	url := a.OnboardingURL
	if a.OnboardingExpires != nil && a.OnboardingExpires.Before(time.Now()) {
		// never hand out an expired link
		url = ""
	}
	return accountResponse{
		Status:            a.OnboardingStatus,
		ChargesEnabled:    a.ChargesEnabled,
		PayoutsEnabled:    a.PayoutsEnabled,
		DetailsSubmitted:  a.DetailsSubmitted,
		Ready:             a.Ready(),
		Requirements:      requirementsResponse{CurrentlyDue: currently, EventuallyDue: eventually, PastDue: past},
		OnboardingURL:     url,
		OnboardingExpires: a.OnboardingExpires,
	}
}

// Status reports the derived onboarding state. A workspace that never started
// onboarding gets a synthetic not_started view rather than a 404, so clients
// do not need to special-case the first visit.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	acct, err := h.svc.Get(r.Context(), wsID)
	if errors.Is(err, services.ErrAccountNotFound) {
		httpx.JSON(w, http.StatusOK, accountResponse{Status: models.OnboardingNotStarted})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountView(acct))
}

func (h *AccountHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.link(w, r, h.svc.BeginOnboarding)
}

func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.link(w, r, h.svc.RefreshLink)
}

func (h *AccountHandler) Sync(w http.ResponseWriter, r *http.Request) {
	h.link(w, r, h.svc.SyncFromProcessor)
}

func (h *AccountHandler) link(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, wsID uint) (*models.ConnectedAccount, error)) {
	wsID, ok := pathUint(r, "workspaceID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	acct, err := op(r.Context(), wsID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountView(acct))
}
