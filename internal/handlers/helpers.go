package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/money"
	"github.com/sellaro/billing/internal/services"
)

// pathUint reads a numeric path value. A zero or malformed value returns
// false; handlers respond 404 since the route cannot name an entity.
func pathUint(r *http.Request, name string) (uint, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// writeServiceError maps service-layer errors to stable JSON error codes.
// Validation and illegal-transition errors carry structured details.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *money.InvalidLineItemsError
	if errors.As(err, &verr) {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "invalid_line_items", verr.Violations)
		return
	}
	var terr *services.InvalidTransitionError
	if errors.As(err, &terr) {
		httpx.JSONError(w, http.StatusConflict, "invalid_state_transition", map[string]string{
			"current":   terr.Current,
			"attempted": terr.Attempted,
		})
		return
	}
	switch {
	case errors.Is(err, services.ErrWorkspaceNotFound),
		errors.Is(err, services.ErrCustomerNotFound),
		errors.Is(err, services.ErrInvoiceNotFound),
		errors.Is(err, services.ErrAccountNotFound):
		httpx.JSONError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrCustomerMissingEmail):
		httpx.JSONError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, services.ErrAccountNotReady),
		errors.Is(err, services.ErrOnboardingNotStarted):
		httpx.JSONError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, money.ErrNegativeTaxPercent):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "tax_percent_invalid", nil)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
