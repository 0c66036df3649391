package services

import (
	"errors"
	"fmt"
)

var (
	ErrWorkspaceNotFound    = errors.New("workspace_not_found")
	ErrCustomerNotFound     = errors.New("customer_not_found")
	ErrCustomerMissingEmail = errors.New("customer_missing_email")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrAccountNotReady      = errors.New("account_not_ready")
	ErrOnboardingNotStarted = errors.New("onboarding_not_started")
)

// InvalidTransitionError rejects a state-machine edge that does not exist.
// Direct user actions receive it as a hard error; the reconciler treats the
// same condition as a silent no-op to tolerate reordered event delivery.
type InvalidTransitionError struct {
	Current   string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_state_transition current=%s attempted=%s", e.Current, e.Attempted)
}
