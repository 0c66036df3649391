package models

import (
	"encoding/json"
	"time"
)

// Connected-account onboarding states. The stored OnboardingStatus is always
// the output of services.DeriveOnboardingStatus over the flags below; it is
// never written independently.
const (
	OnboardingNotStarted           = "not_started"
	OnboardingInProgress           = "in_progress"
	OnboardingAuthorized           = "authorized"
	OnboardingVerificationRequired = "verification_required"
	OnboardingComplete             = "complete"
	OnboardingDeauthorized         = "deauthorized"
)

// ConnectedAccount tracks a workspace's account on the external payment
// processor. One row per workspace, created on first onboarding request,
// updated forever after, never deleted.
type ConnectedAccount struct {
	ID                uint   `gorm:"primaryKey"`
	WorkspaceID       uint   `gorm:"not null;uniqueIndex"`
	ExternalAccountID string `gorm:"index"`

	ChargesEnabled   bool `gorm:"not null;default:false"`
	PayoutsEnabled   bool `gorm:"not null;default:false"`
	DetailsSubmitted bool `gorm:"not null;default:false"`
	Deauthorized     bool `gorm:"not null;default:false"`

	// Requirement code lists as reported by the processor, JSON-serialized.
	CurrentlyDue  string `gorm:"type:text"`
	EventuallyDue string `gorm:"type:text"`
	PastDue       string `gorm:"type:text"`

	OnboardingStatus string `gorm:"not null;default:'not_started'"`

	OnboardingURL     string
	OnboardingExpires *time.Time

	LastEventID string
	LastEventAt *time.Time

	Events []AccountEvent `gorm:"foreignKey:AccountID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ready reports whether the account can collect payments. Both capabilities
// must be enabled; a half-enabled account is not usable for invoicing.
func (a *ConnectedAccount) Ready() bool {
	return a != nil && !a.Deauthorized && a.ChargesEnabled && a.PayoutsEnabled
}

// Requirements returns the deserialized requirement lists.
func (a *ConnectedAccount) Requirements() (currently, eventually, past []string) {
	currently = decodeList(a.CurrentlyDue)
	eventually = decodeList(a.EventuallyDue)
	past = decodeList(a.PastDue)
	return
}

// SetRequirements serializes the requirement lists onto the row.
func (a *ConnectedAccount) SetRequirements(currently, eventually, past []string) {
	a.CurrentlyDue = encodeList(currently)
	a.EventuallyDue = encodeList(eventually)
	a.PastDue = encodeList(past)
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

// AccountEvent is an append-only audit entry for account state changes.
type AccountEvent struct {
	ID        uint      `gorm:"primaryKey"`
	AccountID uint      `gorm:"not null;index"`
	EventName string    `gorm:"not null"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}
