package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
	"github.com/sellaro/billing/internal/processor"
)

// AccountService tracks a workspace's connected payment account through
// onboarding. The account row is created once per workspace and only ever
// updated afterwards.
type AccountService struct {
	DB         *gorm.DB
	Processor  processor.Client
	Log        zerolog.Logger
	ReturnURL  string
	RefreshURL string
}

func NewAccountService(db *gorm.DB, pc processor.Client, log zerolog.Logger, returnURL, refreshURL string) *AccountService {
	return &AccountService{DB: db, Processor: pc, Log: log, ReturnURL: returnURL, RefreshURL: refreshURL}
}

// DeriveOnboardingStatus computes the composite status purely from the flags
// and requirement lists. It is the only way a status value is ever produced;
// the stored column exists for query convenience only. Complete is the AND of
// charges and payouts with nothing currently or past due.
func DeriveOnboardingStatus(a *models.ConnectedAccount) string {
	if a == nil || a.ExternalAccountID == "" {
		return models.OnboardingNotStarted
	}
	if a.Deauthorized {
		return models.OnboardingDeauthorized
	}
	currently, _, past := a.Requirements()
	outstanding := len(currently) > 0 || len(past) > 0
	if a.DetailsSubmitted && outstanding {
		return models.OnboardingVerificationRequired
	}
	if a.ChargesEnabled && a.PayoutsEnabled && !outstanding {
		return models.OnboardingComplete
	}
	if a.DetailsSubmitted && !a.ChargesEnabled && !a.PayoutsEnabled && !outstanding {
		return models.OnboardingAuthorized
	}
	return models.OnboardingInProgress
}

// Get returns the workspace's connected account or ErrAccountNotFound.
func (s *AccountService) Get(ctx context.Context, workspaceID uint) (*models.ConnectedAccount, error) {
	var acct models.ConnectedAccount
	err := s.DB.WithContext(ctx).Where("workspace_id = ?", workspaceID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// BeginOnboarding creates the connected-account row if absent, requests an
// external account and a one-time onboarding link, and stores both. Safe to
// call again: the external account is created at most once (idempotency key
// derived from the workspace id), only the link is refreshed.
func (s *AccountService) BeginOnboarding(ctx context.Context, workspaceID uint) (*models.ConnectedAccount, error) {
	var ws models.Workspace
	if err := s.DB.WithContext(ctx).First(&ws, workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, err
	}

	var acct models.ConnectedAccount
	err := s.DB.WithContext(ctx).Where("workspace_id = ?", ws.ID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = models.ConnectedAccount{WorkspaceID: ws.ID, OnboardingStatus: models.OnboardingNotStarted, CurrentlyDue: "[]", EventuallyDue: "[]", PastDue: "[]"}
		if err := s.DB.WithContext(ctx).Create(&acct).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if acct.ExternalAccountID == "" {
		accountID, err := s.Processor.CreateAccount(ctx, fmt.Sprintf("workspace-%d-account", ws.ID))
		if err != nil {
			return nil, fmt.Errorf("begin onboarding: %w", err)
		}
		acct.ExternalAccountID = accountID
	}

	link, err := s.Processor.CreateAccountLink(ctx, acct.ExternalAccountID, s.RefreshURL, s.ReturnURL)
	if err != nil {
		return nil, fmt.Errorf("begin onboarding: %w", err)
	}

	return s.storeLink(ctx, &acct, link, "onboarding_started")
}

// RefreshLink requests a new time-boxed onboarding/verification link. The
// stored expiry lets callers avoid surfacing stale links to users.
func (s *AccountService) RefreshLink(ctx context.Context, workspaceID uint) (*models.ConnectedAccount, error) {
	acct, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if acct.ExternalAccountID == "" {
		return nil, ErrOnboardingNotStarted
	}
	link, err := s.Processor.CreateAccountLink(ctx, acct.ExternalAccountID, s.RefreshURL, s.ReturnURL)
	if err != nil {
		return nil, fmt.Errorf("refresh link: %w", err)
	}
	return s.storeLink(ctx, acct, link, "onboarding_link_refreshed")
}

func (s *AccountService) storeLink(ctx context.Context, acct *models.ConnectedAccount, link processor.AccountLink, eventName string) (*models.ConnectedAccount, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockAccount(tx, acct.WorkspaceID)
		if err != nil {
			return err
		}
		locked.ExternalAccountID = acct.ExternalAccountID
		locked.OnboardingURL = link.URL
		expires := link.ExpiresAt
		locked.OnboardingExpires = &expires
		locked.OnboardingStatus = DeriveOnboardingStatus(locked)
		if err := tx.Save(locked).Error; err != nil {
			return err
		}
		*acct = *locked
		return appendAccountEvent(tx, locked.ID, eventName, map[string]any{"url": link.URL, "expires_at": link.ExpiresAt})
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ApplyAccountSnapshot upserts the capability flags and requirement lists
// from a processor snapshot and recomputes the derived status. Idempotent:
// the snapshot carries absolute values, so reapplying converges.
func (s *AccountService) ApplyAccountSnapshot(ctx context.Context, workspaceID uint, snap processor.AccountSnapshot, eventID string, at time.Time) (*models.ConnectedAccount, error) {
	var out models.ConnectedAccount
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, workspaceID)
		if err != nil {
			return err
		}
		if err := applySnapshotTx(tx, acct, snap, eventID, at, "account_snapshot_applied"); err != nil {
			return err
		}
		out = *acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncFromProcessor fetches a fresh snapshot and applies it (used after the
// user returns from the onboarding flow, without waiting for the webhook).
func (s *AccountService) SyncFromProcessor(ctx context.Context, workspaceID uint) (*models.ConnectedAccount, error) {
	acct, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if acct.ExternalAccountID == "" {
		return nil, ErrOnboardingNotStarted
	}
	snap, err := s.Processor.GetAccount(ctx, acct.ExternalAccountID)
	if err != nil {
		return nil, fmt.Errorf("sync account: %w", err)
	}
	return s.ApplyAccountSnapshot(ctx, workspaceID, snap, "", time.Now().UTC())
}

func lockAccount(tx *gorm.DB, workspaceID uint) (*models.ConnectedAccount, error) {
	var acct models.ConnectedAccount
	if err := lockForUpdate(tx).Where("workspace_id = ?", workspaceID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func lockAccountByExternalID(tx *gorm.DB, externalAccountID string) (*models.ConnectedAccount, error) {
	var acct models.ConnectedAccount
	if err := lockForUpdate(tx).Where("external_account_id = ?", externalAccountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// applySnapshotTx mutates the account row inside the caller's transaction.
// Shared by the user-driven sync path and the reconciler.
func applySnapshotTx(tx *gorm.DB, acct *models.ConnectedAccount, snap processor.AccountSnapshot, eventID string, at time.Time, eventName string) error {
	acct.ChargesEnabled = snap.ChargesEnabled
	acct.PayoutsEnabled = snap.PayoutsEnabled
	acct.DetailsSubmitted = snap.DetailsSubmitted
	acct.SetRequirements(snap.CurrentlyDue, snap.EventuallyDue, snap.PastDue)
	acct.OnboardingStatus = DeriveOnboardingStatus(acct)
	if eventID != "" {
		acct.LastEventID = eventID
		eventAt := at
		acct.LastEventAt = &eventAt
	}
	if err := tx.Save(acct).Error; err != nil {
		return err
	}
	return appendAccountEvent(tx, acct.ID, eventName, snap)
}

// appendAccountEvent writes one append-only audit entry.
func appendAccountEvent(tx *gorm.DB, accountID uint, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return tx.Create(&models.AccountEvent{
		AccountID: accountID,
		EventName: name,
		Payload:   string(raw),
		CreatedAt: time.Now().UTC(),
	}).Error
}
