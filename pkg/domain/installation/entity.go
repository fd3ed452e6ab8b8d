// Package installation provides the domain model for GitHub App installations
// and their short-lived access tokens.
package installation

import (
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// AccountType represents the kind of account an installation belongs to.
type AccountType string

const (
	AccountTypeUser         AccountType = "User"
	AccountTypeOrganization AccountType = "Organization"
)

// Installation represents a GitHub App installation on a user or organization
// account. One row per provider installation; webhook events keep it current.
type Installation struct {
	ID             shared.ID
	InstallationID int64 // provider-assigned installation id
	AccountLogin   string
	AccountType    AccountType
	UserID         *shared.ID // platform user who connected the installation, if known
	SuspendedAt    *time.Time
	Metadata       map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewInstallation creates a new installation record.
func NewInstallation(installationID int64, accountLogin string, accountType AccountType) (*Installation, error) {
	if installationID <= 0 {
		return nil, shared.NewDomainError("VALIDATION", "installation_id must be positive", shared.ErrValidation)
	}
	if accountLogin == "" {
		return nil, shared.NewDomainError("VALIDATION", "account_login is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Installation{
		ID:             shared.NewID(),
		InstallationID: installationID,
		AccountLogin:   accountLogin,
		AccountType:    accountType,
		Metadata:       make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Suspend marks the installation as suspended.
func (i *Installation) Suspend() {
	now := time.Now()
	i.SuspendedAt = &now
	i.UpdatedAt = now
}

// Unsuspend clears the suspension.
func (i *Installation) Unsuspend() {
	i.SuspendedAt = nil
	i.UpdatedAt = time.Now()
}

// IsSuspended returns true if the installation is currently suspended.
func (i *Installation) IsSuspended() bool {
	return i.SuspendedAt != nil
}

// AccessToken is a cached installation access token. Rows are insert-only;
// the newest unexpired row is the usable one and older rows age out.
type AccessToken struct {
	ID             shared.ID
	InstallationID int64  // provider installation id, matches Installation.InstallationID
	TokenEncrypted string // iv_hex:ciphertext_hex, never plaintext at rest
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// NewAccessToken creates a cached token record from an encrypted token value.
func NewAccessToken(installationID int64, tokenEncrypted string, expiresAt time.Time) (*AccessToken, error) {
	if installationID <= 0 {
		return nil, shared.NewDomainError("VALIDATION", "installation_id must be positive", shared.ErrValidation)
	}
	if tokenEncrypted == "" {
		return nil, shared.NewDomainError("VALIDATION", "token is required", shared.ErrValidation)
	}

	return &AccessToken{
		ID:             shared.NewID(),
		InstallationID: installationID,
		TokenEncrypted: tokenEncrypted,
		ExpiresAt:      expiresAt.UTC(),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// IsUsable reports whether the token is still valid at the given instant.
// A token expiring exactly now is treated as expired.
func (t *AccessToken) IsUsable(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
