// Package scm provides the GitHub App client used for installation tokens
// and repository metadata.
package scm

import (
	"context"
	"time"
)

// Config holds the configuration for the GitHub App client.
type Config struct {
	// AppID is the numeric GitHub App id, used as the JWT issuer.
	AppID string
	// PrivateKey is the App's RSA private key in PEM form.
	PrivateKey string
	// BaseURL overrides the API base URL for GitHub Enterprise.
	BaseURL string
	// Timeout bounds each API call.
	Timeout time.Duration
}

// InstallationToken is a short-lived token minted for one installation.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// Repository represents a repository as reported by the provider.
type Repository struct {
	ID            int64
	Name          string
	FullName      string
	DefaultBranch string
	Private       bool
	Archived      bool
	PushedAt      time.Time
}

// AppClient defines the provider operations the platform needs. Calls that
// act on repository contents take an installation token; minting one is
// authenticated with the App JWT.
type AppClient interface {
	// CreateInstallationToken mints a fresh installation access token.
	CreateInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error)

	// ListInstallationRepositories returns all repositories the
	// installation grants access to, following pagination.
	ListInstallationRepositories(ctx context.Context, token string) ([]Repository, error)

	// GetRepositoryLanguages returns language byte counts for a repository.
	GetRepositoryLanguages(ctx context.Context, token, fullName string) (map[string]int64, error)
}

// Common errors
var (
	ErrAuthFailed  = NewSCMError("authentication failed", "AUTH_FAILED")
	ErrRateLimited = NewSCMError("rate limit exceeded", "RATE_LIMITED")
	ErrNotFound    = NewSCMError("resource not found", "NOT_FOUND")
)

// SCMError represents an error from the SCM provider.
type SCMError struct {
	Message string
	Code    string
	Wrapped error
}

// NewSCMError creates a new SCMError.
func NewSCMError(message, code string) *SCMError {
	return &SCMError{Message: message, Code: code}
}

// Error implements the error interface.
func (e *SCMError) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

// Wrap wraps an underlying error.
func (e *SCMError) Wrap(err error) *SCMError {
	return &SCMError{
		Message: e.Message,
		Code:    e.Code,
		Wrapped: err,
	}
}

// Unwrap returns the wrapped error.
func (e *SCMError) Unwrap() error {
	return e.Wrapped
}
