package scm

import "context"

// ErrNotConfigured is returned by the disabled client.
var ErrNotConfigured = NewSCMError("github app is not configured", "NOT_CONFIGURED")

// disabledClient fails every provider call. It stands in for the real client
// when the GitHub App is not configured, so local development without
// credentials still boots.
type disabledClient struct{}

// NewDisabledClient returns an AppClient with the provider switched off.
func NewDisabledClient() AppClient {
	return disabledClient{}
}

func (disabledClient) CreateInstallationToken(_ context.Context, _ int64) (*InstallationToken, error) {
	return nil, ErrNotConfigured
}

func (disabledClient) ListInstallationRepositories(_ context.Context, _ string) ([]Repository, error) {
	return nil, ErrNotConfigured
}

func (disabledClient) GetRepositoryLanguages(_ context.Context, _, _ string) (map[string]int64, error) {
	return nil, ErrNotConfigured
}

var _ AppClient = disabledClient{}
