package scm

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultUserAgent = "deplai-api/1.0"

// appJWTLifetime is the GitHub-imposed maximum for App JWTs.
const appJWTLifetime = 10 * time.Minute

// GitHubAppClient implements AppClient against the GitHub API.
type GitHubAppClient struct {
	config     Config
	httpClient *http.Client
	baseURL    string
	privateKey *rsa.PrivateKey
}

// NewGitHubAppClient creates a new GitHub App client.
func NewGitHubAppClient(config Config) (*GitHubAppClient, error) {
	if config.AppID == "" {
		return nil, fmt.Errorf("app id is required")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}

	baseURL := "https://api.github.com"
	if config.BaseURL != "" {
		baseURL = strings.TrimSuffix(config.BaseURL, "/")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GitHubAppClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		privateKey: key,
	}, nil
}

// appJWT signs a short-lived App JWT. Issued-at is backdated 60 seconds to
// tolerate clock drift between us and the provider.
func (c *GitHubAppClient) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.config.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app jwt: %w", err)
	}

	return signed, nil
}

// CreateInstallationToken mints a fresh installation access token.
func (c *GitHubAppClient) CreateInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	appJWT, err := c.appJWT()
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, appJWT, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuthFailed.Wrap(fmt.Errorf("app jwt rejected"))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound.Wrap(fmt.Errorf("installation %d not found", installationID))
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, unexpectedStatus(resp)
	}

	var tokenResp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &InstallationToken{
		Token:     tokenResp.Token,
		ExpiresAt: tokenResp.ExpiresAt,
	}, nil
}

// ListInstallationRepositories returns all repositories the installation
// grants access to.
func (c *GitHubAppClient) ListInstallationRepositories(ctx context.Context, token string) ([]Repository, error) {
	var repos []Repository

	for page := 1; ; page++ {
		path := fmt.Sprintf("/installation/repositories?per_page=100&page=%d", page)
		resp, err := c.doRequest(ctx, http.MethodGet, path, token, nil)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, ErrAuthFailed.Wrap(fmt.Errorf("installation token rejected"))
		}
		if resp.StatusCode != http.StatusOK {
			err := unexpectedStatus(resp)
			resp.Body.Close()
			return nil, err
		}

		var listResp struct {
			TotalCount   int      `json:"total_count"`
			Repositories []ghRepo `json:"repositories"`
		}
		err = json.NewDecoder(resp.Body).Decode(&listResp)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		for _, r := range listResp.Repositories {
			repos = append(repos, Repository{
				ID:            r.ID,
				Name:          r.Name,
				FullName:      r.FullName,
				DefaultBranch: r.DefaultBranch,
				Private:       r.Private,
				Archived:      r.Archived,
				PushedAt:      r.PushedAt,
			})
		}

		if len(listResp.Repositories) < 100 || len(repos) >= listResp.TotalCount {
			break
		}
	}

	return repos, nil
}

// GetRepositoryLanguages returns language byte counts for a repository.
func (c *GitHubAppClient) GetRepositoryLanguages(ctx context.Context, token, fullName string) (map[string]int64, error) {
	path := fmt.Sprintf("/repos/%s/languages", fullName)
	resp, err := c.doRequest(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound.Wrap(fmt.Errorf("repository %s not found", fullName))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}

	// GitHub returns languages as {"Go": 12345, "JavaScript": 6789}
	// where the value is bytes of code
	var languages map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&languages); err != nil {
		return nil, fmt.Errorf("failed to decode languages: %w", err)
	}

	return languages, nil
}

// Helper methods

func (c *GitHubAppClient) doRequest(ctx context.Context, method, path, auth string, body io.Reader) (*http.Response, error) {
	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "Bearer "+auth)
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		resp.Body.Close()
		return nil, ErrRateLimited
	}

	return resp, nil
}

func unexpectedStatus(resp *http.Response) error {
	// Limit response body to 1MB to prevent memory exhaustion
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
}

// ghRepo is the GitHub API repository response structure
type ghRepo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	Archived      bool      `json:"archived"`
	PushedAt      time.Time `json:"pushed_at"`
}

// Ensure implementation
var _ AppClient = (*GitHubAppClient)(nil)
