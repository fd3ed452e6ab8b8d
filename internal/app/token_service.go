package app

import (
	"context"
	"time"

	"github.com/deplai/api/internal/infra/scm"
	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// TokenProvider supplies installation access tokens to other services.
type TokenProvider interface {
	GetToken(ctx context.Context, installationID int64) (string, error)
}

// TokenService is the credential vault for installation access tokens. It
// serves cached tokens while they are valid and mints fresh ones through the
// provider on a miss. Cache writes are inserts; concurrent misses may each
// mint a token, which is safe because every minted token is independently
// valid.
type TokenService struct {
	installationRepo installation.Repository
	tokenCache       installation.TokenCache
	scmClient        scm.AppClient
	encryptor        crypto.Encryptor
	logger           *logger.Logger
}

// NewTokenService creates a new TokenService.
func NewTokenService(
	installationRepo installation.Repository,
	tokenCache installation.TokenCache,
	scmClient scm.AppClient,
	encryptor crypto.Encryptor,
	log *logger.Logger,
) *TokenService {
	return &TokenService{
		installationRepo: installationRepo,
		tokenCache:       tokenCache,
		scmClient:        scmClient,
		encryptor:        encryptor,
		logger:           log.With("service", "token"),
	}
}

// GetToken returns a valid installation access token, from cache when
// possible. The returned token is always strictly unexpired at the moment of
// return.
func (s *TokenService) GetToken(ctx context.Context, installationID int64) (string, error) {
	inst, err := s.installationRepo.GetByInstallationID(ctx, installationID)
	if err != nil {
		return "", err
	}
	if inst.IsSuspended() {
		return "", shared.NewDomainError("FORBIDDEN", "installation is suspended", shared.ErrForbidden)
	}

	cached, err := s.tokenCache.Get(ctx, installationID)
	if err == nil && cached.IsUsable(time.Now()) {
		token, decErr := s.encryptor.DecryptString(cached.TokenEncrypted)
		if decErr == nil {
			metrics.TokenCacheHits.Inc()
			return token, nil
		}
		// Undecryptable rows (key rotation) are treated as a miss.
		s.logger.Warn("cached token could not be decrypted, minting fresh",
			"installation_id", installationID,
			"error", decErr,
		)
	} else if err != nil && !shared.IsNotFound(err) {
		return "", err
	}

	metrics.TokenCacheMisses.Inc()

	minted, err := s.scmClient.CreateInstallationToken(ctx, installationID)
	if err != nil {
		return "", shared.NewDomainError("UPSTREAM", "failed to mint installation token", shared.ErrUpstream)
	}

	encrypted, err := s.encryptor.EncryptString(minted.Token)
	if err != nil {
		return "", err
	}

	token, err := installation.NewAccessToken(installationID, encrypted, minted.ExpiresAt)
	if err != nil {
		return "", err
	}

	if err := s.tokenCache.Put(ctx, token); err != nil {
		return "", err
	}

	s.logger.Info("installation token minted",
		"installation_id", installationID,
		"expires_at", minted.ExpiresAt,
	)

	return minted.Token, nil
}

// SweepExpired deletes cached tokens that expired more than retention ago.
func (s *TokenService) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	deleted, err := s.tokenCache.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		metrics.TokensSweptTotal.Add(float64(deleted))
		s.logger.Info("expired tokens swept", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}

// Ensure implementation
var _ TokenProvider = (*TokenService)(nil)
