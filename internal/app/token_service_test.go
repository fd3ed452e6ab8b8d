package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/shared"
)

const testInstallationID int64 = 42

func newTokenFixture(t *testing.T) (*TokenService, *fakeInstallationRepo, *fakeTokenCache, *fakeSCMClient, crypto.Encryptor) {
	t.Helper()

	instRepo := newFakeInstallationRepo()
	inst, err := installation.NewInstallation(testInstallationID, "acme", installation.AccountTypeOrganization)
	require.NoError(t, err)
	require.NoError(t, instRepo.Upsert(context.Background(), inst))

	cache := &fakeTokenCache{}
	scmClient := &fakeSCMClient{mintToken: "ghs_minted"}
	encryptor, err := crypto.NewCipherFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	svc := NewTokenService(instRepo, cache, scmClient, encryptor, testLogger())
	return svc, instRepo, cache, scmClient, encryptor
}

func TestTokenService_GetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("mints and caches on empty cache", func(t *testing.T) {
		svc, _, cache, scmClient, encryptor := newTokenFixture(t)

		token, err := svc.GetToken(ctx, testInstallationID)

		require.NoError(t, err)
		assert.Equal(t, "ghs_minted", token)
		assert.Equal(t, 1, scmClient.mintCalls)
		require.Equal(t, 1, cache.putCalls)

		// Stored value is ciphertext, never the raw token.
		stored := cache.tokens[0]
		assert.NotEqual(t, "ghs_minted", stored.TokenEncrypted)
		plaintext, err := encryptor.DecryptString(stored.TokenEncrypted)
		require.NoError(t, err)
		assert.Equal(t, "ghs_minted", plaintext)
	})

	t.Run("serves cached token without minting", func(t *testing.T) {
		svc, _, cache, scmClient, encryptor := newTokenFixture(t)

		encrypted, err := encryptor.EncryptString("ghs_cached")
		require.NoError(t, err)
		cached, err := installation.NewAccessToken(testInstallationID, encrypted, time.Now().Add(30*time.Minute))
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, cached))

		token, err := svc.GetToken(ctx, testInstallationID)

		require.NoError(t, err)
		assert.Equal(t, "ghs_cached", token)
		assert.Zero(t, scmClient.mintCalls)
	})

	t.Run("expired cached token forces a mint", func(t *testing.T) {
		svc, _, cache, scmClient, encryptor := newTokenFixture(t)

		encrypted, err := encryptor.EncryptString("ghs_stale")
		require.NoError(t, err)
		cached, err := installation.NewAccessToken(testInstallationID, encrypted, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, cached))

		token, err := svc.GetToken(ctx, testInstallationID)

		require.NoError(t, err)
		assert.Equal(t, "ghs_minted", token)
		assert.Equal(t, 1, scmClient.mintCalls)
	})

	t.Run("undecryptable cached token is a miss", func(t *testing.T) {
		svc, _, cache, scmClient, _ := newTokenFixture(t)

		// Encrypted under a different key, as after key rotation.
		otherCipher, err := crypto.NewCipherFromHex(strings.Repeat("cd", 32))
		require.NoError(t, err)
		encrypted, err := otherCipher.EncryptString("ghs_old_key")
		require.NoError(t, err)
		cached, err := installation.NewAccessToken(testInstallationID, encrypted, time.Now().Add(30*time.Minute))
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, cached))

		token, err := svc.GetToken(ctx, testInstallationID)

		require.NoError(t, err)
		assert.Equal(t, "ghs_minted", token)
		assert.Equal(t, 1, scmClient.mintCalls)
	})

	t.Run("suspended installation is forbidden", func(t *testing.T) {
		svc, instRepo, _, scmClient, _ := newTokenFixture(t)

		inst, err := instRepo.GetByInstallationID(ctx, testInstallationID)
		require.NoError(t, err)
		inst.Suspend()
		require.NoError(t, instRepo.Update(ctx, inst))

		_, err = svc.GetToken(ctx, testInstallationID)

		assert.True(t, shared.IsForbidden(err))
		assert.Zero(t, scmClient.mintCalls)
	})

	t.Run("unknown installation", func(t *testing.T) {
		svc, _, _, _, _ := newTokenFixture(t)

		_, err := svc.GetToken(ctx, 999)

		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("mint failure surfaces as upstream", func(t *testing.T) {
		svc, _, cache, scmClient, _ := newTokenFixture(t)
		scmClient.mintErr = assert.AnError

		_, err := svc.GetToken(ctx, testInstallationID)

		assert.True(t, shared.IsUpstream(err))
		assert.Zero(t, cache.putCalls)
	})
}

func TestTokenService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, cache, _, encryptor := newTokenFixture(t)

	mkToken := func(expiresAt time.Time) *installation.AccessToken {
		encrypted, err := encryptor.EncryptString("ghs_any")
		require.NoError(t, err)
		tok, err := installation.NewAccessToken(testInstallationID, encrypted, expiresAt)
		require.NoError(t, err)
		return tok
	}

	require.NoError(t, cache.Put(ctx, mkToken(time.Now().Add(-48*time.Hour))))
	require.NoError(t, cache.Put(ctx, mkToken(time.Now().Add(-time.Hour))))
	require.NoError(t, cache.Put(ctx, mkToken(time.Now().Add(time.Hour))))

	deleted, err := svc.SweepExpired(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, cache.tokens, 2)
}
