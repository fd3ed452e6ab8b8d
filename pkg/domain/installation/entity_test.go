package installation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstallation(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		inst, err := NewInstallation(42, "acme", AccountTypeOrganization)

		require.NoError(t, err)
		assert.Equal(t, int64(42), inst.InstallationID)
		assert.Equal(t, "acme", inst.AccountLogin)
		assert.False(t, inst.IsSuspended())
	})

	t.Run("requires a positive installation id", func(t *testing.T) {
		_, err := NewInstallation(0, "acme", AccountTypeUser)
		assert.Error(t, err)
	})

	t.Run("requires an account login", func(t *testing.T) {
		_, err := NewInstallation(42, "", AccountTypeUser)
		assert.Error(t, err)
	})
}

func TestInstallation_SuspendUnsuspend(t *testing.T) {
	inst, err := NewInstallation(42, "acme", AccountTypeUser)
	require.NoError(t, err)

	inst.Suspend()
	assert.True(t, inst.IsSuspended())

	inst.Unsuspend()
	assert.False(t, inst.IsSuspended())
	assert.Nil(t, inst.SuspendedAt)
}

func TestAccessToken_IsUsable(t *testing.T) {
	now := time.Now()

	newToken := func(t *testing.T, expiresAt time.Time) *AccessToken {
		t.Helper()
		tok, err := NewAccessToken(42, "iv:ct", expiresAt)
		require.NoError(t, err)
		return tok
	}

	t.Run("future expiry is usable", func(t *testing.T) {
		assert.True(t, newToken(t, now.Add(time.Hour)).IsUsable(now))
	})

	t.Run("past expiry is not", func(t *testing.T) {
		assert.False(t, newToken(t, now.Add(-time.Second)).IsUsable(now))
	})

	t.Run("expiring exactly now counts as expired", func(t *testing.T) {
		assert.False(t, newToken(t, now).IsUsable(now))
	})
}

func TestNewAccessToken_Validation(t *testing.T) {
	_, err := NewAccessToken(0, "iv:ct", time.Now())
	assert.Error(t, err)

	_, err = NewAccessToken(42, "", time.Now())
	assert.Error(t, err)
}
