package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSignature(t *testing.T) {
	sig := ComputeSignature("secret", []byte(`{"action":"created"}`))
	assert.True(t, len(sig) == len("sha256=")+64)
	assert.Contains(t, sig, "sha256=")
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := ComputeSignature("webhook-secret", payload)

	t.Run("valid", func(t *testing.T) {
		assert.True(t, VerifySignature("webhook-secret", payload, sig))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, VerifySignature("other-secret", payload, sig))
	})

	t.Run("tampered payload", func(t *testing.T) {
		assert.False(t, VerifySignature("webhook-secret", []byte(`{"ref":"refs/heads/evil"}`), sig))
	})

	t.Run("missing prefix", func(t *testing.T) {
		assert.False(t, VerifySignature("webhook-secret", payload, sig[len("sha256="):]))
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.False(t, VerifySignature("webhook-secret", payload, ""))
	})
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("token", "token"))
	assert.False(t, SecureCompare("token", "other"))
	assert.False(t, SecureCompare("token", ""))
}
