package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the scheme prefix GitHub puts on webhook signatures.
const signaturePrefix = "sha256="

// ComputeSignature computes the HMAC-SHA256 signature of a payload,
// returned in the provider's "sha256=<hex>" form.
func ComputeSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. The header
// must carry the "sha256=" prefix; anything else fails closed.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected := ComputeSignature(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SecureCompare compares two secrets in constant time.
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
