// Package crypto provides encryption utilities for sensitive data.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor provides encryption and decryption capabilities.
type Encryptor interface {
	// EncryptString encrypts plaintext and returns the encoded ciphertext.
	EncryptString(plaintext string) (string, error)
	// DecryptString decrypts encoded ciphertext and returns plaintext.
	DecryptString(encoded string) (string, error)
}

// NoOpEncryptor is an Encryptor that does not encrypt (for development/testing).
type NoOpEncryptor struct{}

// EncryptString returns the plaintext as-is (no encryption).
func (n *NoOpEncryptor) EncryptString(plaintext string) (string, error) {
	return plaintext, nil
}

// DecryptString returns the encoded string as-is (no decryption).
func (n *NoOpEncryptor) DecryptString(encoded string) (string, error) {
	return encoded, nil
}

// NewNoOpEncryptor creates a no-op encryptor for development/testing.
func NewNoOpEncryptor() Encryptor {
	return &NoOpEncryptor{}
}

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("crypto: invalid encryption key")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Cipher provides AES-256-CBC encryption and decryption. Ciphertext is
// encoded as "iv_hex:ciphertext_hex"; stored tokens depend on this exact
// format, so it is part of the persistence contract.
type Cipher struct {
	block cipher.Block
}

// Ensure Cipher implements Encryptor interface.
var _ Encryptor = (*Cipher)(nil)

// NewCipher creates a new Cipher with the given key.
// The key must be exactly 32 bytes for AES-256.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be exactly 32 bytes, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &Cipher{block: block}, nil
}

// NewCipherFromHex creates a new Cipher from a hex-encoded key.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex key: %v", ErrInvalidKey, err)
	}
	return NewCipher(key)
}

// Encrypt encrypts plaintext and returns "iv_hex:ciphertext_hex".
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("crypto: failed to generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// EncryptString encrypts a string and returns "iv_hex:ciphertext_hex".
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// Decrypt decrypts "iv_hex:ciphertext_hex" and returns plaintext.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing iv separator", ErrInvalidCiphertext)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad iv", ErrInvalidCiphertext)
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidCiphertext)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrInvalidCiphertext)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return unpadded, nil
}

// DecryptString decrypts "iv_hex:ciphertext_hex" and returns a string.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	plaintext, err := c.Decrypt(encoded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
