package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// sessionKeyPrefix namespaces session entries. The web frontend writes
// sessions here when a user signs in; the API only reads them.
const sessionKeyPrefix = "session:"

// SessionStore resolves bearer tokens to user ids from shared session state.
type SessionStore struct {
	client *Client
}

// NewSessionStore creates a session store over an existing Redis client.
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

// ResolveUser returns the user id for a session token, or an error when the
// session does not exist. Tokens are stored hashed so a Redis dump never
// contains usable credentials.
func (s *SessionStore) ResolveUser(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}

	sum := sha256.Sum256([]byte(token))
	key := sessionKeyPrefix + hex.EncodeToString(sum[:])

	userID, err := s.client.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", errors.New("session not found")
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}

	return userID, nil
}
