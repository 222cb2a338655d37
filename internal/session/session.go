// Package session persists the authenticated session (access/refresh token
// pair) and the small amount of auxiliary client state that must survive a
// restart.
//
// There is a single persistence scope: durable. A stored session outlives the
// process until Logout clears it, so users are not asked to log in again after
// closing the client. Tokens are stored unencrypted; the database file is
// created with owner-only permissions.
package session

import (
	"context"
	"encoding/json"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// StorageKey is the application-wide key the session is stored under.
const StorageKey = "authTokens"

// Session is the access/refresh token pair identifying an authenticated user.
type Session struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// IsZero reports whether the session carries no tokens.
func (s Session) IsZero() bool {
	return s.Access == "" && s.Refresh == ""
}

// Store persists one Session.
type Store interface {
	Save(ctx context.Context, s Session) error
	Load(ctx context.Context) (Session, bool, error)
	Clear(ctx context.Context) error
}

// TokenStore is a Store kept as JSON under StorageKey in a Storage.
type TokenStore struct {
	storage Storage
}

// NewTokenStore returns a Store backed by storage.
func NewTokenStore(storage Storage) *TokenStore {
	return &TokenStore{storage: storage}
}

// Save replaces the stored session.
func (t *TokenStore) Save(ctx context.Context, s Session) error {
	if s.Access == "" || s.Refresh == "" {
		return errors.ValidationError("session requires both access and refresh tokens")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return t.storage.Set(ctx, StorageKey, string(data))
}

// Load returns the stored session. ok is false when nothing is stored.
// A corrupt entry is cleared and reported as absent.
func (t *TokenStore) Load(ctx context.Context) (Session, bool, error) {
	raw, ok, err := t.storage.Get(ctx, StorageKey)
	if err != nil || !ok {
		return Session{}, false, err
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Access == "" || s.Refresh == "" {
		log().Warn("discarding unreadable stored session")
		return Session{}, false, t.storage.Delete(ctx, StorageKey)
	}
	return s, true, nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (t *TokenStore) Clear(ctx context.Context) error {
	return t.storage.Delete(ctx, StorageKey)
}
