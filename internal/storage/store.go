// Package storage persists the client's key-value state: the bearer
// token pair, the cached user record and UI preferences.
package storage

import "errors"

// Keys used by the client. The three credential keys are written and
// cleared together by the session manager.
const (
	KeyAccessToken  = "moodmate_token"
	KeyRefreshToken = "moodmate_refresh_token"
	KeyUser         = "moodmate_user"
	KeyTheme        = "moodmate_theme"
)

// CredentialKeys lists every key that makes up a persisted session.
var CredentialKeys = []string{KeyUser, KeyAccessToken, KeyRefreshToken}

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string key-value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(keys ...string) error
}

// Lookup returns the value for key, treating ErrNotFound as empty.
func Lookup(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
