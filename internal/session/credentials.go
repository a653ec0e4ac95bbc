package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/pkg/domain"
)

// persisted is what the store holds for a session.
type persisted struct {
	accessToken  string
	refreshToken string
	user         *domain.User
}

// empty reports whether nothing at all is stored. A lone refresh token
// is a partial state, not an empty one.
func (p persisted) empty() bool {
	return p.accessToken == "" && p.refreshToken == "" && p.user == nil
}

// complete reports whether the token and user halves are both present.
func (p persisted) complete() bool {
	return p.accessToken != "" && p.user != nil
}

func (m *Manager) load() (persisted, error) {
	var p persisted
	var err error
	if p.accessToken, err = storage.Lookup(m.store, storage.KeyAccessToken); err != nil {
		return p, err
	}
	if p.refreshToken, err = storage.Lookup(m.store, storage.KeyRefreshToken); err != nil {
		return p, err
	}
	raw, err := storage.Lookup(m.store, storage.KeyUser)
	if err != nil {
		return p, err
	}
	if raw != "" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return p, fmt.Errorf("decode stored user: %w", err)
		}
		p.user = &u
	}
	return p, nil
}

// save writes all three credential keys. On failure nothing is left behind.
func (m *Manager) save(creds domain.Credentials, u *domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	err = errors.Join(
		m.store.Set(storage.KeyAccessToken, creds.AccessToken),
		m.store.Set(storage.KeyRefreshToken, creds.RefreshToken),
		m.store.Set(storage.KeyUser, string(data)),
	)
	if err != nil {
		m.wipe()
		return err
	}
	return nil
}

func (m *Manager) saveUser(u *domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return m.store.Set(storage.KeyUser, string(data))
}

// saveVerifiedUser caches u unless the session was signed out (or its
// token replaced) while u was being fetched with token.
func (m *Manager) saveVerifiedUser(token string, u *domain.User) error {
	m.persist.Lock()
	defer m.persist.Unlock()
	cur, err := storage.Lookup(m.store, storage.KeyAccessToken)
	if err != nil {
		return err
	}
	if cur == "" {
		return nil
	}
	if cur != token {
		m.log.Debug("access token replaced during verification")
	}
	return m.saveUser(u)
}

// endSession wipes the stored credentials and drops the user from the
// snapshot as one step with respect to profile writes.
func (m *Manager) endSession(fn func(*Snapshot)) {
	m.persist.Lock()
	defer m.persist.Unlock()
	m.wipeLocked()
	m.update(func(s *Snapshot) {
		s.User = nil
		if fn != nil {
			fn(s)
		}
	})
}

// wipe removes every credential key.
func (m *Manager) wipe() {
	m.persist.Lock()
	defer m.persist.Unlock()
	m.wipeLocked()
}

func (m *Manager) wipeLocked() {
	if err := m.store.Delete(storage.CredentialKeys...); err != nil {
		m.log.Error("clear stored credentials", zap.Error(err))
	}
}
