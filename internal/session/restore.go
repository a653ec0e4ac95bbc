package session

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

// refreshTimeout bounds a shared refresh request, which outlives the
// caller that started it.
const refreshTimeout = 30 * time.Second

// Outcome is how Initialize ended.
type Outcome int

const (
	// OutcomeUnauthenticated: nothing was stored.
	OutcomeUnauthenticated Outcome = iota
	// OutcomeAuthenticated: the stored session was verified.
	OutcomeAuthenticated
	// OutcomeCleared: the stored session was corrupt or rejected and was wiped.
	OutcomeCleared
	// OutcomeCanceled: ctx ended first; storage was left untouched.
	OutcomeCanceled
	// OutcomeBusy: another sign-in operation was running.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeCleared:
		return "cleared"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeBusy:
		return "busy"
	}
	return "unknown"
}

// restoreStep is a state of the startup verification sequence:
//
//	verify -> [401] refresh -> retry -> adopt
//	               \-> any failure -> clear
type restoreStep int

const (
	stepVerify restoreStep = iota
	stepRefresh
	stepRetry
)

// Initialize restores the persisted session, if any. It runs once at
// startup; the snapshot reports Loading until it returns.
func (m *Manager) Initialize(ctx context.Context) Outcome {
	if !m.busy.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer m.busy.Store(false)

	m.update(func(s *Snapshot) { s.Loading = true })

	user, outcome := m.restore(ctx)
	m.update(func(s *Snapshot) {
		s.User = user
		s.Loading = false
	})
	m.log.Info("session restored", zap.Stringer("outcome", outcome))
	return outcome
}

func (m *Manager) restore(ctx context.Context) (*domain.User, Outcome) {
	stored, err := m.load()
	switch {
	case err != nil:
		m.log.Warn("stored session unreadable", zap.Error(err))
		return m.clear()
	case stored.empty():
		return nil, OutcomeUnauthenticated
	case !stored.complete():
		m.log.Warn("stored session incomplete",
			zap.Bool("has_token", stored.accessToken != ""),
			zap.Bool("has_refresh_token", stored.refreshToken != ""),
			zap.Bool("has_user", stored.user != nil))
		return m.clear()
	}

	token := stored.accessToken
	step := stepVerify
	for {
		switch step {
		case stepVerify, stepRetry:
			u, err := m.backend.Me(ctx, token)
			if ctx.Err() != nil {
				return nil, OutcomeCanceled
			}
			if err == nil {
				if err := m.saveVerifiedUser(token, u); err != nil {
					m.log.Warn("cache verified user", zap.Error(err))
				}
				return u, OutcomeAuthenticated
			}
			if step == stepVerify && client.IsStatus(err, http.StatusUnauthorized) {
				step = stepRefresh
				continue
			}
			m.log.Info("stored session rejected", zap.Error(err))
			return m.clear()

		case stepRefresh:
			fresh, ok := m.refreshAccessToken(ctx, token)
			if ctx.Err() != nil {
				return nil, OutcomeCanceled
			}
			if !ok {
				return m.clear()
			}
			token = fresh
			step = stepRetry
		}
	}
}

func (m *Manager) clear() (*domain.User, Outcome) {
	m.wipe()
	return nil, OutcomeCleared
}

// refreshAccessToken trades the stored refresh token for a new access
// token and persists it. rejected is the access token the backend just
// refused; if the store already holds a different one, another caller
// refreshed first and that token is returned as is.
//
// Concurrent callers share one request. The shared request is detached
// from any single caller's cancellation: a caller whose ctx ends stops
// waiting, while the others still receive the result. The refresh token
// is kept as is.
func (m *Manager) refreshAccessToken(ctx context.Context, rejected string) (string, bool) {
	if tok, ok := m.replacedAccessToken(rejected); ok {
		return tok, true
	}

	ch := m.refresh.DoChan("refresh", func() (any, error) {
		if tok, ok := m.replacedAccessToken(rejected); ok {
			return tok, nil
		}
		rt, err := storage.Lookup(m.store, storage.KeyRefreshToken)
		if err != nil {
			return "", err
		}
		if rt == "" {
			return "", errNoRefreshToken
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := m.backend.Refresh(rctx, rt)
		if err != nil {
			return "", err
		}

		m.persist.Lock()
		defer m.persist.Unlock()
		cur, err := storage.Lookup(m.store, storage.KeyRefreshToken)
		if err != nil {
			return "", err
		}
		if cur != rt {
			return "", errSignedOut
		}
		if err := m.store.Set(storage.KeyAccessToken, tok); err != nil {
			return "", err
		}
		return tok, nil
	})

	select {
	case <-ctx.Done():
		m.log.Info("token refresh abandoned", zap.Error(ctx.Err()))
		return "", false
	case res := <-ch:
		if res.Err != nil {
			m.log.Info("token refresh failed", zap.Error(res.Err))
			return "", false
		}
		m.log.Debug("access token refreshed", zap.Bool("shared", res.Shared))
		return res.Val.(string), true
	}
}

// replacedAccessToken returns the stored access token if it is set and
// differs from rejected.
func (m *Manager) replacedAccessToken(rejected string) (string, bool) {
	cur, err := storage.Lookup(m.store, storage.KeyAccessToken)
	if err != nil || cur == "" || cur == rejected {
		return "", false
	}
	return cur, true
}
