package session

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

// Login signs in with email and password.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	return m.authenticate(ctx, "login", msgLoginFailed, func(ctx context.Context) (*domain.AuthResponse, error) {
		return m.backend.Login(ctx, email, password)
	})
}

// Register creates an account and signs in as it.
func (m *Manager) Register(ctx context.Context, name, email, password string) Result {
	return m.authenticate(ctx, "register", msgRegisterFailed, func(ctx context.Context) (*domain.AuthResponse, error) {
		return m.backend.Register(ctx, name, email, password)
	})
}

// authenticate runs a login-shaped call. Loading is set for its
// duration and cleared on every exit path; nothing is persisted unless
// the call succeeds and the context is still live.
func (m *Manager) authenticate(ctx context.Context, op, fallback string, call func(context.Context) (*domain.AuthResponse, error)) Result {
	if !m.busy.CompareAndSwap(false, true) {
		return failed(msgOperationInProgress, ErrBusy)
	}
	defer m.busy.Store(false)

	m.update(func(s *Snapshot) {
		s.Loading = true
		s.Error = ""
	})

	res := m.doAuthenticate(ctx, op, fallback, call)

	m.update(func(s *Snapshot) {
		s.Loading = false
		switch {
		case res.Success:
			s.User = res.User
		case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
			// dropped
		default:
			s.Error = res.Error
		}
	})
	return res
}

func (m *Manager) doAuthenticate(ctx context.Context, op, fallback string, call func(context.Context) (*domain.AuthResponse, error)) Result {
	resp, err := call(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		m.log.Info(op+" dropped", zap.Error(ctxErr))
		return failed(msgRequestCanceled, ctxErr)
	}
	if err != nil {
		m.log.Info(op+" failed", zap.Error(err))
		return failed(failureMessage(err, fallback), err)
	}
	if resp.User == nil || resp.AccessToken == "" || resp.RefreshToken == "" {
		m.log.Warn(op+" response incomplete")
		return failed(fallback, errors.New("session: incomplete auth response"))
	}
	if err := m.save(resp.Credentials(), resp.User); err != nil {
		m.log.Error(op+": persist credentials", zap.Error(err))
		return failed(msgStoreFailed, err)
	}
	m.log.Info(op+" succeeded", zap.Int64("user_id", resp.User.ID))
	return Result{Success: true, User: resp.User}
}

// Logout revokes the refresh token on a best-effort basis, clears the
// stored session and navigates to the landing route. It always succeeds
// locally.
func (m *Manager) Logout(ctx context.Context) {
	rt, err := storage.Lookup(m.store, storage.KeyRefreshToken)
	if err != nil {
		m.log.Warn("read refresh token", zap.Error(err))
	}
	if rt != "" {
		if err := m.backend.Logout(ctx, rt); err != nil {
			m.log.Warn("revoke refresh token", zap.Error(err))
		}
	}

	m.endSession(func(s *Snapshot) { s.Error = "" })
	m.log.Info("signed out")
	m.navigate(RouteLanding)
}

// UpdateProfile merges updates into the signed-in user and persists the
// result immediately. It does not contact the backend. Without a user it
// does nothing.
//
// Keys are applied like an object spread, with one difference: a value
// whose type does not fit a known field (a string "id", say) is rejected
// with an error and nothing is changed.
func (m *Manager) UpdateProfile(updates map[string]any) error {
	m.persist.Lock()
	defer m.persist.Unlock()

	m.mu.Lock()
	cur := m.state.User
	m.mu.Unlock()
	if cur == nil {
		return nil
	}

	merged, err := cur.Merge(updates)
	if err != nil {
		return err
	}
	if err := m.saveUser(merged); err != nil {
		return err
	}
	m.update(func(s *Snapshot) {
		if s.User != nil {
			s.User = merged
		}
	})
	return nil
}

// SaveProfile sends update to the backend and caches the returned record.
func (m *Manager) SaveProfile(ctx context.Context, update domain.ProfileUpdate) Result {
	u, err := authorized(ctx, m, func(ctx context.Context, token string) (*domain.User, error) {
		return m.backend.UpdateMe(ctx, token, update)
	})
	if err != nil {
		return failed(m.authorizedFailure(err, msgProfileFailed), err)
	}

	fields, err := userFields(u)
	if err != nil {
		return failed(msgProfileFailed, err)
	}
	if err := m.UpdateProfile(fields); err != nil {
		m.log.Warn("cache updated profile", zap.Error(err))
	}
	m.log.Info("profile saved", zap.Strings("fields", slices.Sorted(maps.Keys(update.Fields()))))
	return Result{Success: true, User: m.User()}
}

// ChangePassword replaces the signed-in user's password.
func (m *Manager) ChangePassword(ctx context.Context, current, next string) Result {
	_, err := authorized(ctx, m, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, m.backend.ChangePassword(ctx, token, current, next)
	})
	if err != nil {
		return failed(m.authorizedFailure(err, msgPasswordFailed), err)
	}
	m.log.Info("password changed")
	return Result{Success: true, User: m.User()}
}

// authorized calls fn with the stored access token. A 401 triggers one
// refresh and retry; if the refresh fails the session is ended, unless
// it was ctx that ended first.
func authorized[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	if !m.IsAuthenticated() {
		return zero, ErrNotAuthenticated
	}
	token, err := storage.Lookup(m.store, storage.KeyAccessToken)
	if err != nil {
		return zero, err
	}
	if token == "" {
		return zero, ErrNotAuthenticated
	}

	v, err := fn(ctx, token)
	if !client.IsStatus(err, http.StatusUnauthorized) {
		return v, err
	}
	fresh, ok := m.refreshAccessToken(ctx, token)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		m.expire()
		return zero, errSessionExpired
	}
	return fn(ctx, fresh)
}

var errSessionExpired = errors.New("session: expired")

// expire ends a session whose tokens the backend no longer accepts.
func (m *Manager) expire() {
	m.endSession(nil)
	m.log.Info("session expired")
}

func (m *Manager) authorizedFailure(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return msgNotAuthenticated
	case errors.Is(err, errSessionExpired):
		return msgSessionExpired
	}
	return failureMessage(err, fallback)
}

// failureMessage turns a backend error into a user-facing message.
func failureMessage(err error, fallback string) string {
	if msg, ok := client.ServerMessage(err); ok {
		return msg
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return fallback
	}
	if errors.Is(err, context.Canceled) {
		return msgRequestCanceled
	}
	return msgNetworkError
}

func userFields(u *domain.User) (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
