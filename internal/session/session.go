// Package session owns the client's authentication state: who is signed
// in, custody of the bearer token pair, and the transitions between
// signed-in and signed-out. UI code reads immutable snapshots and calls
// the manager's actions; it never touches tokens directly.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/pkg/domain"
)

// RouteLanding is where the UI goes after logout.
const RouteLanding = "/"

// User-facing messages.
const (
	msgLoginFailed         = "Login failed. Please check your credentials."
	msgRegisterFailed      = "Registration failed. Please try again."
	msgNetworkError        = "Network error. Please check your connection and try again."
	msgStoreFailed         = "Could not save your session on this device."
	msgProfileFailed       = "Failed to update profile"
	msgPasswordFailed      = "Failed to change password"
	msgSessionExpired      = "Your session has expired. Please sign in again."
	msgNotAuthenticated    = "You are not signed in."
	msgRequestCanceled     = "Request canceled."
	msgOperationInProgress = "Another sign-in is already in progress."
)

var (
	// ErrBusy is reported when Initialize, Login or Register is called
	// while another one of them is still running.
	ErrBusy = errors.New("session: operation already in progress")
	// ErrNotAuthenticated is reported by calls that need a signed-in user.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	errNoRefreshToken = errors.New("session: no refresh token stored")
	errSignedOut      = errors.New("session: signed out during refresh")
)

// Backend is the subset of the MoodMate API the manager drives.
// *client.Client satisfies it.
type Backend interface {
	Login(ctx context.Context, email, password string) (*domain.AuthResponse, error)
	Register(ctx context.Context, name, email, password string) (*domain.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, accessToken string) (*domain.User, error)
	UpdateMe(ctx context.Context, accessToken string, update domain.ProfileUpdate) (*domain.User, error)
	ChangePassword(ctx context.Context, accessToken, current, next string) error
}

// Navigator receives route changes the manager triggers, e.g. after logout.
type Navigator func(route string)

// Snapshot is an immutable view of the session.
type Snapshot struct {
	User    *domain.User
	Loading bool
	Error   string
}

// IsAuthenticated reports whether a user is signed in.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil
}

// Result is what Login, Register and the authenticated actions return.
// Error carries the user-facing message; Err the underlying cause.
type Result struct {
	Success bool
	User    *domain.User
	Error   string
	Err     error
}

func failed(msg string, err error) Result {
	return Result{Error: msg, Err: err}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithNavigator sets the route callback used after logout.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.navigate = n }
}

// Manager is the single source of truth for the signed-in user.
// It is the only writer of the credential keys in its store.
type Manager struct {
	backend  Backend
	store    storage.Store
	log      *zap.Logger
	navigate Navigator

	// busy latches Initialize, Login and Register.
	busy    atomic.Bool
	refresh singleflight.Group

	// persist orders credential writes against sign-out; acquired
	// before mu, never while holding it.
	persist sync.Mutex

	mu     sync.Mutex
	state  Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// New creates a manager in the initial "unknown" state (loading, no user).
// Call Initialize to restore a persisted session.
func New(backend Backend, store storage.Store, opts ...Option) *Manager {
	if backend == nil || store == nil {
		panic("session.New: backend and store are required")
	}
	m := &Manager{
		backend:  backend,
		store:    store,
		log:      zap.NewNop(),
		navigate: func(string) {},
		state:    Snapshot{Loading: true},
		subs:     map[int]chan Snapshot{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the signed-in user or nil.
func (m *Manager) User() *domain.User {
	return m.Snapshot().User
}

// IsAuthenticated reports whether a user is signed in.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// Subscribe returns a channel that always holds the latest snapshot,
// starting with the current one, and a func that ends the subscription
// and closes the channel. Slow readers skip intermediate states.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// update applies fn to the state and publishes the result.
func (m *Manager) update(fn func(s *Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.state
	}
}

// ClearError dismisses the current error message.
func (m *Manager) ClearError() {
	m.update(func(s *Snapshot) { s.Error = "" })
}
