package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/moodmate/moodmate/internal/storage"
	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

// fixedServer answers every request with status and body.
func fixedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func storedUser(t *testing.T, s storage.Store) *domain.User {
	t.Helper()
	raw, err := s.Get(storage.KeyUser)
	require.NoError(t, err)
	var u domain.User
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return &u
}

func requireCleared(t *testing.T, s storage.Store) {
	t.Helper()
	for _, k := range storage.CredentialKeys {
		_, err := s.Get(k)
		require.ErrorIs(t, err, storage.ErrNotFound, "key %s should be absent", k)
	}
}

// seed writes a stored session as a previous run would have left it.
func seed(t *testing.T, s storage.Store, u domain.User, creds domain.Credentials) {
	t.Helper()
	data, err := json.Marshal(u)
	require.NoError(t, err)
	require.NoError(t, s.Set(storage.KeyAccessToken, creds.AccessToken))
	if creds.RefreshToken != "" {
		require.NoError(t, s.Set(storage.KeyRefreshToken, creds.RefreshToken))
	}
	require.NoError(t, s.Set(storage.KeyUser, string(data)))
}

func TestNew_StartsLoading(t *testing.T) {
	m := New(client.New("http://127.0.0.1:0"), storage.NewMemoryStore())
	snap := m.Snapshot()
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.False(t, snap.IsAuthenticated())
}

func TestNew_PanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { New(nil, storage.NewMemoryStore()) })
}

func TestLogin_Success(t *testing.T) {
	srv := fixedServer(t, http.StatusOK,
		`{"access_token":"t1","refresh_token":"r1","user":{"id":1,"name":"A","email":"a@b.com"}}`)
	store := storage.NewMemoryStore()
	m := New(client.New(srv.URL), store)
	m.Initialize(context.Background())

	res := m.Login(context.Background(), "a@b.com", "pw")
	require.True(t, res.Success, "login failed: %s", res.Error)
	assert.Equal(t, "a@b.com", res.User.Email)

	snap := m.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, int64(1), snap.User.ID)
	assert.Equal(t, "a@b.com", snap.User.Email)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
	assert.True(t, m.IsAuthenticated())

	tok, err := store.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)
	rt, err := store.Get(storage.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "r1", rt)
	assert.Equal(t, "A", storedUser(t, store).Name)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := fixedServer(t, http.StatusUnauthorized, `{"detail":"Invalid credentials"}`)
	store := storage.NewMemoryStore()
	m := New(client.New(srv.URL), store)
	m.Initialize(context.Background())

	res := m.Login(context.Background(), "a@b.com", "pw")
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Error)

	snap := m.Snapshot()
	assert.Nil(t, snap.User)
	assert.False(t, snap.Loading)
	assert.Equal(t, "Invalid credentials", snap.Error)
	assert.Zero(t, store.Writes(), "failed login must not write storage")
}

func TestLogin_FallbackMessage(t *testing.T) {
	srv := fixedServer(t, http.StatusInternalServerError, `oops`)
	m := New(client.New(srv.URL), storage.NewMemoryStore())

	res := m.Login(context.Background(), "a@b.com", "pw")
	assert.Equal(t, msgLoginFailed, res.Error)
	assert.Equal(t, msgLoginFailed, m.Snapshot().Error)
}

func TestLogin_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := storage.NewMemoryStore()
	m := New(client.New(url, client.WithTimeout(time.Second)), store)
	res := m.Login(context.Background(), "a@b.com", "pw")

	assert.False(t, res.Success)
	assert.Equal(t, msgNetworkError, res.Error)
	assert.False(t, m.Snapshot().Loading)
	assert.Zero(t, store.Writes())
}

func TestLogin_IncompleteResponse(t *testing.T) {
	srv := fixedServer(t, http.StatusOK, `{"access_token":"t1","refresh_token":"r1"}`)
	store := storage.NewMemoryStore()
	m := New(client.New(srv.URL), store)

	res := m.Login(context.Background(), "a@b.com", "pw")
	assert.False(t, res.Success)
	assert.Nil(t, m.User())
	assert.Zero(t, store.Len())
}

// blockingBackend holds Login until released or the context ends.
type blockingBackend struct {
	Backend
	entered chan struct{}
	release chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingBackend) Login(ctx context.Context, email, _ string) (*domain.AuthResponse, error) {
	close(b.entered)
	select {
	case <-b.release:
		return &domain.AuthResponse{
			AccessToken:  "t1",
			RefreshToken: "r1",
			User:         &domain.User{ID: 1, Email: email},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLogin_RejectsConcurrentCalls(t *testing.T) {
	b := newBlockingBackend()
	m := New(b, storage.NewMemoryStore())

	done := make(chan Result)
	go func() { done <- m.Login(context.Background(), "a@b.com", "pw") }()
	<-b.entered

	assert.True(t, m.Snapshot().Loading)
	second := m.Register(context.Background(), "B", "b@b.com", "pw")
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Err, ErrBusy)
	assert.Equal(t, OutcomeBusy, m.Initialize(context.Background()))

	close(b.release)
	first := <-done
	require.True(t, first.Success)
	assert.False(t, m.Snapshot().Loading)

	// The latch is released afterwards.
	srv := fixedServer(t, http.StatusUnauthorized, `{"detail":"nope"}`)
	m.backend = client.New(srv.URL)
	assert.NotErrorIs(t, m.Login(context.Background(), "a@b.com", "pw").Err, ErrBusy)
}

func TestLogin_CanceledIsDropped(t *testing.T) {
	b := newBlockingBackend()
	store := storage.NewMemoryStore()
	m := New(b, store)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result)
	go func() { done <- m.Login(ctx, "a@b.com", "pw") }()
	<-b.entered
	cancel()

	res := <-done
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)

	snap := m.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error, "a dropped request must not surface an error")
	assert.Nil(t, snap.User)
	assert.Zero(t, store.Writes())
}

func TestRegister(t *testing.T) {
	stub := newStubBackend(t)
	stub.addUser(t, "Taken", "taken@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	m := New(stub.client(), store)
	m.Initialize(context.Background())

	res := m.Register(context.Background(), "Taken", "taken@example.com", "Secret1!")
	assert.False(t, res.Success)
	assert.Equal(t, "Email already registered", m.Snapshot().Error)
	assert.Zero(t, store.Len())

	res = m.Register(context.Background(), "Rin", "rin@example.com", "Secret1!")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Rin", m.User().Name)
	assert.Empty(t, m.Snapshot().Error)
	for _, k := range storage.CredentialKeys {
		v, err := store.Get(k)
		require.NoError(t, err)
		assert.NotEmpty(t, v)
	}
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name    string
		backend func(t *testing.T) (Backend, *stubBackend)
		revoked bool
	}{
		{
			name: "backend reachable",
			backend: func(t *testing.T) (Backend, *stubBackend) {
				s := newStubBackend(t)
				return s.client(), s
			},
			revoked: true,
		},
		{
			name: "backend unreachable",
			backend: func(t *testing.T) (Backend, *stubBackend) {
				srv := httptest.NewServer(http.NotFoundHandler())
				url := srv.URL
				srv.Close()
				return client.New(url, client.WithTimeout(time.Second)), nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, stub := tt.backend(t)
			store := storage.NewMemoryStore()
			u := domain.User{ID: 4, Name: "Lee", Email: "lee@example.com"}
			creds := domain.Credentials{AccessToken: "a", RefreshToken: "r"}
			if stub != nil {
				u, creds = stub.addUser(t, "Lee", "lee@example.com", "Secret1!")
			}
			seed(t, store, u, creds)

			var routes []string
			m := New(b, store, WithNavigator(func(r string) { routes = append(routes, r) }))
			m.update(func(s *Snapshot) {
				s.User = &u
				s.Error = "stale"
				s.Loading = false
			})

			m.Logout(context.Background())

			snap := m.Snapshot()
			assert.Nil(t, snap.User)
			assert.Empty(t, snap.Error)
			assert.False(t, m.IsAuthenticated())
			requireCleared(t, store)
			assert.Equal(t, []string{RouteLanding}, routes)
			if tt.revoked {
				assert.Equal(t, 1, stub.count("logout"))
			}
		})
	}
}

func TestLogout_WithoutRefreshTokenSkipsBackend(t *testing.T) {
	stub := newStubBackend(t)
	m := New(stub.client(), storage.NewMemoryStore())
	m.Logout(context.Background())
	assert.Zero(t, stub.count("logout"))
}

func TestInitialize_NoStoredSession(t *testing.T) {
	stub := newStubBackend(t)
	m := New(stub.client(), storage.NewMemoryStore())

	assert.Equal(t, OutcomeUnauthenticated, m.Initialize(context.Background()))
	snap := m.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.Zero(t, stub.count("me"))
	assert.Zero(t, stub.count("refresh"))
}

func TestInitialize_ValidToken(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	stale := u
	stale.Name = "Old name"
	seed(t, store, stale, creds)

	m := New(stub.client(), store)
	assert.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))

	snap := m.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "Ana", snap.User.Name, "whoami result replaces the cached copy")
	assert.False(t, snap.Loading)
	assert.Equal(t, "Ana", storedUser(t, store).Name)
	assert.Zero(t, stub.count("refresh"))
}

func TestInitialize_ExpiredTokenIsRefreshed(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	expired := stub.accessToken(u.Email, -time.Minute)
	store := storage.NewMemoryStore()
	seed(t, store, u, domain.Credentials{AccessToken: expired, RefreshToken: creds.RefreshToken})

	m := New(stub.client(), store)
	assert.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))

	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 1, stub.count("refresh"))
	assert.Equal(t, 2, stub.count("authorize"))
	assert.Equal(t, 1, stub.count("me"))

	tok, err := store.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, expired, tok, "refreshed token must be persisted")
	rt, err := store.Get(storage.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, creds.RefreshToken, rt, "refresh token is reused")
}

func TestInitialize_RefreshFailureClears(t *testing.T) {
	tests := []struct {
		name    string
		refresh func(stub *stubBackend, rt string) string
	}{
		{"no refresh token", func(*stubBackend, string) string { return "" }},
		{"revoked refresh token", func(stub *stubBackend, rt string) string {
			stub.revoke(rt)
			return rt
		}},
		{"unknown refresh token", func(*stubBackend, string) string { return "forged" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubBackend(t)
			u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
			store := storage.NewMemoryStore()
			seed(t, store, u, domain.Credentials{
				AccessToken:  stub.accessToken(u.Email, -time.Minute),
				RefreshToken: tt.refresh(stub, creds.RefreshToken),
			})

			m := New(stub.client(), store)
			assert.Equal(t, OutcomeCleared, m.Initialize(context.Background()))
			assert.False(t, m.IsAuthenticated())
			assert.False(t, m.Snapshot().Loading)
			requireCleared(t, store)
		})
	}
}

func TestInitialize_ServerErrorClears(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	stub.failMe(http.StatusInternalServerError)
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)

	m := New(stub.client(), store)
	assert.Equal(t, OutcomeCleared, m.Initialize(context.Background()))
	requireCleared(t, store)
	assert.Zero(t, stub.count("refresh"), "only 401 triggers a refresh")
}

func TestInitialize_PartialStateClears(t *testing.T) {
	stub := newStubBackend(t)

	tokenOnly := storage.NewMemoryStore()
	require.NoError(t, tokenOnly.Set(storage.KeyAccessToken, "t1"))
	userOnly := storage.NewMemoryStore()
	require.NoError(t, userOnly.Set(storage.KeyUser, `{"id":1,"email":"a@b.com"}`))
	refreshOnly := storage.NewMemoryStore()
	require.NoError(t, refreshOnly.Set(storage.KeyRefreshToken, "r1"))
	badUser := storage.NewMemoryStore()
	require.NoError(t, badUser.Set(storage.KeyAccessToken, "t1"))
	require.NoError(t, badUser.Set(storage.KeyUser, `{not json`))

	for name, store := range map[string]*storage.MemoryStore{
		"token only":   tokenOnly,
		"user only":    userOnly,
		"refresh only": refreshOnly,
		"bad user":     badUser,
	} {
		t.Run(name, func(t *testing.T) {
			m := New(stub.client(), store)
			assert.Equal(t, OutcomeCleared, m.Initialize(context.Background()))
			assert.Zero(t, store.Len())
		})
	}
	assert.Zero(t, stub.count("me"))
}

func TestInitialize_CanceledKeepsStorage(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(stub.client(), store)
	assert.Equal(t, OutcomeCanceled, m.Initialize(ctx))
	assert.False(t, m.Snapshot().Loading)
	assert.Equal(t, 3, store.Len())
}

func TestUpdateProfile(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(newBlockingBackend(), store)

	require.NoError(t, m.UpdateProfile(map[string]any{"name": "X"}))
	assert.Nil(t, m.User(), "no-op without a user")
	assert.Zero(t, store.Writes())

	u := domain.User{ID: 1, Name: "A", Email: "a@b.com"}
	m.update(func(s *Snapshot) { s.User = &u })

	require.NoError(t, m.UpdateProfile(map[string]any{"name": "X"}))
	assert.Equal(t, "X", m.User().Name)
	assert.Equal(t, "a@b.com", m.User().Email)
	assert.Equal(t, "X", storedUser(t, store).Name)
	assert.Equal(t, "A", u.Name, "published snapshots are not mutated")
}

func TestUpdateProfile_RejectsMistypedField(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(newBlockingBackend(), store)
	u := domain.User{ID: 1, Name: "A", Email: "a@b.com"}
	m.update(func(s *Snapshot) { s.User = &u })

	assert.Error(t, m.UpdateProfile(map[string]any{"id": "x", "name": "X"}))
	assert.Equal(t, int64(1), m.User().ID)
	assert.Equal(t, "A", m.User().Name, "nothing is applied")
	assert.Zero(t, store.Writes())
}

// signOutBackend accepts logout and nothing else.
type signOutBackend struct{ Backend }

func (signOutBackend) Logout(context.Context, string) error { return nil }

func TestUpdateProfile_ConcurrentLogoutLeavesNothing(t *testing.T) {
	u := domain.User{ID: 1, Name: "A", Email: "a@b.com"}
	for i := 0; i < 50; i++ {
		store := storage.NewMemoryStore()
		seed(t, store, u, domain.Credentials{AccessToken: "t1", RefreshToken: "r1"})
		m := New(signOutBackend{}, store)
		m.update(func(s *Snapshot) { s.User = &u })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.UpdateProfile(map[string]any{"name": "X"}))
		}()
		go func() {
			defer wg.Done()
			m.Logout(context.Background())
		}()
		wg.Wait()

		assert.Zero(t, store.Len(), "run %d", i)
		assert.Nil(t, m.User())
	}
}

func TestUpdateProfile_AfterLogoutWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	u := domain.User{ID: 1, Name: "A", Email: "a@b.com"}
	seed(t, store, u, domain.Credentials{AccessToken: "t1", RefreshToken: "r1"})
	m := New(signOutBackend{}, store)
	m.update(func(s *Snapshot) { s.User = &u })

	m.Logout(context.Background())
	writes := store.Writes()
	require.NoError(t, m.UpdateProfile(map[string]any{"name": "X"}))
	assert.Equal(t, writes, store.Writes())
	assert.Zero(t, store.Len())
}

func TestSaveProfile_RefreshesExpiredToken(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)
	m := New(stub.client(), store)
	require.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))

	require.NoError(t, store.Set(storage.KeyAccessToken, stub.accessToken(u.Email, -time.Minute)))
	name := "Ana Lee"
	res := m.SaveProfile(context.Background(), domain.ProfileUpdate{Name: &name})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "Ana Lee", m.User().Name)
	assert.Equal(t, "Ana Lee", storedUser(t, store).Name)
	assert.Equal(t, 1, stub.count("refresh"))
	assert.Equal(t, 1, stub.count("update_me"), "the expired attempt is rejected before the handler")
}

func TestSaveProfile_LogsChangedFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	stub := newStubBackend(t)
	m, _, _ := expiredSession(t, stub, WithLogger(zap.New(core)))

	name := "Ana Lee"
	require.True(t, m.SaveProfile(context.Background(), domain.ProfileUpdate{Name: &name}).Success)

	saved := logs.FilterMessage("profile saved").All()
	require.Len(t, saved, 1)
	assert.Equal(t, []any{"name"}, saved[0].ContextMap()["fields"])
}

func TestSaveProfile_ExpiredSessionSignsOut(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)
	m := New(stub.client(), store)
	require.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))

	require.NoError(t, store.Set(storage.KeyAccessToken, stub.accessToken(u.Email, -time.Minute)))
	stub.revoke(creds.RefreshToken)

	name := "Nope"
	res := m.SaveProfile(context.Background(), domain.ProfileUpdate{Name: &name})
	assert.False(t, res.Success)
	assert.Equal(t, msgSessionExpired, res.Error)
	assert.False(t, m.IsAuthenticated())
	requireCleared(t, store)
}

func TestSaveProfile_NotAuthenticated(t *testing.T) {
	stub := newStubBackend(t)
	m := New(stub.client(), storage.NewMemoryStore())
	m.Initialize(context.Background())

	res := m.SaveProfile(context.Background(), domain.ProfileUpdate{})
	assert.ErrorIs(t, res.Err, ErrNotAuthenticated)
	assert.Equal(t, msgNotAuthenticated, res.Error)
	assert.Zero(t, stub.count("update_me"))
}

func TestChangePassword(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)
	m := New(stub.client(), store)
	require.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))

	res := m.ChangePassword(context.Background(), "wrong", "Better2@")
	assert.False(t, res.Success)
	assert.Equal(t, "Current password is incorrect", res.Error)

	res = m.ChangePassword(context.Background(), "Secret1!", "Better2@")
	require.True(t, res.Success, res.Error)

	m.Logout(context.Background())
	assert.True(t, m.Login(context.Background(), u.Email, "Better2@").Success)
}

func TestRefreshAccessToken(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	m := New(stub.client(), store)

	_, ok := m.refreshAccessToken(context.Background(), "")
	assert.False(t, ok, "no refresh token stored")
	assert.Zero(t, stub.count("refresh"))

	seed(t, store, u, creds)
	tok, ok := m.refreshAccessToken(context.Background(), creds.AccessToken)
	require.True(t, ok)
	stored, err := store.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, tok, stored)
	assert.Equal(t, 1, stub.count("refresh"))

	again, ok := m.refreshAccessToken(context.Background(), creds.AccessToken)
	require.True(t, ok)
	assert.Equal(t, tok, again, "a token refreshed by someone else is reused")
	assert.Equal(t, 1, stub.count("refresh"))
}

func TestRefreshAccessToken_SignedOutMeanwhile(t *testing.T) {
	stub := newStubBackend(t)
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)
	m := New(stub.client(), store)
	entered, release := stub.holdRefresh(t)

	done := make(chan bool, 1)
	go func() {
		_, ok := m.refreshAccessToken(context.Background(), creds.AccessToken)
		done <- ok
	}()
	<-entered
	m.wipe()
	release()

	assert.False(t, <-done)
	assert.Zero(t, store.Len(), "a late refresh does not bring back a token")
}

// expiredSession returns a manager signed in as a fresh user whose stored
// access token has already expired.
func expiredSession(t *testing.T, stub *stubBackend, opts ...Option) (*Manager, *storage.MemoryStore, string) {
	t.Helper()
	u, creds := stub.addUser(t, "Ana", "ana@example.com", "Secret1!")
	store := storage.NewMemoryStore()
	seed(t, store, u, creds)
	m := New(stub.client(), store, opts...)
	require.Equal(t, OutcomeAuthenticated, m.Initialize(context.Background()))
	expired := stub.accessToken(u.Email, -time.Minute)
	require.NoError(t, store.Set(storage.KeyAccessToken, expired))
	return m, store, expired
}

func TestAuthorized_ConcurrentCallersShareOneRefresh(t *testing.T) {
	stub := newStubBackend(t)
	m, store, expired := expiredSession(t, stub)
	entered, release := stub.holdRefresh(t)
	base := stub.count("authorize")

	const callers = 5
	results := make(chan Result, callers)
	for i := 0; i < callers; i++ {
		go func() {
			name := fmt.Sprintf("Ana %d", i)
			results <- m.SaveProfile(context.Background(), domain.ProfileUpdate{Name: &name})
		}()
	}
	<-entered
	require.Eventually(t, func() bool { return stub.count("authorize") == base+callers },
		5*time.Second, 5*time.Millisecond, "every caller is rejected with the expired token")
	release()

	for i := 0; i < callers; i++ {
		res := <-results
		assert.True(t, res.Success, res.Error)
	}
	assert.Equal(t, 1, stub.count("refresh"))
	assert.Equal(t, callers, stub.count("update_me"))
	assert.True(t, m.IsAuthenticated())
	tok, err := store.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, expired, tok)
}

func TestAuthorized_CanceledCallerKeepsSession(t *testing.T) {
	stub := newStubBackend(t)
	m, store, expired := expiredSession(t, stub)
	entered, release := stub.holdRefresh(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- m.ChangePassword(ctx, "Secret1!", "Better2@") }()
	<-entered
	cancel()

	res := <-done
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, msgRequestCanceled, res.Error)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 3, store.Len())

	release()
	assert.Eventually(t, func() bool {
		tok, err := store.Get(storage.KeyAccessToken)
		return err == nil && tok != expired
	}, 5*time.Second, 5*time.Millisecond, "the refresh still completes for later callers")
}

func TestAuthorized_OneCallerCanceledOtherSucceeds(t *testing.T) {
	stub := newStubBackend(t)
	m, store, _ := expiredSession(t, stub)
	entered, release := stub.holdRefresh(t)
	base := stub.count("authorize")

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	doneA := make(chan Result, 1)
	go func() { doneA <- m.ChangePassword(ctxA, "Secret1!", "Better2@") }()
	<-entered

	name := "Ana Lee"
	doneB := make(chan Result, 1)
	go func() { doneB <- m.SaveProfile(context.Background(), domain.ProfileUpdate{Name: &name}) }()
	require.Eventually(t, func() bool { return stub.count("authorize") == base+2 },
		5*time.Second, 5*time.Millisecond)

	cancelA()
	resA := <-doneA
	assert.ErrorIs(t, resA.Err, context.Canceled)

	release()
	resB := <-doneB
	require.True(t, resB.Success, resB.Error)
	assert.Equal(t, "Ana Lee", m.User().Name)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 1, stub.count("refresh"))
}

func TestSubscribe(t *testing.T) {
	srv := fixedServer(t, http.StatusUnauthorized, `{"detail":"Invalid credentials"}`)
	m := New(client.New(srv.URL), storage.NewMemoryStore())

	ch, cancel := m.Subscribe()
	first := <-ch
	assert.True(t, first.Loading, "subscription starts with the current snapshot")

	m.Initialize(context.Background())
	m.Login(context.Background(), "a@b.com", "pw")

	latest := <-ch
	assert.False(t, latest.Loading)
	assert.Equal(t, "Invalid credentials", latest.Error)

	m.ClearError()
	assert.Empty(t, (<-ch).Error)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestLogging_NeverIncludesTokens(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := fixedServer(t, http.StatusOK,
		`{"access_token":"secret-access","refresh_token":"secret-refresh","user":{"id":1,"email":"a@b.com"}}`)
	m := New(client.New(srv.URL, client.WithLogger(zap.New(core))), storage.NewMemoryStore(), WithLogger(zap.New(core)))

	require.True(t, m.Login(context.Background(), "a@b.com", "pw").Success)
	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "secret-", "field %s of %q", k, entry.Message)
		}
	}
}
