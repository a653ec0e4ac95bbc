package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/moodmate/moodmate/pkg/client"
	"github.com/moodmate/moodmate/pkg/domain"
)

// stubBackend is an in-memory MoodMate auth API for tests. Access tokens
// are real HS256 JWTs so expiry is enforced the way the backend does it.
type stubBackend struct {
	secret    []byte
	accessTTL time.Duration
	srv       *httptest.Server

	mu       sync.Mutex
	nextID   int64
	users    map[string]*stubUser // by email
	refresh  map[string]string    // refresh token -> email
	revoked  map[string]bool
	calls    map[string]int
	meStatus int // forces GET /me to fail with this status when non-zero

	// refreshGate, when set, holds POST /refresh until closed.
	refreshGate    chan struct{}
	refreshEntered chan struct{}
}

type stubUser struct {
	user domain.User
	hash []byte
}

func newStubBackend(t *testing.T) *stubBackend {
	t.Helper()
	s := &stubBackend{
		secret:    []byte("test-secret"),
		accessTTL: 15 * time.Minute,
		users:     map[string]*stubUser{},
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
		calls:     map[string]int{},
	}

	r := chi.NewRouter()
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAccess)
			r.Get("/me", s.handleMe)
			r.Put("/me", s.handleUpdateMe)
			r.Post("/change-password", s.handleChangePassword)
		})
	})
	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubBackend) client() *client.Client {
	return client.New(s.srv.URL)
}

// addUser registers a user directly and returns a fresh token pair.
func (s *stubBackend) addUser(t *testing.T, name, email, password string) (domain.User, domain.Credentials) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := domain.User{ID: s.nextID, Name: name, Email: email, IsActive: true, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	s.users[email] = &stubUser{user: u, hash: hash}
	return u, domain.Credentials{AccessToken: s.accessToken(email, s.accessTTL), RefreshToken: s.newRefreshLocked(email)}
}

func (s *stubBackend) accessToken(email string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		ID:        uuid.NewString(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return tok
}

func (s *stubBackend) newRefreshLocked(email string) string {
	tok := uuid.NewString()
	s.refresh[tok] = email
	return tok
}

func (s *stubBackend) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubBackend) revoke(refreshToken string) {
	s.mu.Lock()
	s.revoked[refreshToken] = true
	s.mu.Unlock()
}

func (s *stubBackend) failMe(status int) {
	s.mu.Lock()
	s.meStatus = status
	s.mu.Unlock()
}

// holdRefresh makes refresh requests wait until release is called.
// entered receives once per held request.
func (s *stubBackend) holdRefresh(t *testing.T) (entered <-chan struct{}, release func()) {
	t.Helper()
	in := make(chan struct{}, 16)
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate, s.refreshEntered = gate, in
	s.mu.Unlock()
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return in, release
}

func (s *stubBackend) hit(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *stubBackend) authResponse(email string) map[string]any {
	return map[string]any{
		"access_token":  s.accessToken(email, s.accessTTL),
		"refresh_token": s.newRefreshLocked(email),
		"token_type":    "bearer",
		"user":          s.users[email].user,
	}
}

func (s *stubBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.hit("login")
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[req.Email]
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		detail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, s.authResponse(req.Email))
}

func (s *stubBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.hit("register")
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		detail(w, http.StatusInternalServerError, "hash failed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		detail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.nextID++
	s.users[req.Email] = &stubUser{
		user: domain.User{ID: s.nextID, Name: req.Name, Email: req.Email, IsActive: true, CreatedAt: time.Now().UTC().Truncate(time.Second)},
		hash: hash,
	}
	writeJSON(w, http.StatusOK, s.authResponse(req.Email))
}

func (s *stubBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.hit("refresh")
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	s.mu.Lock()
	gate, entered := s.refreshGate, s.refreshEntered
	s.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refresh[req.RefreshToken]
	if !ok || s.revoked[req.RefreshToken] {
		detail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": s.accessToken(email, s.accessTTL),
		"token_type":   "bearer",
	})
}

func (s *stubBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.hit("logout")
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	s.mu.Lock()
	s.revoked[req.RefreshToken] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

type emailKey struct{}

func contextWithEmail(r *http.Request, email string) context.Context {
	return context.WithValue(r.Context(), emailKey{}, email)
}

func emailFrom(r *http.Request) string {
	email, _ := r.Context().Value(emailKey{}).(string)
	return email
}

func (s *stubBackend) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hit("authorize")
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			detail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		s.mu.Lock()
		_, ok := s.users[claims.Subject]
		s.mu.Unlock()
		if !ok {
			detail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithEmail(r, claims.Subject)))
	})
}

func (s *stubBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	s.hit("me")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meStatus != 0 {
		detail(w, s.meStatus, "forced failure")
		return
	}
	writeJSON(w, http.StatusOK, s.users[emailFrom(r)].user)
}

func (s *stubBackend) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	s.hit("update_me")
	var req domain.ProfileUpdate
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[emailFrom(r)]
	if req.Name != nil {
		u.user.Name = *req.Name
	}
	if req.AvatarURL != nil {
		u.user.AvatarURL = *req.AvatarURL
	}
	writeJSON(w, http.StatusOK, u.user)
}

func (s *stubBackend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	s.hit("change_password")
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[emailFrom(r)]
	if bcrypt.CompareHashAndPassword(u.hash, []byte(req.CurrentPassword)) != nil {
		detail(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		detail(w, http.StatusInternalServerError, "Failed to change password")
		return
	}
	u.hash = hash
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
