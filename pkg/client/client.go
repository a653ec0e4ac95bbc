package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moodmate/moodmate/pkg/domain"
)

// DefaultBaseURL is the origin of a locally running MoodMate backend.
const DefaultBaseURL = "http://localhost:8000"

const apiPrefix = "/api/v1/auth"

// Client is the MoodMate auth API client. It holds no credentials;
// authenticated calls take the access token explicitly.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a new API client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "moodmate-cli",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the origin the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Login exchanges email and password for a token pair and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.post(ctx, "/login", "", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	return &resp, nil
}

// Register creates an account and returns its first token pair.
func (c *Client) Register(ctx context.Context, name, email, password string) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.post(ctx, "/register", "", registerRequest{Name: name, Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token.
// The refresh token itself is not rotated.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.post(ctx, "/refresh", "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return "", fmt.Errorf("client.Refresh: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("client.Refresh: empty access token in response")
	}
	return resp.AccessToken, nil
}

// Logout revokes the refresh token on the backend.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if err := c.post(ctx, "/logout", "", refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("client.Logout: %w", err)
	}
	return nil
}

// Me returns the user the access token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (*domain.User, error) {
	var u domain.User
	if err := c.doRequest(ctx, http.MethodGet, "/me", accessToken, nil, &u); err != nil {
		return nil, fmt.Errorf("client.Me: %w", err)
	}
	return &u, nil
}

// UpdateMe updates the caller's profile and returns the stored record.
func (c *Client) UpdateMe(ctx context.Context, accessToken string, update domain.ProfileUpdate) (*domain.User, error) {
	var u domain.User
	if err := c.doRequest(ctx, http.MethodPut, "/me", accessToken, update, &u); err != nil {
		return nil, fmt.Errorf("client.UpdateMe: %w", err)
	}
	return &u, nil
}

// ChangePassword replaces the caller's password.
func (c *Client) ChangePassword(ctx context.Context, accessToken, current, next string) error {
	req := changePasswordRequest{CurrentPassword: current, NewPassword: next}
	if err := c.post(ctx, "/change-password", accessToken, req, nil); err != nil {
		return fmt.Errorf("client.ChangePassword: %w", err)
	}
	return nil
}

// ForgotPassword asks the backend to send a reset link to email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*domain.PasswordResetTicket, error) {
	var ticket domain.PasswordResetTicket
	if err := c.post(ctx, "/forgot-password", "", map[string]string{"email": email}, &ticket); err != nil {
		return nil, fmt.Errorf("client.ForgotPassword: %w", err)
	}
	return &ticket, nil
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	req := resetPasswordRequest{Token: token, NewPassword: newPassword}
	if err := c.post(ctx, "/reset-password", "", req, nil); err != nil {
		return fmt.Errorf("client.ResetPassword: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, token string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, token, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Error(err))
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		detail := errorDetail(respBody)
		msg := detail
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg, Detail: detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorDetail extracts the message from a JSON error body.
// The backend reports failures in "detail", either as a string or as a
// list of validation errors; "error" is accepted as a fallback.
func errorDetail(body []byte) string {
	var apiErr struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) != nil {
		return ""
	}
	if len(apiErr.Detail) > 0 {
		var s string
		if json.Unmarshal(apiErr.Detail, &s) == nil && s != "" {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(apiErr.Detail, &list) == nil && len(list) > 0 && list[0].Msg != "" {
			return list[0].Msg
		}
	}
	return apiErr.Error
}
