package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/subforge/subforge/internal/pkg/env"
)

// AuthError is returned when the identity provider rejects credentials or a
// token. It maps to HTTP 401 at the handler boundary.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// UpstreamError is returned for unexpected provider failures (5xx, malformed
// responses). Handlers translate it to a safe 500 message.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("identity provider request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// User is the subset of the Supabase user object the API exposes.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at,omitempty"`
	LastSignInAt     string `json:"last_sign_in_at,omitempty"`
}

// Session carries the access token issued on a successful sign-in.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SignUpResult distinguishes confirmed sign-ups from ones still waiting for
// email verification (no session is issued in that case).
type SignUpResult struct {
	User                      *User
	Session                   *Session
	RequiresEmailVerification bool
}

// SupabaseClient wraps the GoTrue REST endpoints used by the auth routes.
type SupabaseClient struct {
	BaseURL        string
	AnonKey        string
	ServiceRoleKey string

	HTTPClient *http.Client
}

func NewSupabaseClientFromEnv() *SupabaseClient {
	return &SupabaseClient{
		BaseURL:        strings.TrimRight(env.GetEnv("SUPABASE_URL", ""), "/"),
		AnonKey:        strings.TrimSpace(env.GetEnv("SUPABASE_ANON_KEY", "")),
		ServiceRoleKey: strings.TrimSpace(env.GetEnv("SUPABASE_SERVICE_ROLE_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SignInWithPassword exchanges email/password for a session.
func (c *SupabaseClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, *User, error) {
	if err := c.checkConfig(); err != nil {
		return nil, nil, err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password}, "")
	if err != nil {
		return nil, nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, nil, &AuthError{Message: providerErrorMessage(body, "Invalid email or password")}
	}
	if status < 200 || status >= 300 {
		return nil, nil, &UpstreamError{StatusCode: status, Body: string(body)}
	}

	var out struct {
		Session
		User User `json:"user"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, &UpstreamError{StatusCode: status, Body: "unparseable token response"}
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, nil, &UpstreamError{StatusCode: status, Body: "token response missing access_token"}
	}
	return &out.Session, &out.User, nil
}

// SignUp registers a new account. When the project requires email
// confirmation GoTrue returns the user without a session.
func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/auth/v1/signup",
		map[string]string{"email": email, "password": password}, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return nil, &AuthError{Message: providerErrorMessage(body, "Registration failed")}
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{StatusCode: status, Body: string(body)}
	}

	// Confirmation-pending responses carry the user fields at top level,
	// session-bearing ones nest them under "user".
	var out struct {
		Session
		User             *User  `json:"user"`
		ID               string `json:"id"`
		Email            string `json:"email"`
		EmailConfirmedAt string `json:"email_confirmed_at"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{StatusCode: status, Body: "unparseable signup response"}
	}

	res := &SignUpResult{}
	if out.User != nil {
		res.User = out.User
	} else if out.ID != "" {
		res.User = &User{ID: out.ID, Email: out.Email, EmailConfirmedAt: out.EmailConfirmedAt}
	}
	if strings.TrimSpace(out.AccessToken) != "" {
		res.Session = &Session{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			TokenType:    out.TokenType,
			ExpiresIn:    out.ExpiresIn,
		}
	}
	if res.User != nil && res.User.EmailConfirmedAt == "" {
		res.RequiresEmailVerification = true
	}
	return res, nil
}

// GetUser introspects an access token and returns the user it belongs to.
func (c *SupabaseClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, &AuthError{Message: "access token is required"}
	}

	body, status, err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, &AuthError{Message: "Invalid access token"}
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{StatusCode: status, Body: string(body)}
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, &UpstreamError{StatusCode: status, Body: "unparseable user response"}
	}
	if strings.TrimSpace(user.ID) == "" {
		return nil, &AuthError{Message: "Invalid access token"}
	}
	return &user, nil
}

// SignOut revokes the session behind an access token. Callers treat failures
// as best-effort: the client has already dropped its local credential.
func (c *SupabaseClient) SignOut(ctx context.Context, accessToken string) error {
	if err := c.checkConfig(); err != nil {
		return err
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return &AuthError{Message: "access token is required"}
	}

	body, status, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, token)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || (status >= 200 && status < 300) {
		return nil
	}
	if status == http.StatusUnauthorized {
		return &AuthError{Message: "Invalid access token"}
	}
	return &UpstreamError{StatusCode: status, Body: string(body)}
}

func (c *SupabaseClient) checkConfig() error {
	if strings.TrimSpace(c.BaseURL) == "" || strings.TrimSpace(c.AnonKey) == "" {
		return errors.New("SUPABASE_URL/SUPABASE_ANON_KEY are not configured")
	}
	return nil
}

func (c *SupabaseClient) do(ctx context.Context, method, endpoint string, payload any, bearer string) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("apikey", c.AnonKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, &UpstreamError{StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, resp.StatusCode, nil
}

// providerErrorMessage extracts a short human-readable message from a GoTrue
// error body without leaking provider internals.
func providerErrorMessage(body []byte, fallback string) string {
	var e struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		for _, m := range []string{e.Msg, e.Message, e.ErrorDescription} {
			if strings.TrimSpace(m) != "" {
				return m
			}
		}
	}
	return fallback
}
