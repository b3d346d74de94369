package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subforge/subforge/internal/pkg/identity"
	"github.com/subforge/subforge/internal/pkg/middleware"
)

func newAuthTestApp(stub *identityStub) *fiber.App {
	app := fiber.New()
	ac := NewAuthController(stub)
	app.Post("/api/auth/login", ac.HandleLogin)
	app.Post("/api/auth/register", ac.HandleRegister)
	app.Post("/api/auth/logout", ac.HandleLogout)
	app.Get("/api/auth/user", middleware.RequireSupabaseAuth(stub), ac.HandleGetUser)
	return app
}

func TestHandleLogin(t *testing.T) {
	stub := &identityStub{
		signInFn: func(ctx context.Context, email, password string) (*identity.Session, *identity.User, error) {
			if password != "correct" {
				return nil, nil, &identity.AuthError{Message: "Invalid login credentials"}
			}
			return &identity.Session{AccessToken: "token-123"},
				&identity.User{ID: "uuid-1", Email: email, EmailConfirmedAt: "2024-01-01T00:00:00Z"}, nil
		},
	}
	app := newAuthTestApp(stub)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "correct",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "token-123", body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "uuid-1", user["id"])

	// Wrong password gets a generic 401 regardless of the provider message.
	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "wrong",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, err = decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid email or password", body["message"])
}

func TestHandleLogin_Validation(t *testing.T) {
	stub := &identityStub{
		signInFn: func(ctx context.Context, email, password string) (*identity.Session, *identity.User, error) {
			t.Fatal("provider must not be called for invalid input")
			return nil, nil, nil
		},
	}
	app := newAuthTestApp(stub)

	tests := []struct {
		name    string
		payload map[string]string
	}{
		{name: "missing password", payload: map[string]string{"email": "user@example.com"}},
		{name: "missing email", payload: map[string]string{"password": "pw"}},
		{name: "not an email", payload: map[string]string{"email": "nope", "password": "pw"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/login", tc.payload), -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandleRegister_EmailVerificationPending(t *testing.T) {
	stub := &identityStub{
		signUpFn: func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
			return &identity.SignUpResult{
				User:                      &identity.User{ID: "uuid-2", Email: email},
				RequiresEmailVerification: true,
			}, nil
		},
	}
	app := newAuthTestApp(stub)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "new@example.com", "password": "pw123456",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["requiresEmailVerification"])
	// No session until the email is verified.
	assert.NotContains(t, body, "token")
}

func TestHandleRegister_ProviderValidationError(t *testing.T) {
	stub := &identityStub{
		signUpFn: func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
			return nil, &identity.AuthError{Message: "Password should be at least 6 characters"}
		},
	}
	app := newAuthTestApp(stub)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "new@example.com", "password": "short",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "Password should be at least 6 characters", body["message"])
}

func TestHandleLogout_AlwaysSucceeds(t *testing.T) {
	stub := &identityStub{
		signOutFn: func(ctx context.Context, accessToken string) error {
			return errors.New("provider is down")
		},
	}
	app := newAuthTestApp(stub)

	req := jsonRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer token-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, true, body["success"])
}

func TestHandleGetUser(t *testing.T) {
	stub := &identityStub{
		getUserFn: func(ctx context.Context, accessToken string) (*identity.User, error) {
			if accessToken != "token-123" {
				return nil, &identity.AuthError{Message: "Invalid access token"}
			}
			return &identity.User{ID: "uuid-1", Email: "user@example.com"}, nil
		},
	}
	app := newAuthTestApp(stub)

	// No token at all.
	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/auth/user", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Rejected token.
	req := jsonRequest(http.MethodGet, "/api/auth/user", nil)
	req.Header.Set("Authorization", "Bearer stale")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid token.
	req = jsonRequest(http.MethodGet, "/api/auth/user", nil)
	req.Header.Set("Authorization", "Bearer token-123")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	user := body["user"].(map[string]any)
	assert.Equal(t, "uuid-1", user["id"])
	assert.Equal(t, "user@example.com", user["email"])
}
