package controllers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/subforge/subforge/internal/pkg/identity"
	"github.com/subforge/subforge/internal/pkg/middleware"
	"github.com/subforge/subforge/internal/pkg/usercontext"
)

// IdentityClient is the part of the Supabase wrapper the auth routes use.
type IdentityClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, *identity.User, error)
	SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AuthController proxies sign-in/sign-up/sign-out to the identity provider.
type AuthController struct {
	Identity IdentityClient
}

func NewAuthController(client IdentityClient) *AuthController {
	return &AuthController{Identity: client}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

const authRequestTimeout = 10 * time.Second

// HandleLogin exchanges email/password for a Supabase session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid JSON payload")
	}
	if err := validator.New().Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Please provide email and password")
	}

	ctx, cancel := context.WithTimeout(c.Context(), authRequestTimeout)
	defer cancel()

	session, user, err := ac.Identity.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		status, message := identityErrorStatus(err, "Invalid email or password")
		if status >= fiber.StatusInternalServerError {
			log.Printf("login failed: %v", err)
		}
		return jsonError(c, status, message)
	}

	return jsonSuccess(c, fiber.Map{
		"message": "Login successful",
		"token":   session.AccessToken,
		"user": fiber.Map{
			"id":                 user.ID,
			"email":              user.Email,
			"email_confirmed_at": user.EmailConfirmedAt,
		},
	})
}

// HandleRegister creates an account. When the project requires email
// confirmation no session token is issued and the response says so.
func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid JSON payload")
	}
	if err := validator.New().Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Please provide email and password")
	}

	ctx, cancel := context.WithTimeout(c.Context(), authRequestTimeout)
	defer cancel()

	res, err := ac.Identity.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		status, message := identityErrorStatus(err, "")
		if status == fiber.StatusUnauthorized {
			// Provider-side validation failures are client errors here.
			status = fiber.StatusBadRequest
		}
		if status >= fiber.StatusInternalServerError {
			log.Printf("registration failed: %v", err)
		}
		return jsonError(c, status, message)
	}

	if res.RequiresEmailVerification {
		return jsonSuccess(c, fiber.Map{
			"message":                   "Registration successful, please check your email to verify your account",
			"requiresEmailVerification": true,
		})
	}

	payload := fiber.Map{
		"message": "Registration successful",
	}
	if res.User != nil {
		payload["user"] = fiber.Map{
			"id":                 res.User.ID,
			"email":              res.User.Email,
			"email_confirmed_at": res.User.EmailConfirmedAt,
		}
	}
	if res.Session != nil {
		payload["token"] = res.Session.AccessToken
	}
	return jsonSuccess(c, payload)
}

// HandleLogout revokes the session upstream, best-effort. The caller has
// already discarded its local token, so the response is success even when
// the provider-side revoke fails.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	if token := middleware.ExtractBearerToken(c); token != "" {
		ctx, cancel := context.WithTimeout(c.Context(), authRequestTimeout)
		defer cancel()

		if err := ac.Identity.SignOut(ctx, token); err != nil {
			log.Printf("logout: upstream sign-out failed: %v", err)
		}
	}

	return jsonSuccess(c, fiber.Map{
		"message": "Logged out successfully",
	})
}

// HandleGetUser returns the authenticated user. Token introspection already
// happened in the auth middleware.
func (ac *AuthController) HandleGetUser(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	return jsonSuccess(c, fiber.Map{
		"user": fiber.Map{
			"id":                 userCtx.UserID,
			"email":              userCtx.Email,
			"email_confirmed_at": userCtx.EmailConfirmedAt,
			"last_sign_in_at":    userCtx.LastSignInAt,
		},
	})
}
