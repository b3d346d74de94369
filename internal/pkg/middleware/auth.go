package middleware

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/subforge/subforge/internal/pkg/identity"
	"github.com/subforge/subforge/internal/pkg/usercontext"
)

// TokenIntrospector is the subset of the identity client the auth middleware
// needs; tests substitute a stub.
type TokenIntrospector interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// RequireSupabaseAuth authenticates requests carrying a Supabase bearer token
// and stores the resolved user in the request context. Missing or invalid
// tokens get a JSON 401.
func RequireSupabaseAuth(client TokenIntrospector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Unauthorized",
			})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
		defer cancel()

		user, err := client.GetUser(ctx, token)
		if err != nil {
			var authErr *identity.AuthError
			if errors.As(err, &authErr) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"success": false,
					"message": "Invalid access token",
				})
			}
			log.Printf("auth middleware: token introspection failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Authentication service unavailable",
			})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:           user.ID,
			Email:            user.Email,
			EmailConfirmedAt: user.EmailConfirmedAt,
			LastSignInAt:     user.LastSignInAt,
			IsLoggedIn:       true,
		})
		c.Locals(usercontext.KeyAccessToken, token)

		return c.Next()
	}
}

// ExtractBearerToken pulls the token out of an Authorization header. A bare
// token without the Bearer prefix is accepted for compatibility with clients
// that send the raw access token.
func ExtractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return auth
}
