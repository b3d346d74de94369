package usercontext

import "github.com/gofiber/fiber/v2"

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	KeyAccessToken = "access_token"
)

// UserContext represents the authenticated Supabase user for a request
type UserContext struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at,omitempty"`
	LastSignInAt     string `json:"last_sign_in_at,omitempty"`
	IsLoggedIn       bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false}
}

// SetUserContext stores the user context in fiber Locals.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetAccessToken returns the bearer token the auth middleware extracted, or "".
func GetAccessToken(c *fiber.Ctx) string {
	if v, ok := c.Locals(KeyAccessToken).(string); ok {
		return v
	}
	return ""
}
