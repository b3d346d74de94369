package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/identity"
)

// All endpoints answer with the same JSON envelope: {success, message?, ...}.

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func jsonSuccess(c *fiber.Ctx, payload fiber.Map) error {
	if payload == nil {
		payload = fiber.Map{}
	}
	payload["success"] = true
	return c.Status(fiber.StatusOK).JSON(payload)
}

// identityErrorStatus maps identity client failures to handler responses
// without leaking provider internals beyond a short message.
func identityErrorStatus(err error, authMessage string) (int, string) {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		if authMessage != "" {
			return fiber.StatusUnauthorized, authMessage
		}
		return fiber.StatusUnauthorized, authErr.Message
	}
	return fiber.StatusInternalServerError, "Server error"
}

// billingErrorStatus maps Paddle client failures the same way.
func billingErrorStatus(err error) (int, string) {
	var upstream *billing.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == fiber.StatusNotFound {
		return fiber.StatusNotFound, "Not found"
	}
	return fiber.StatusInternalServerError, "Server error"
}
