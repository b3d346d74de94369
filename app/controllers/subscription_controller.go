package controllers

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/entitlements"
	"github.com/subforge/subforge/internal/pkg/env"
	"github.com/subforge/subforge/internal/pkg/usercontext"
)

const subscriptionRequestTimeout = 15 * time.Second

// SubscriptionController serves the authenticated subscription routes. The
// identity middleware runs before every handler here, so the user context is
// always populated.
type SubscriptionController struct {
	Sync      *billing.Service
	API       PaddleAPI
	PublicURL string
}

func NewSubscriptionController(sync *billing.Service, api PaddleAPI) *SubscriptionController {
	return &SubscriptionController{
		Sync:      sync,
		API:       api,
		PublicURL: env.GetEnv("PUBLIC_API_URL", "http://localhost:3000"),
	}
}

type subscribeRequest struct {
	PriceID string `json:"priceId"`
}

// HandleSubscribe starts a checkout for the requested price. Checkout itself
// happens client-side with the provider's overlay; the webhook delivery later
// creates the local subscription row.
func (sc *SubscriptionController) HandleSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid JSON payload")
	}
	if req.PriceID == "" {
		return jsonError(c, fiber.StatusBadRequest, "priceId is required")
	}

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	if customer, err := sc.Sync.CustomerByEmail(ctx, userCtx.Email); err == nil {
		if _, err := sc.Sync.CurrentSubscription(ctx, customer.CustomerID); err == nil {
			return jsonError(c, fiber.StatusConflict, "You already have an active subscription")
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("subscribe: customer lookup failed for %s: %v", userCtx.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	// The reference ties the provider transaction back to this request in
	// support conversations and logs.
	checkoutURL := sc.PublicURL + "/checkout?price=" + url.QueryEscape(req.PriceID) +
		"&email=" + url.QueryEscape(userCtx.Email) +
		"&ref=" + uuid.NewString()

	return jsonSuccess(c, fiber.Map{
		"action":      "checkout",
		"checkoutUrl": checkoutURL,
		"message":     "Complete your subscription through the checkout",
	})
}

// HandleCancel cancels the caller's active subscription. The provider-side
// cancel is best-effort: the local row is always marked canceled and the
// client gets a success, with any upstream failure left to the logs and the
// eventual webhook to reconcile.
func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	customer, err := sc.Sync.CustomerByEmail(ctx, userCtx.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Customer record not found")
		}
		log.Printf("cancel: customer lookup failed for %s: %v", userCtx.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	sub, err := sc.Sync.CurrentSubscription(ctx, customer.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "No active subscription found")
		}
		log.Printf("cancel: subscription lookup failed for %s: %v", customer.CustomerID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	if err := sc.API.CancelSubscription(ctx, sub.SubscriptionID); err != nil {
		log.Printf("cancel: provider cancel failed for %s: %v", sub.SubscriptionID, err)
	}
	if err := sc.Sync.MarkCanceled(ctx, sub.SubscriptionID); err != nil {
		log.Printf("cancel: local status update failed for %s: %v", sub.SubscriptionID, err)
	}

	return jsonSuccess(c, fiber.Map{
		"message": "Subscription canceled successfully",
	})
}

// HandleStatus reports the caller's current subscription. Users without a
// customer record simply have no subscription, which is not an error.
func (sc *SubscriptionController) HandleStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	customer, err := sc.Sync.CustomerByEmail(ctx, userCtx.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return statusFreePlan(c)
		}
		log.Printf("status: customer lookup failed for %s: %v", userCtx.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	// Webhook-created customers have no user reference yet; back-fill it now
	// that the user proved ownership of the email.
	if customer.UserID == nil && userCtx.UserID != "" {
		if err := sc.Sync.AssociateUserByEmail(ctx, userCtx.Email, userCtx.UserID); err != nil {
			log.Printf("status: user association failed for %s: %v", customer.CustomerID, err)
		}
	}

	sub, err := sc.Sync.CurrentSubscription(ctx, customer.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return statusFreePlan(c)
		}
		log.Printf("status: subscription lookup failed for %s: %v", customer.CustomerID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	plan := entitlements.PlanForSubscription(sub)
	return jsonSuccess(c, fiber.Map{
		"plan":     plan,
		"features": entitlements.Features(plan),
		"subscription": fiber.Map{
			"subscription_id": sub.SubscriptionID,
			"status":          sub.Status,
			"price_id":        sub.PriceID,
			"product_id":      sub.ProductID,
			"customer_id":     sub.CustomerID,
			"created_at":      sub.CreatedAt,
			"updated_at":      sub.UpdatedAt,
		},
	})
}

// HandleHistory lists every subscription the caller's customer accumulated,
// canceled ones included, newest first.
func (sc *SubscriptionController) HandleHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	customer, err := sc.Sync.CustomerByEmail(ctx, userCtx.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonSuccess(c, fiber.Map{"subscriptions": []fiber.Map{}})
		}
		log.Printf("history: customer lookup failed for %s: %v", userCtx.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	subs, err := sc.Sync.SubscriptionHistory(ctx, customer.CustomerID)
	if err != nil {
		log.Printf("history: subscription lookup failed for %s: %v", customer.CustomerID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Server error")
	}

	out := make([]fiber.Map, 0, len(subs))
	for _, sub := range subs {
		out = append(out, fiber.Map{
			"subscription_id": sub.SubscriptionID,
			"status":          sub.Status,
			"price_id":        sub.PriceID,
			"product_id":      sub.ProductID,
			"created_at":      sub.CreatedAt,
			"updated_at":      sub.UpdatedAt,
		})
	}
	return jsonSuccess(c, fiber.Map{"subscriptions": out})
}

func statusFreePlan(c *fiber.Ctx) error {
	return jsonSuccess(c, fiber.Map{
		"plan":         entitlements.PlanFree,
		"features":     entitlements.Features(entitlements.PlanFree),
		"subscription": nil,
	})
}
