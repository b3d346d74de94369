package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/env"
	"github.com/subforge/subforge/internal/pkg/metrics/counter"
)

const webhookProcessTimeout = 15 * time.Second

// WebhookController receives Paddle webhook deliveries, verifies their
// signature over the raw body and feeds them into the sync service.
type WebhookController struct {
	Sync    *billing.Service
	Secret  string
	Options billing.SignatureOptions

	// AllowUnverified lets local development accept deliveries that carry
	// neither a secret nor a signature header. Never enabled in production.
	AllowUnverified bool
}

func NewWebhookController(sync *billing.Service) *WebhookController {
	return &WebhookController{
		Sync:            sync,
		Secret:          env.GetEnv("PADDLE_WEBHOOK_SECRET", ""),
		Options:         billing.SignatureOptionsFromEnv(),
		AllowUnverified: env.IsDev(),
	}
}

// HandlePaddleWebhook is the single webhook entry point. Responses steer the
// provider's retry behavior: 2xx acknowledges, 401/400 reject bad deliveries,
// 5xx asks for a redelivery.
func (wc *WebhookController) HandlePaddleWebhook(c *fiber.Ctx) error {
	// The signature covers the body bytes exactly as sent, so work on the
	// raw body and never a re-serialization.
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signatureHeader := c.Get("Paddle-Signature")

	verified := false
	switch {
	case wc.Secret == "" && signatureHeader == "" && wc.AllowUnverified:
		log.Printf("webhook: accepting unverified delivery (development mode)")
	case wc.Secret == "" || signatureHeader == "":
		return jsonError(c, fiber.StatusUnauthorized, "Missing webhook signature")
	default:
		result := billing.VerifyPaddleWebhookSignature(rawBody, signatureHeader, wc.Secret, wc.Options)
		if !result.Valid {
			log.Printf("webhook: rejected delivery: %s", result.Detail)
			_ = counter.AddWebhookOutcome(counter.OutcomeRejected)
			return jsonError(c, fiber.StatusUnauthorized, "Invalid webhook signature")
		}
		if result.TimestampSkewed {
			log.Printf("webhook: signature timestamp outside tolerance: %s", result.Detail)
		}
		verified = true
	}

	envelope, err := billing.ParseWebhookEnvelope(rawBody)
	if err != nil {
		_ = counter.AddWebhookOutcome(counter.OutcomeRejected)
		return jsonError(c, fiber.StatusBadRequest, "Invalid webhook payload")
	}
	_ = counter.AddWebhookEvent(envelope.EventType)

	ctx, cancel := context.WithTimeout(c.Context(), webhookProcessTimeout)
	defer cancel()

	created, event, err := wc.Sync.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		EventID:        envelope.EventID,
		EventType:      envelope.EventType,
		PayloadJSON:    string(rawBody),
		SignatureValid: verified,
	})
	if err != nil {
		log.Printf("webhook: failed to record event %s: %v", envelope.EventID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to record webhook")
	}
	if !created && event.ProcessedAt != nil && event.ProcessingError == "" {
		// Redelivery of an event that already went through cleanly.
		_ = counter.AddWebhookOutcome(counter.OutcomeDuplicate)
		return jsonSuccess(c, fiber.Map{
			"message":   "Event already processed",
			"duplicate": true,
		})
	}

	applyErr := wc.Sync.ApplyEvent(ctx, envelope.EventType, envelope.Data)
	if err := wc.Sync.MarkWebhookProcessed(ctx, event.ID, applyErr); err != nil {
		log.Printf("webhook: failed to mark event %s processed: %v", envelope.EventID, err)
	}
	if applyErr != nil {
		log.Printf("webhook: failed to apply %s event %s: %v", envelope.EventType, envelope.EventID, applyErr)
		_ = counter.AddWebhookOutcome(counter.OutcomeFailed)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to process webhook")
	}

	_ = counter.AddWebhookOutcome(counter.OutcomeProcessed)
	return jsonSuccess(c, fiber.Map{
		"message": "Webhook processed",
	})
}
