package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subforge/subforge/app/models"
	"github.com/subforge/subforge/internal/pkg/billing"
)

const testWebhookSecret = "whsec_test_secret"

func newWebhookTestApp(repo *memoryRepository) *fiber.App {
	wc := &WebhookController{
		Sync:    billing.NewService(repo),
		Secret:  testWebhookSecret,
		Options: billing.SignatureOptions{Tolerance: time.Hour},
	}
	app := fiber.New()
	app.Post("/api/paddle/webhook", wc.HandlePaddleWebhook)
	return app
}

func signedWebhookRequest(payload []byte) *http.Request {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(payload)

	req, _ := http.NewRequest(http.MethodPost, "/api/paddle/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	req.Header.Set("Paddle-Signature", fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func TestHandlePaddleWebhook_SubscriptionCreated(t *testing.T) {
	repo := newMemoryRepository()
	app := newWebhookTestApp(repo)

	payload := []byte(`{
		"event_id": "evt_1",
		"event_type": "subscription.created",
		"data": {
			"id": "sub_1",
			"status": "active",
			"customer_id": "ctm_1",
			"items": [{"price": {"id": "pri_1", "product_id": "pro_1"}}]
		}
	}`)

	resp, err := app.Test(signedWebhookRequest(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sub := repo.subscriptions["sub_1"]
	require.NotNil(t, sub)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "pri_1", sub.PriceID)

	event := repo.events["evt_1"]
	require.NotNil(t, event)
	assert.True(t, event.SignatureValid)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}

func TestHandlePaddleWebhook_InvalidSignature(t *testing.T) {
	repo := newMemoryRepository()
	app := newWebhookTestApp(repo)

	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.created","data":{"id":"sub_1","status":"active"}}`)
	req, _ := http.NewRequest(http.MethodPost, "/api/paddle/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	req.Header.Set("Paddle-Signature", "ts=1700000000;h1=deadbeef")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Nothing recorded, nothing mutated.
	assert.Empty(t, repo.events)
	assert.Empty(t, repo.subscriptions)
}

func TestHandlePaddleWebhook_MissingSignature(t *testing.T) {
	app := newWebhookTestApp(newMemoryRepository())

	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.created","data":{}}`)
	req, _ := http.NewRequest(http.MethodPost, "/api/paddle/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlePaddleWebhook_DevModeWithoutSecret(t *testing.T) {
	repo := newMemoryRepository()
	wc := &WebhookController{
		Sync:            billing.NewService(repo),
		AllowUnverified: true,
	}
	app := fiber.New()
	app.Post("/api/paddle/webhook", wc.HandlePaddleWebhook)

	payload := []byte(`{"event_id":"evt_dev","event_type":"customer.created","data":{"id":"ctm_1","email":"u@example.com"}}`)
	req, _ := http.NewRequest(http.MethodPost, "/api/paddle/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	event := repo.events["evt_dev"]
	require.NotNil(t, event)
	assert.False(t, event.SignatureValid)
	require.NotNil(t, repo.customers["ctm_1"])
}

func TestHandlePaddleWebhook_BadJSON(t *testing.T) {
	app := newWebhookTestApp(newMemoryRepository())

	resp, err := app.Test(signedWebhookRequest([]byte(`{not json`)), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePaddleWebhook_DuplicateDelivery(t *testing.T) {
	repo := newMemoryRepository()
	app := newWebhookTestApp(repo)

	payload := []byte(`{
		"event_id": "evt_1",
		"event_type": "subscription.created",
		"data": {"id": "sub_1", "status": "active", "customer_id": "ctm_1"}
	}`)

	resp, err := app.Test(signedWebhookRequest(payload), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Redelivery must be acknowledged without reprocessing.
	resp, err = app.Test(signedWebhookRequest(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := decodeBody(resp)
	require.NoError(t, err)
	assert.Equal(t, true, body["duplicate"])
	assert.Len(t, repo.events, 1)
}

func TestHandlePaddleWebhook_UnknownEventTypeIgnored(t *testing.T) {
	repo := newMemoryRepository()
	app := newWebhookTestApp(repo)

	payload := []byte(`{"event_id":"evt_9","event_type":"transaction.completed","data":{"id":"txn_1"}}`)
	resp, err := app.Test(signedWebhookRequest(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Empty(t, repo.subscriptions)
	assert.Empty(t, repo.customers)
	// Still recorded for audit.
	assert.NotNil(t, repo.events["evt_9"])
}

func TestHandlePaddleWebhook_CancelEvent(t *testing.T) {
	repo := newMemoryRepository()
	require.NoError(t, repo.UpsertSubscription(&models.Subscription{
		SubscriptionID: "sub_1",
		Status:         models.SubscriptionStatusActive,
		CustomerID:     "ctm_1",
	}))
	app := newWebhookTestApp(repo)

	payload := []byte(`{
		"event_id": "evt_2",
		"event_type": "subscription.canceled",
		"data": {"id": "sub_1", "status": "canceled", "customer_id": "ctm_1"}
	}`)
	resp, err := app.Test(signedWebhookRequest(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.subscriptions["sub_1"].Status)
}
