package billing

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event types the synchronizer acts on. Every other type is accepted and
// ignored so unknown future events never break delivery.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventCustomerCreated      = "customer.created"
	EventCustomerUpdated      = "customer.updated"
)

// WebhookEnvelope is the outer shape of a Paddle webhook payload.
type WebhookEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ParseWebhookEnvelope decodes the outer event wrapper from raw bytes.
func ParseWebhookEnvelope(rawBody []byte) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.EventType) == "" {
		return nil, errors.New("webhook payload missing event_type")
	}
	return &env, nil
}

type subscriptionEventData struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CustomerID string `json:"customer_id"`
	Items      []struct {
		Price struct {
			ID        string `json:"id"`
			ProductID string `json:"product_id"`
		} `json:"price"`
	} `json:"items"`
}

type customerEventData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// parseSubscriptionEvent extracts the fields the synchronizer persists from a
// subscription.* event body. Price and product come from the first line item.
func parseSubscriptionEvent(data json.RawMessage) (*NormalizedSubscription, error) {
	var raw subscriptionEventData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("subscription event missing id")
	}

	out := &NormalizedSubscription{
		SubscriptionID: strings.TrimSpace(raw.ID),
		Status:         strings.ToLower(strings.TrimSpace(raw.Status)),
		CustomerID:     strings.TrimSpace(raw.CustomerID),
	}
	if len(raw.Items) > 0 {
		out.PriceID = strings.TrimSpace(raw.Items[0].Price.ID)
		out.ProductID = strings.TrimSpace(raw.Items[0].Price.ProductID)
	}
	return out, nil
}

func parseCustomerEvent(data json.RawMessage) (*customerEventData, error) {
	var raw customerEventData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("customer event missing id")
	}
	raw.ID = strings.TrimSpace(raw.ID)
	raw.Email = strings.TrimSpace(raw.Email)
	return &raw, nil
}
