package counter

import (
	"context"
	"strings"

	"github.com/subforge/subforge/internal/pkg/cache"
)

const (
	webhookEventsKey   = "webhook:counters:events"
	webhookOutcomesKey = "webhook:counters:outcomes"
)

// Delivery outcomes tracked per webhook request.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// AddWebhookEvent increments the counter for a received event type in Redis.
// Counters survive restarts; callers treat failures as non-fatal.
func AddWebhookEvent(eventType string) error {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	field := strings.ToLower(strings.TrimSpace(eventType))
	if field == "" {
		field = "unknown"
	}
	return client.HIncrBy(context.Background(), webhookEventsKey, field, 1).Err()
}

// AddWebhookOutcome increments the counter for a delivery outcome.
func AddWebhookOutcome(outcome string) error {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	return client.HIncrBy(context.Background(), webhookOutcomesKey, outcome, 1).Err()
}

// Snapshot returns the current event type and outcome counters.
func Snapshot() (events map[string]string, outcomes map[string]string, err error) {
	client := cache.GetClient()
	if client == nil {
		return nil, nil, nil
	}
	ctx := context.Background()
	events, err = client.HGetAll(ctx, webhookEventsKey).Result()
	if err != nil {
		return nil, nil, err
	}
	outcomes, err = client.HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, nil, err
	}
	return events, outcomes, nil
}
