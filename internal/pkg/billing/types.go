package billing

// NormalizedSubscription is the provider-agnostic shape the sync service
// accepts, whether the data came from a webhook event or a direct API action.
type NormalizedSubscription struct {
	SubscriptionID string
	Status         string
	PriceID        string
	ProductID      string
	CustomerID     string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	EventID        string
	EventType      string
	PayloadJSON    string
	SignatureValid bool
}
