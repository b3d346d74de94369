package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/subforge/subforge/app/models"
	"gorm.io/gorm"
)

// ErrUnknownStatus is returned when an event carries a subscription status
// outside the enumerated lifecycle values. Such events must not mutate state.
var ErrUnknownStatus = errors.New("unknown subscription status")

// ErrStaleTransition is returned when an event would move a canceled
// subscription back to a live status. Cancellation is terminal; a late
// arriving created/updated event is treated as out-of-order delivery.
var ErrStaleTransition = errors.New("stale subscription transition")

// activeLikeStatuses are the statuses that make a subscription "current".
var activeLikeStatuses = []string{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
}

// Service owns all writes to customer/subscription rows, whether triggered by
// verified billing events or direct API actions.
type Service struct {
	repo Repository
}

// NewService creates a billing sync service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing sync service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// UpsertCustomer creates or updates the local row mirroring a Paddle
// customer. Idempotent under re-delivery of the same event.
func (s *Service) UpsertCustomer(ctx context.Context, customerID, email string) (*models.Customer, error) {
	_ = ctx
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errors.New("customer_id is required")
	}

	customer := &models.Customer{
		CustomerID: id,
		Email:      strings.ToLower(strings.TrimSpace(email)),
	}
	if err := s.repo.UpsertCustomer(customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// AssociateUserByEmail back-fills the user reference on a customer row that
// was created from a webhook before the user ever signed in.
func (s *Service) AssociateUserByEmail(ctx context.Context, email, userID string) error {
	_ = ctx
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("user_id is required")
	}

	customer, err := s.repo.GetCustomerByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if customer.UserID != nil && *customer.UserID == uid {
		return nil
	}
	return s.repo.SetCustomerUser(customer.CustomerID, uid)
}

// UpsertSubscription creates or updates the row keyed by subscription_id.
// Status strings are validated against the lifecycle enum, and a canceled
// subscription never leaves the canceled state through late events.
func (s *Service) UpsertSubscription(ctx context.Context, in NormalizedSubscription) (*models.Subscription, error) {
	_ = ctx
	id := strings.TrimSpace(in.SubscriptionID)
	if id == "" {
		return nil, errors.New("subscription_id is required")
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if !models.KnownSubscriptionStatus(status) {
		return nil, ErrUnknownStatus
	}

	existing, err := s.repo.GetSubscriptionBySubscriptionID(id)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == models.SubscriptionStatusCanceled && status != models.SubscriptionStatusCanceled {
		log.Printf("billing: ignoring stale %q event for canceled subscription %s", status, id)
		return existing, ErrStaleTransition
	}

	sub := &models.Subscription{
		SubscriptionID: id,
		Status:         status,
		PriceID:        strings.TrimSpace(in.PriceID),
		ProductID:      strings.TrimSpace(in.ProductID),
		CustomerID:     strings.TrimSpace(in.CustomerID),
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// MarkCanceled sets a subscription's status to canceled. Used from the
// webhook path and as the local state update on direct cancellation.
func (s *Service) MarkCanceled(ctx context.Context, subscriptionID string) error {
	_ = ctx
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return errors.New("subscription_id is required")
	}

	affected, err := s.repo.UpdateSubscriptionStatus(id, models.SubscriptionStatusCanceled)
	if err != nil {
		return err
	}
	if affected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CustomerByEmail resolves the customer row lazily associated with a signed
// in user.
func (s *Service) CustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	_ = ctx
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return nil, errors.New("email is required")
	}
	return s.repo.GetCustomerByEmail(e)
}

// CurrentSubscription returns the most recently created active-like
// subscription for a customer, or gorm.ErrRecordNotFound.
func (s *Service) CurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	_ = ctx
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errors.New("customer_id is required")
	}
	return s.repo.LatestSubscriptionByCustomer(id, activeLikeStatuses)
}

// SubscriptionHistory lists all rows a customer accumulated, newest first.
func (s *Service) SubscriptionHistory(ctx context.Context, customerID string) ([]models.Subscription, error) {
	_ = ctx
	return s.repo.ListSubscriptionsByCustomer(strings.TrimSpace(customerID))
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without a
// provider event ID fall back to a payload hash so replays still dedup.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		EventID:        eventID,
		EventType:      strings.TrimSpace(in.EventType),
		PayloadJSON:    in.PayloadJSON,
		SignatureValid: in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ApplyEvent routes a verified webhook event to the matching state change.
// Unrecognized event types are ignored without touching any rows.
func (s *Service) ApplyEvent(ctx context.Context, eventType string, data json.RawMessage) error {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		in, err := parseSubscriptionEvent(data)
		if err != nil {
			return err
		}
		_, err = s.UpsertSubscription(ctx, *in)
		if errors.Is(err, ErrStaleTransition) {
			return nil
		}
		return err

	case EventSubscriptionCanceled:
		in, err := parseSubscriptionEvent(data)
		if err != nil {
			return err
		}
		err = s.MarkCanceled(ctx, in.SubscriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Cancel for a subscription we never saw: record the row so
			// history stays complete.
			in.Status = models.SubscriptionStatusCanceled
			_, err = s.UpsertSubscription(ctx, *in)
		}
		return err

	case EventCustomerCreated, EventCustomerUpdated:
		in, err := parseCustomerEvent(data)
		if err != nil {
			return err
		}
		_, err = s.UpsertCustomer(ctx, in.ID, in.Email)
		return err

	default:
		log.Printf("billing: ignoring event type %q", eventType)
		return nil
	}
}
