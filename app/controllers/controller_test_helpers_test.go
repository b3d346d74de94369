package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/subforge/subforge/app/models"
	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/identity"
)

// memoryRepository backs billing.Service with maps for handler tests.
type memoryRepository struct {
	customers     map[string]*models.Customer
	subscriptions map[string]*models.Subscription
	events        map[string]*models.WebhookEvent
	nextEventID   uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		customers:     map[string]*models.Customer{},
		subscriptions: map[string]*models.Subscription{},
		events:        map[string]*models.WebhookEvent{},
	}
}

func (m *memoryRepository) UpsertCustomer(customer *models.Customer) error {
	if existing, ok := m.customers[customer.CustomerID]; ok {
		existing.Email = customer.Email
		*customer = *existing
		return nil
	}
	customer.ID = uint(len(m.customers) + 1)
	cp := *customer
	m.customers[customer.CustomerID] = &cp
	return nil
}

func (m *memoryRepository) GetCustomerByEmail(email string) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) SetCustomerUser(customerID, userID string) error {
	c, ok := m.customers[customerID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	uid := userID
	c.UserID = &uid
	return nil
}

func (m *memoryRepository) UpsertSubscription(sub *models.Subscription) error {
	if existing, ok := m.subscriptions[sub.SubscriptionID]; ok {
		existing.Status = sub.Status
		existing.PriceID = sub.PriceID
		existing.ProductID = sub.ProductID
		existing.CustomerID = sub.CustomerID
		*sub = *existing
		return nil
	}
	sub.ID = uint(len(m.subscriptions) + 1)
	sub.CreatedAt = time.Now()
	cp := *sub
	m.subscriptions[sub.SubscriptionID] = &cp
	return nil
}

func (m *memoryRepository) GetSubscriptionBySubscriptionID(subscriptionID string) (*models.Subscription, error) {
	if s, ok := m.subscriptions[subscriptionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) UpdateSubscriptionStatus(subscriptionID, status string) (int64, error) {
	s, ok := m.subscriptions[subscriptionID]
	if !ok {
		return 0, nil
	}
	s.Status = status
	return 1, nil
}

func (m *memoryRepository) LatestSubscriptionByCustomer(customerID string, statuses []string) (*models.Subscription, error) {
	var latest *models.Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID != customerID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if s.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memoryRepository) ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID == customerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := m.events[event.EventID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	m.nextEventID++
	event.ID = m.nextEventID
	cp := *event
	m.events[event.EventID] = &cp
	res := cp
	return true, &res, nil
}

func (m *memoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range m.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

var _ billing.Repository = (*memoryRepository)(nil)

// identityStub implements IdentityClient and middleware.TokenIntrospector
// with overridable behavior per test.
type identityStub struct {
	signInFn  func(ctx context.Context, email, password string) (*identity.Session, *identity.User, error)
	signUpFn  func(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	getUserFn func(ctx context.Context, accessToken string) (*identity.User, error)
	signOutFn func(ctx context.Context, accessToken string) error
}

func (s *identityStub) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, *identity.User, error) {
	return s.signInFn(ctx, email, password)
}

func (s *identityStub) SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
	return s.signUpFn(ctx, email, password)
}

func (s *identityStub) GetUser(ctx context.Context, accessToken string) (*identity.User, error) {
	return s.getUserFn(ctx, accessToken)
}

func (s *identityStub) SignOut(ctx context.Context, accessToken string) error {
	return s.signOutFn(ctx, accessToken)
}

// paddleStub implements PaddleAPI for handler tests.
type paddleStub struct {
	listPricesFn   func(ctx context.Context) ([]billing.Price, error)
	listProductsFn func(ctx context.Context, ids []string) ([]billing.Product, error)
	cancelFn       func(ctx context.Context, subscriptionID string) error
}

func (s *paddleStub) ListPrices(ctx context.Context) ([]billing.Price, error) {
	return s.listPricesFn(ctx)
}

func (s *paddleStub) ListProducts(ctx context.Context, ids []string) ([]billing.Product, error) {
	return s.listProductsFn(ctx, ids)
}

func (s *paddleStub) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return s.cancelFn(ctx, subscriptionID)
}

func decodeBody(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonRequest(method, target string, payload any) *http.Request {
	var req *http.Request
	if payload != nil {
		raw, _ := json.Marshal(payload)
		req, _ = http.NewRequest(method, target, bytes.NewReader(raw))
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	return req
}
