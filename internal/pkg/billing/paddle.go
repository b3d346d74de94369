package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/subforge/subforge/internal/pkg/env"
)

const (
	defaultPaddleSandboxAPIBaseURL    = "https://sandbox-api.paddle.com"
	defaultPaddleProductionAPIBaseURL = "https://api.paddle.com"

	paddleRetryAttempts  = 3
	paddleRetryBaseDelay = 250 * time.Millisecond
)

// UpstreamError carries the HTTP status and provider error body of a failed
// Paddle API call. Handlers map it to a 500 with a safe message.
type UpstreamError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("paddle api call failed: endpoint=%s status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

// Price is a Paddle price joined with its product's display fields.
type Price struct {
	ID           string   `json:"id"`
	ProductID    string   `json:"product_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Features     []string `json:"features,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	UnitPrice    Money    `json:"unit_price"`
	BillingCycle Cycle    `json:"billing_cycle"`
}

type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

type Cycle struct {
	Interval  string `json:"interval"`
	Frequency int    `json:"frequency"`
}

// Product is the subset of a Paddle product used to decorate prices.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	CustomData  struct {
		Features string `json:"features"`
	} `json:"custom_data"`
}

// PaddleClient wraps the Paddle billing REST API. The base URL is selected by
// the PADDLE_ENVIRONMENT flag (sandbox unless explicitly production).
type PaddleClient struct {
	APIKey  string
	BaseURL string

	// EffectiveFrom is the cancellation timing sent to the provider.
	// Paddle accepts "immediately" or "next_billing_period"; which one a
	// deployment wants is a product decision, so it stays configurable.
	EffectiveFrom string

	HTTPClient *http.Client
}

func NewPaddleClientFromEnv() *PaddleClient {
	baseURL := defaultPaddleSandboxAPIBaseURL
	if env.GetEnv("PADDLE_ENVIRONMENT", "sandbox") == "production" {
		baseURL = defaultPaddleProductionAPIBaseURL
	}

	effectiveFrom := strings.TrimSpace(env.GetEnv("PADDLE_CANCEL_EFFECTIVE_FROM", "immediately"))

	return &PaddleClient{
		APIKey:        strings.TrimSpace(env.GetEnv("PADDLE_API_KEY", "")),
		BaseURL:       baseURL,
		EffectiveFrom: effectiveFrom,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListPrices returns all prices ordered by unit amount ascending.
func (c *PaddleClient) ListPrices(ctx context.Context) ([]Price, error) {
	body, err := c.call(ctx, http.MethodGet, "/prices?order_by=unit_price.amount[ASC]", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			ID           string `json:"id"`
			ProductID    string `json:"product_id"`
			UnitPrice    Money  `json:"unit_price"`
			BillingCycle *Cycle `json:"billing_cycle"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unparseable prices response: %w", err)
	}

	prices := make([]Price, 0, len(out.Data))
	for _, p := range out.Data {
		price := Price{
			ID:           p.ID,
			ProductID:    p.ProductID,
			UnitPrice:    p.UnitPrice,
			BillingCycle: Cycle{Interval: "month", Frequency: 1},
		}
		if p.BillingCycle != nil && p.BillingCycle.Interval != "" {
			price.BillingCycle = *p.BillingCycle
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// ListProducts fetches product details for the given IDs. The input is
// deduplicated before querying to avoid redundant provider load; an empty
// list short-circuits without a call.
func (c *PaddleClient) ListProducts(ctx context.Context, productIDs []string) ([]Product, error) {
	seen := make(map[string]struct{}, len(productIDs))
	query := url.Values{}
	for _, raw := range productIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		query.Add("id", id)
	}
	if len(seen) == 0 {
		return nil, nil
	}

	body, err := c.call(ctx, http.MethodGet, "/products?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []Product `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unparseable products response: %w", err)
	}
	return out.Data, nil
}

// CancelSubscription cancels a subscription on the provider side. Any
// scheduled change is cleared first; a pending pause or cancellation would
// otherwise make the cancel call fail.
func (c *PaddleClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return errors.New("subscription id is required")
	}

	if err := c.PatchSubscription(ctx, id, map[string]any{"scheduled_change": nil}); err != nil {
		// A failed pre-clear is not fatal when no change was scheduled.
		var ue *UpstreamError
		if !errors.As(err, &ue) || ue.StatusCode >= 500 {
			return err
		}
	}

	effectiveFrom := c.EffectiveFrom
	if effectiveFrom == "" {
		effectiveFrom = "immediately"
	}
	_, err := c.call(ctx, http.MethodPost, "/subscriptions/"+id+"/cancel", map[string]any{
		"effective_from": effectiveFrom,
	})
	return err
}

// PatchSubscription applies a partial update to a subscription.
func (c *PaddleClient) PatchSubscription(ctx context.Context, subscriptionID string, fields map[string]any) error {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return errors.New("subscription id is required")
	}
	_, err := c.call(ctx, http.MethodPatch, "/subscriptions/"+id, fields)
	return err
}

// call issues one API request. Idempotent GETs retry on transient failures
// with doubling backoff; mutating verbs never retry, a duplicated cancel or
// patch could trigger duplicate billing side effects.
func (c *PaddleClient) call(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PADDLE_API_KEY is not configured")
	}

	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = paddleRetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(paddleRetryBaseDelay << (attempt - 1)):
			}
		}

		body, retryable, err := c.doOnce(ctx, method, endpoint, raw)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *PaddleClient) doOnce(ctx context.Context, method, endpoint string, payload []byte) (body []byte, retryable bool, err error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, &UpstreamError{StatusCode: 0, Endpoint: endpoint, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ = io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500, &UpstreamError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       string(body),
		}
	}
	return body, false, nil
}
