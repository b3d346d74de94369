package controllers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/cache"
)

// PaddleAPI is the part of the billing client the routes use.
type PaddleAPI interface {
	ListPrices(ctx context.Context) ([]billing.Price, error)
	ListProducts(ctx context.Context, productIDs []string) ([]billing.Product, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// PriceCache decouples the prices route from the Redis client; tests pass a
// stub or nil to disable caching.
type PriceCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
}

type redisPriceCache struct{}

func (redisPriceCache) Get(key string) (string, error) { return cache.Get(key) }
func (redisPriceCache) Set(key string, value interface{}, expiration time.Duration) error {
	return cache.Set(key, value, expiration)
}

// NewRedisPriceCache returns the production cache backed by the shared Redis client.
func NewRedisPriceCache() PriceCache {
	return redisPriceCache{}
}

const (
	priceCacheKey = "paddle:prices"
	priceCacheTTL = 5 * time.Minute

	paddleRequestTimeout = 10 * time.Second
)

// PaddleController serves the public price catalog.
type PaddleController struct {
	API   PaddleAPI
	Cache PriceCache
}

func NewPaddleController(api PaddleAPI, priceCache PriceCache) *PaddleController {
	return &PaddleController{API: api, Cache: priceCache}
}

// HandleListPrices merges Paddle prices with their product display data.
// Upstream failure degrades to a hardcoded fallback list so the pricing page
// keeps rendering.
func (pc *PaddleController) HandleListPrices(c *fiber.Ctx) error {
	if pc.Cache != nil {
		if cached, err := pc.Cache.Get(priceCacheKey); err == nil && cached != "" {
			var prices []billing.Price
			if err := json.Unmarshal([]byte(cached), &prices); err == nil {
				return jsonSuccess(c, fiber.Map{"prices": prices})
			}
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), paddleRequestTimeout)
	defer cancel()

	prices, err := pc.fetchPrices(ctx)
	if err != nil {
		log.Printf("prices: upstream fetch failed, serving fallback: %v", err)
		return jsonSuccess(c, fiber.Map{
			"prices": fallbackPrices,
			"note":   "Using fallback data because the API call failed",
		})
	}

	if pc.Cache != nil {
		if raw, err := json.Marshal(prices); err == nil {
			if err := pc.Cache.Set(priceCacheKey, string(raw), priceCacheTTL); err != nil {
				log.Printf("prices: cache write failed: %v", err)
			}
		}
	}

	return jsonSuccess(c, fiber.Map{"prices": prices})
}

func (pc *PaddleController) fetchPrices(ctx context.Context) ([]billing.Price, error) {
	prices, err := pc.API.ListPrices(ctx)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(prices))
	for _, p := range prices {
		productIDs = append(productIDs, p.ProductID)
	}

	products, err := pc.API.ListProducts(ctx, productIDs)
	if err != nil {
		// Prices without display data are still usable.
		log.Printf("prices: product lookup failed: %v", err)
		products = nil
	}

	productMap := make(map[string]billing.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	for i := range prices {
		product, ok := productMap[prices[i].ProductID]
		if !ok {
			prices[i].Name = "Plan (" + prices[i].ID + ")"
			prices[i].Description = "Subscription plan"
			continue
		}
		prices[i].Name = product.Name
		prices[i].Description = product.Description
		prices[i].ImageURL = product.ImageURL
		if product.CustomData.Features != "" {
			var features []string
			if err := json.Unmarshal([]byte(product.CustomData.Features), &features); err == nil {
				prices[i].Features = features
			}
		}
	}
	return prices, nil
}

// fallbackPrices is served when the provider is unreachable. Amounts are in
// the provider's minor units.
var fallbackPrices = []billing.Price{
	{
		ID:           "pri_01h9ztd4j58jrvwhbpdv99qpgq",
		ProductID:    "pro_01h9zt8gkce7c0wh503qjjm87g",
		Name:         "Basic Plan",
		Description:  "Basic features for individual users",
		UnitPrice:    billing.Money{Amount: "4900", CurrencyCode: "USD"},
		BillingCycle: billing.Cycle{Interval: "month", Frequency: 1},
	},
	{
		ID:           "pri_01h9ztdy6y4tm0vkrdataf3rbr",
		ProductID:    "pro_01h9zt9j6wq7f9k68patsgxttm",
		Name:         "Professional Plan",
		Description:  "Enhanced features for small teams",
		UnitPrice:    billing.Money{Amount: "9900", CurrencyCode: "USD"},
		BillingCycle: billing.Cycle{Interval: "month", Frequency: 1},
	},
	{
		ID:           "pri_01h9zte7sz93y8r55v2x157swg",
		ProductID:    "pro_01h9ztadhd2g4bvmfcj2t63dzk",
		Name:         "Enterprise Plan",
		Description:  "Complete suite for large organizations",
		UnitPrice:    billing.Money{Amount: "19900", CurrencyCode: "USD"},
		BillingCycle: billing.Cycle{Interval: "month", Frequency: 1},
	},
}
