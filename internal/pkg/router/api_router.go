package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/subforge/subforge/app/controllers"
	"github.com/subforge/subforge/internal/pkg/billing"
	"github.com/subforge/subforge/internal/pkg/cache"
	"github.com/subforge/subforge/internal/pkg/database"
	"github.com/subforge/subforge/internal/pkg/env"
	"github.com/subforge/subforge/internal/pkg/identity"
	"github.com/subforge/subforge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	identityClient := identity.NewSupabaseClientFromEnv()
	paddleClient := billing.NewPaddleClientFromEnv()
	syncService := billing.NewServiceFromDB(database.GetDB())

	authController := controllers.NewAuthController(identityClient)
	paddleController := controllers.NewPaddleController(paddleClient, controllers.NewRedisPriceCache())
	webhookController := controllers.NewWebhookController(syncService)
	subscriptionController := controllers.NewSubscriptionController(syncService, paddleClient)

	requireAuth := middleware.RequireSupabaseAuth(identityClient)

	// Webhook deliveries bypass the limiter so provider retry bursts are
	// never throttled into redeliveries.
	app.Post("/api/paddle/webhook", webhookController.HandlePaddleWebhook)

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	auth := api.Group("/auth")
	auth.Post("/login", authController.HandleLogin)
	auth.Post("/register", authController.HandleRegister)
	auth.Post("/logout", authController.HandleLogout)
	auth.Get("/user", requireAuth, authController.HandleGetUser)

	api.Get("/paddle/prices", paddleController.HandleListPrices)

	subscription := api.Group("/subscription", requireAuth)
	subscription.Post("/subscribe", subscriptionController.HandleSubscribe)
	subscription.Post("/cancel", subscriptionController.HandleCancel)
	subscription.Get("/status", subscriptionController.HandleStatus)
	subscription.Get("/history", subscriptionController.HandleHistory)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold across
// instances. Database 1 keeps limiter keys out of the cache database.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
