package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/subforge/subforge/internal/pkg/cache"
	"github.com/subforge/subforge/internal/pkg/database"
	"github.com/subforge/subforge/internal/pkg/env"
	"github.com/subforge/subforge/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName:   "subforge",
		BodyLimit: 1 * 1024 * 1024, // webhooks and JSON bodies only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// local frontends run on another port during development
	if env.IsDev() {
		app.Use(cors.New(cors.Config{
			AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		}))
	}

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
