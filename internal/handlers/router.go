package handlers

import (
	"context"
	"time"

	"dinepay/internal/middleware"
	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Deps are the services behind the HTTP API.
type Deps struct {
	Auth      *services.AuthService
	Checkout  *services.CheckoutService
	Orders    *services.OrderService
	Transfers services.TransferSink
	Probes    map[string]Probe
	// RequestLog enables the access log.
	RequestLog bool
}

// NewApp builds the Fiber app with every route registered.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "dinepay",
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if deps.RequestLog {
		app.Use(logger.New())
	}

	app.Get("/health", healthHandler(deps.Probes))

	apiV1 := app.Group("/api/v1")
	NewWebhookHandler(deps.Auth, deps.Transfers).RegisterRoutes(apiV1)

	protectedRoutes := apiV1.Group("", middleware.AuthRequired(deps.Auth))
	NewCheckoutHandler(deps.Checkout).RegisterRoutes(protectedRoutes)
	NewOrderHandler(deps.Orders).RegisterRoutes(protectedRoutes)

	return app
}

func healthHandler(probes map[string]Probe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.StatusOK
		components := fiber.Map{}
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				components[name] = err.Error()
				status = fiber.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}

		overall := "healthy"
		if status != fiber.StatusOK {
			overall = "degraded"
		}
		return c.Status(status).JSON(fiber.Map{
			"status":     overall,
			"time":       time.Now().Format(time.RFC3339),
			"components": components,
		})
	}
}
