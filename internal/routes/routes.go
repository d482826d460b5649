package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coursekit/payhook-svc/internal/service"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, svc *service.Service) {
	// Health check and metrics endpoints
	app.Get("/health", svc.Health.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Inbound provider notifications
	app.Post("/webhook/payment", svc.Webhook.HandlePaymentWebhook)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/purchases", svc.Purchases.GetPurchases)
	}
}
