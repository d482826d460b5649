package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/coursekit/payhook-svc/internal/classifier"
	"github.com/coursekit/payhook-svc/internal/config"
	"github.com/coursekit/payhook-svc/internal/database"
	"github.com/coursekit/payhook-svc/internal/dedup"
	"github.com/coursekit/payhook-svc/internal/dispatch"
	"github.com/coursekit/payhook-svc/internal/logger"
	"github.com/coursekit/payhook-svc/internal/metrics"
	"github.com/coursekit/payhook-svc/internal/rabbitmq"
	"github.com/coursekit/payhook-svc/internal/routes"
	"github.com/coursekit/payhook-svc/internal/service"
	"github.com/coursekit/payhook-svc/internal/storage"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	metrics.Register()

	// Schema first, then the connection pool
	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Catalog: compiled-in defaults, overridable per deployment
	catalog := classifier.Default()
	if raw := os.Getenv("CATALOG_JSON"); raw != "" {
		catalog, err = classifier.Load(raw)
		if err != nil {
			log.Fatal("Failed to parse CATALOG_JSON", zap.Error(err))
		}
		log.Info("Loaded catalog override", zap.Int("tiers", len(catalog.Tiers)))
	}

	dedupStore := dedup.NewMemoryStore(cfg.Dedup.TTL)
	defer dedupStore.Close()

	httpClient := &http.Client{}
	destinations := []dispatch.Destination{
		dispatch.NewCRMDestination(cfg.Dispatch.CRMWebhookURL, httpClient),
		dispatch.NewConversionsDestination(cfg.Dispatch.ConversionsURL, cfg.Dispatch.ConversionsToken, cfg.Dispatch.PixelID, httpClient),
		dispatch.NewStreamDestination(rmq, cfg.RabbitMQ.RoutingKey),
	}

	dispatcher := dispatch.NewDispatcher(
		catalog,
		destinations,
		storage.NewAuditStore(db, log),
		dispatch.Options{
			MaxAttempts:        cfg.Dispatch.MaxAttempts,
			BaseDelay:          cfg.Dispatch.BaseDelay,
			DestinationTimeout: cfg.Dispatch.DestinationTimeout,
		},
		log,
	)

	svc := service.NewService(cfg, db, log, rmq, dedupStore, dispatcher)

	app := fiber.New(fiber.Config{
		AppName:      "Payment Hook Service",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Provider-Signature,X-Provider-Event-Id",
	}))

	routes.SetupRoutes(app, svc)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	// Let in-flight fan-outs settle before dropping connections
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeout)
	defer cancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		log.Warn("Dispatcher drain timed out, abandoning in-flight deliveries", zap.Error(err))
	}

	log.Info("Server stopped")
}
