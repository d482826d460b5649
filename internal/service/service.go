package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coursekit/payhook-svc/internal/config"
	"github.com/coursekit/payhook-svc/internal/dedup"
	"github.com/coursekit/payhook-svc/internal/handlers"
	"github.com/coursekit/payhook-svc/internal/rabbitmq"
)

// Service holds all application dependencies and the handlers built from
// them. This eliminates global state and enables proper dependency injection.
type Service struct {
	DB     *gorm.DB
	Logger *zap.Logger
	RMQ    *rabbitmq.Connection

	Webhook   *handlers.WebhookHandler
	Purchases *handlers.PurchasesHandler
	Health    *handlers.HealthHandler
}

// NewService wires the handlers from the shared dependencies.
func NewService(
	cfg *config.Config,
	db *gorm.DB,
	logger *zap.Logger,
	rmq *rabbitmq.Connection,
	dedupStore dedup.Store,
	dispatcher handlers.Enqueuer,
) *Service {
	return &Service{
		DB:        db,
		Logger:    logger,
		RMQ:       rmq,
		Webhook:   handlers.NewWebhookHandler(cfg.Webhook.Secret, dedupStore, dispatcher, logger),
		Purchases: handlers.NewPurchasesHandler(db, logger),
		Health:    handlers.NewHealthHandler(db, rmq),
	}
}
