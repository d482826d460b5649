package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/coursekit/payhook-svc/internal/config"
)

// Connection manages the AMQP connection and channel used to publish
// purchase events, with automatic reconnection on failure.
type Connection struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	config    *config.RabbitMQConfig
	logger    *zap.Logger
	stopChan  chan struct{}
	mu        sync.RWMutex
	stopOnce  sync.Once
	reconnMu  sync.Mutex
	reconning bool
}

// NewConnection creates a Connection instance; call Connect to establish it.
func NewConnection(cfg *config.RabbitMQConfig, logger *zap.Logger) *Connection {
	return &Connection{
		config:   cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, retrying with exponential backoff, and
// starts the monitor that reconnects when the broker drops us.
func (c *Connection) Connect() error {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	maxInitialAttempts := 10

	for attempt := 1; attempt <= maxInitialAttempts; attempt++ {
		if err := c.connect(); err != nil {
			if attempt == maxInitialAttempts {
				return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxInitialAttempts, err)
			}
			c.logger.Warn("Initial connection to RabbitMQ failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
		break
	}

	go c.monitorConnection()

	return nil
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	amqpConfig := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Vhost:     c.config.VHost,
		Properties: amqp.Table{
			"connection_name": "payhook-svc",
		},
	}

	conn, err := amqp.DialConfig(c.config.ConnectionURL(), amqpConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// The purchase-events exchange is declared here rather than assumed, so
	// a fresh broker works out of the box.
	if err := channel.ExchangeDeclare(
		c.config.Exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", c.config.Exchange, err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// monitorConnection watches for broker-side closes and reconnects.
func (c *Connection) monitorConnection() {
	for {
		c.mu.RLock()
		if c.conn == nil || c.channel == nil {
			c.mu.RUnlock()
			return
		}
		connClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.RUnlock()

		select {
		case <-c.stopChan:
			return
		case err := <-connClose:
			if err == nil {
				// Clean shutdown
				return
			}
			c.logger.Error("RabbitMQ connection closed, reconnecting",
				zap.Error(err),
				zap.String("reason", err.Reason),
			)
			c.reconnect()
		}
	}
}

func (c *Connection) reconnect() {
	c.reconnMu.Lock()
	if c.reconning {
		c.reconnMu.Unlock()
		return
	}
	c.reconning = true
	c.reconnMu.Unlock()

	defer func() {
		c.reconnMu.Lock()
		c.reconning = false
		c.reconnMu.Unlock()
	}()

	backoff := time.Second
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("Reconnection to RabbitMQ failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		c.logger.Info("Reconnected to RabbitMQ")
		return
	}
}

// Publish sends body to the configured exchange with the given routing key.
func (c *Connection) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.RLock()
	channel := c.channel
	exchange := c.config.Exchange
	c.mu.RUnlock()

	if channel == nil || channel.IsClosed() {
		return fmt.Errorf("channel is not open")
	}

	return channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// IsHealthy reports whether the connection and channel are open.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// Close shuts down the connection and stops the monitor.
func (c *Connection) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Error closing RabbitMQ channel", zap.Error(err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Error closing RabbitMQ connection", zap.Error(err))
		}
	}
}
