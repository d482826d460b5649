package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Dispatch DispatchConfig
	Dedup    DedupConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL        string
	Host       string
	Port       string
	User       string
	Password   string
	VHost      string
	Exchange   string
	RoutingKey string
}

// WebhookConfig holds the inbound notification settings.
// Secret is the shared HMAC secret issued by the payment provider.
type WebhookConfig struct {
	Secret string
}

// DispatchConfig holds downstream destination settings and retry tuning.
type DispatchConfig struct {
	CRMWebhookURL      string
	ConversionsURL     string
	ConversionsToken   string
	PixelID            string
	MaxAttempts        int
	BaseDelay          time.Duration
	DestinationTimeout time.Duration
	DrainTimeout       time.Duration
}

type DedupConfig struct {
	TTL time.Duration
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        os.Getenv("RABBITMQ_URL"),
			Host:       get("RABBITMQ_HOST"),
			Port:       get("RABBITMQ_PORT"),
			User:       get("RABBITMQ_USER"),
			Password:   get("RABBITMQ_PASSWORD"),
			VHost:      get("RABBITMQ_VHOST"),
			Exchange:   getDefault("RABBITMQ_EXCHANGE", "purchase.events"),
			RoutingKey: getDefault("RABBITMQ_ROUTING_KEY", "purchase.captured"),
		},
		Webhook: WebhookConfig{
			Secret: get("WEBHOOK_SECRET"),
		},
		Dispatch: DispatchConfig{
			CRMWebhookURL:      get("CRM_WEBHOOK_URL"),
			ConversionsURL:     get("CONVERSIONS_API_URL"),
			ConversionsToken:   get("CONVERSIONS_API_TOKEN"),
			PixelID:            get("CONVERSIONS_PIXEL_ID"),
			MaxAttempts:        getInt("DISPATCH_MAX_ATTEMPTS", 3),
			BaseDelay:          getDuration("DISPATCH_BASE_DELAY", 500*time.Millisecond),
			DestinationTimeout: getDuration("DISPATCH_DESTINATION_TIMEOUT", 2*time.Second),
			DrainTimeout:       getDuration("DISPATCH_DRAIN_TIMEOUT", 30*time.Second),
		},
		Dedup: DedupConfig{
			TTL: getDuration("DEDUP_TTL", 24*time.Hour),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns a postgres:// URL for golang-migrate
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
