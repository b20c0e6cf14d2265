package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultOrdersAPIURL is the order-tracking endpoint sales are forwarded to.
const DefaultOrdersAPIURL = "https://api.utmify.com.br/api-credentials/orders"

// Config holds the core runtime configuration for the service.
// Values are sourced from environment variables, with sensible
// defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string
	ListenAddr  string

	OrdersAPIURL string
	OrdersAPIKey string

	// ForwardTimeout bounds a single call to the order API.
	ForwardTimeout time.Duration

	TelegramToken string

	// TargetChatID is the only chat whose messages are parsed as sales.
	// /start handshakes are accepted from any chat.
	TargetChatID int64

	// CorrelationWindow is the maximum distance between a click and a
	// sale for nearest-timestamp correlation.
	CorrelationWindow time.Duration

	// AttributionRetention is how long attribution records are kept.
	AttributionRetention time.Duration
	RetentionInterval    time.Duration

	RedeliveryInterval    time.Duration
	RedeliveryMaxAttempts int

	// StrictTransactionID only accepts UUID-shaped transaction ids.
	StrictTransactionID bool

	Platform      string
	PaymentMethod string
	ProductName   string

	// MetricsToken protects /metrics and the admin routes. Empty leaves
	// /metrics open and disables the admin routes.
	MetricsToken string

	AllowedOrigin string

	MessageConcurrency int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:           os.Getenv("APP_DATABASE_URL"),
		ListenAddr:            getenv("APP_LISTEN_ADDR", ":3000"),
		OrdersAPIURL:          getenv("APP_ORDERS_API_URL", DefaultOrdersAPIURL),
		OrdersAPIKey:          getenv("APP_ORDERS_API_KEY", os.Getenv("API_KEY")),
		ForwardTimeout:        getduration("APP_FORWARD_TIMEOUT", 10*time.Second),
		TelegramToken:         os.Getenv("APP_TELEGRAM_TOKEN"),
		CorrelationWindow:     getduration("APP_CORRELATION_WINDOW", 120*time.Second),
		AttributionRetention:  getduration("APP_ATTRIBUTION_RETENTION", 24*time.Hour),
		RetentionInterval:     getduration("APP_RETENTION_INTERVAL", time.Hour),
		RedeliveryInterval:    getduration("APP_REDELIVERY_INTERVAL", 5*time.Minute),
		RedeliveryMaxAttempts: getint("APP_REDELIVERY_MAX_ATTEMPTS", 8),
		StrictTransactionID:   getbool("APP_STRICT_TRANSACTION_ID", false),
		Platform:              getenv("APP_PLATFORM", "PushinPay"),
		PaymentMethod:         getenv("APP_PAYMENT_METHOD", "pix"),
		ProductName:           getenv("APP_PRODUCT_NAME", "Acesso VIP"),
		MetricsToken:          os.Getenv("APP_METRICS_TOKEN"),
		AllowedOrigin:         getenv("APP_ALLOWED_ORIGIN", "*"),
		MessageConcurrency:    getint("APP_MESSAGE_CONCURRENCY", 16),
		LogLevel:              getenv("APP_LOG_LEVEL", "info"),
		LogFormat:             getenv("APP_LOG_FORMAT", "json"),
	}

	if v := strings.TrimSpace(os.Getenv("APP_TARGET_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TargetChatID = id
		}
	}

	return cfg
}

// ValidateServe reports settings that must be present to run the relay.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.OrdersAPIKey == "" {
		errs = append(errs, errors.New("APP_ORDERS_API_KEY (or API_KEY) is required"))
	}
	if c.TelegramToken != "" && c.TargetChatID == 0 {
		errs = append(errs, errors.New("APP_TARGET_CHAT_ID is required when APP_TELEGRAM_TOKEN is set"))
	}
	if c.CorrelationWindow <= 0 {
		errs = append(errs, errors.New("APP_CORRELATION_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
