package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	postgres "github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/storage/postgres"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Gateway     GatewayConfig
	Kafka       KafkaConfig
	Database    postgres.DatabaseConfig
}

type HTTPConfig struct {
	Addr string
}

// GatewayConfig configures the external payment provider integration. The
// auth mode and signature scheme are fixed at startup; there is no
// per-request fallback between them.
type GatewayConfig struct {
	BaseURL      string
	AuthURL      string
	MerchantID   string
	ClientID     string
	ClientSecret string

	// AuthMode selects how outbound requests authenticate: "bearer" exchanges
	// client credentials for a cached token, "signature" signs each request
	// body with the merchant secret.
	AuthMode string

	// SignatureScheme selects how inbound webhooks are verified: "hmac"
	// (HMAC-SHA256 over the raw body) or "salted" (salted hash over the
	// base64 envelope).
	SignatureScheme string
	SignatureSecret string
	SignatureSalts  []string

	CallbackURL string
	SuccessURL  string
	FailureURL  string

	RequestTimeout time.Duration
	PollTimeout    time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	PaymentsTopic string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "payment-gateway-bridge"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":3000"),
		},
		Gateway: GatewayConfig{
			BaseURL:         getEnv("GATEWAY_BASE_URL", "https://sandbox.gateway.test"),
			AuthURL:         getEnv("GATEWAY_AUTH_URL", "https://sandbox.gateway.test/v1/auth/token"),
			MerchantID:      getEnv("GATEWAY_MERCHANT_ID", ""),
			ClientID:        getEnv("GATEWAY_CLIENT_ID", ""),
			ClientSecret:    getEnv("GATEWAY_CLIENT_SECRET", ""),
			AuthMode:        getEnv("GATEWAY_AUTH_MODE", "bearer"),
			SignatureScheme: getEnv("GATEWAY_SIGNATURE_SCHEME", "hmac"),
			SignatureSecret: getEnv("GATEWAY_SIGNATURE_SECRET", ""),
			SignatureSalts:  splitAndTrim(getEnv("GATEWAY_SIGNATURE_SALTS", "")),
			CallbackURL:     getEnv("GATEWAY_CALLBACK_URL", "http://localhost:3000/api/webhook"),
			SuccessURL:      getEnv("GATEWAY_SUCCESS_URL", "http://localhost:3000/paid"),
			FailureURL:      getEnv("GATEWAY_FAILURE_URL", "http://localhost:3000/failed"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", "payments.v1"),
		},
	}

	switch cfg.Gateway.AuthMode {
	case "bearer", "signature":
	default:
		return Config{}, fmt.Errorf("GATEWAY_AUTH_MODE must be 'bearer' or 'signature', got %q", cfg.Gateway.AuthMode)
	}
	switch cfg.Gateway.SignatureScheme {
	case "hmac", "salted":
	default:
		return Config{}, fmt.Errorf("GATEWAY_SIGNATURE_SCHEME must be 'hmac' or 'salted', got %q", cfg.Gateway.SignatureScheme)
	}

	requestTimeout, err := parseSeconds("GATEWAY_REQUEST_TIMEOUT_SECONDS", "20")
	if err != nil {
		return Config{}, err
	}
	cfg.Gateway.RequestTimeout = requestTimeout

	pollTimeout, err := parseSeconds("GATEWAY_POLL_TIMEOUT_SECONDS", "5")
	if err != nil {
		return Config{}, err
	}
	cfg.Gateway.PollTimeout = pollTimeout

	portStr := getEnv("ORDER_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse ORDER_DB_PORT: %w", err)
	}

	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("ORDER_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("ORDER_DB_NAME", "paymentbridge"),
		User:     getEnv("ORDER_DB_USER", "paymentbridgeadmin"),
		Password: getEnv("ORDER_DB_PASSWORD", ""),
	}

	return cfg, nil
}

func parseSeconds(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
