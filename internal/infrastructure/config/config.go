package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration, loaded from the environment.
type Config struct {
	Port string

	// Webhook ingestion
	WebhookSecret    string
	MaxSignatureSkew time.Duration

	// Retry pipeline
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MaxAttempts     int
	DispatchWorkers int
	PollInterval    time.Duration

	// Order lifecycle
	AcceptanceWindow time.Duration
	SweepInterval    time.Duration

	// Partner platform
	PartnerAPIURL       string
	PartnerAuthURL      string
	PartnerClientID     string
	PartnerClientSecret string
	PartnerScopes       []string

	// Storage and fan-out
	MongoURI      string
	MongoDatabase string
	RedisURL      string
}

// Load reads configuration from the environment, applying defaults for
// everything except the credentials and webhook secret.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             envOr("PORT", "8080"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		MaxSignatureSkew: envDuration("MAX_SIGNATURE_SKEW", 5*time.Minute),

		RetryBaseDelay:  envDuration("RETRY_BASE_DELAY", 30*time.Second),
		RetryMaxDelay:   envDuration("RETRY_MAX_DELAY", time.Hour),
		MaxAttempts:     envInt("MAX_ATTEMPTS", 8),
		DispatchWorkers: envInt("DISPATCH_WORKERS", 4),
		PollInterval:    envDuration("POLL_INTERVAL", 5*time.Second),

		AcceptanceWindow: envDuration("ACCEPTANCE_WINDOW", 11*time.Minute + 30*time.Second),
		SweepInterval:    envDuration("SWEEP_INTERVAL", 30*time.Second),

		PartnerAPIURL:       envOr("PARTNER_API_URL", "https://api.uber.com"),
		PartnerAuthURL:      envOr("PARTNER_AUTH_URL", "https://auth.uber.com"),
		PartnerClientID:     os.Getenv("PARTNER_CLIENT_ID"),
		PartnerClientSecret: os.Getenv("PARTNER_CLIENT_SECRET"),
		PartnerScopes:       []string{"eats.store", "eats.order", "eats.report"},

		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: envOr("MONGODB_DATABASE", "eats_partner"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET environment variable is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
