package dashboardapi

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr    = ":8080"
	defaultAllowedOrigin = "http://localhost:3000"
	defaultMode          = "test"
	defaultCurrency      = "USD"
	defaultSessionUser   = "demo"

	missingKashierConfigMessage = "KASHIER_MERCHANT_ID and KASHIER_PAYMENT_API_KEY must be set"
	invalidAmountMessage        = "Invalid amount"
)

// Config aggregates runtime settings for the dashboard API.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	// Kashier secrets. MerchantID and PaymentAPIKey may legitimately be
	// empty at startup; the create-payment endpoint reports the missing
	// configuration per request.
	MerchantID    string
	PaymentAPIKey string
	Mode          string
	Currency      string
	ReturnURL     string
	WebhookURL    string

	// SessionSigningKey enables bearer-token sessions; empty means every
	// request runs as the demo user.
	SessionSigningKey string
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.Mode = defaultIfEmpty(cfg.Mode, defaultMode)
	cfg.Currency = defaultIfEmpty(cfg.Currency, defaultCurrency)
	if cfg.Mode != "test" && cfg.Mode != "live" {
		return fmt.Errorf("mode must be test or live, got %q", cfg.Mode)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
