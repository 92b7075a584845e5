// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	Provider             string // "paystack", "flutterwave" or "stripe"
	PaystackSecretKey    string
	FlutterwaveSecretKey string
	StripeSecretKey      string
	CallbackURL          string // return URL the gateway redirects to after checkout

	// Platform money policy (all amounts in kobo, the minor currency unit)
	CommissionRateBps  int64 // platform commission in basis points of the order amount
	MinWithdrawalKobo  int64
	AutoReleaseDays    int   // days before a held escrow auto-releases to the payee
	SweepIntervalSecs  int   // auto-release sweep cadence

	// Security
	AdminSecret string // guards admin endpoints (withdrawal decisions, dispute resolution)
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultProvider        = "paystack"
	DefaultCommissionBps   = 1000 // 10%
	DefaultMinWithdrawal   = 100000 // ₦1,000 in kobo
	DefaultAutoReleaseDays = 14
	DefaultSweepInterval   = 60
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Provider:             getEnv("PAYMENT_PROVIDER", DefaultProvider),
		PaystackSecretKey:    os.Getenv("PAYSTACK_SECRET_KEY"),
		FlutterwaveSecretKey: os.Getenv("FLUTTERWAVE_SECRET_KEY"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		CallbackURL:          getEnv("PAYMENT_CALLBACK_URL", "http://localhost:8080/v1/payments/verify"),
		CommissionRateBps:    getEnvInt64("COMMISSION_RATE_BPS", DefaultCommissionBps),
		MinWithdrawalKobo:    getEnvInt64("MIN_WITHDRAWAL_KOBO", DefaultMinWithdrawal),
		AutoReleaseDays:      int(getEnvInt64("AUTO_RELEASE_DAYS", DefaultAutoReleaseDays)),
		SweepIntervalSecs:    int(getEnvInt64("SWEEP_INTERVAL_SECS", DefaultSweepInterval)),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.Provider {
	case "paystack":
		if c.PaystackSecretKey == "" && c.IsProduction() {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required when PAYMENT_PROVIDER=paystack")
		}
	case "flutterwave":
		if c.FlutterwaveSecretKey == "" && c.IsProduction() {
			return fmt.Errorf("FLUTTERWAVE_SECRET_KEY is required when PAYMENT_PROVIDER=flutterwave")
		}
	case "stripe":
		if c.StripeSecretKey == "" && c.IsProduction() {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q (want paystack, flutterwave or stripe)", c.Provider)
	}

	if c.CommissionRateBps < 0 || c.CommissionRateBps > 10000 {
		return fmt.Errorf("COMMISSION_RATE_BPS must be between 0 and 10000, got %d", c.CommissionRateBps)
	}
	if c.MinWithdrawalKobo < 0 {
		return fmt.Errorf("MIN_WITHDRAWAL_KOBO must be non-negative, got %d", c.MinWithdrawalKobo)
	}
	if c.AutoReleaseDays <= 0 {
		return fmt.Errorf("AUTO_RELEASE_DAYS must be positive, got %d", c.AutoReleaseDays)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
