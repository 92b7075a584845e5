package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PAYMENT_PROVIDER", "")
	setEnv(t, "COMMISSION_RATE_BPS", "")
	setEnv(t, "MIN_WITHDRAWAL_KOBO", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "paystack", cfg.Provider)
	assert.Equal(t, int64(DefaultCommissionBps), cfg.CommissionRateBps)
	assert.Equal(t, int64(DefaultMinWithdrawal), cfg.MinWithdrawalKobo)
	assert.Equal(t, DefaultAutoReleaseDays, cfg.AutoReleaseDays)
}

func TestLoad_WithOverrides(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "PAYMENT_PROVIDER", "flutterwave")
	setEnv(t, "COMMISSION_RATE_BPS", "500")
	setEnv(t, "AUTO_RELEASE_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "flutterwave", cfg.Provider)
	assert.Equal(t, int64(500), cfg.CommissionRateBps)
	assert.Equal(t, 7, cfg.AutoReleaseDays)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid development config without keys",
			config: Config{
				Env:               "development",
				Provider:          "paystack",
				CommissionRateBps: 1000,
				AutoReleaseDays:   14,
			},
			wantErr: "",
		},
		{
			name: "production paystack requires secret key",
			config: Config{
				Env:               "production",
				Provider:          "paystack",
				CommissionRateBps: 1000,
				AutoReleaseDays:   14,
			},
			wantErr: "PAYSTACK_SECRET_KEY is required",
		},
		{
			name: "production stripe requires secret key",
			config: Config{
				Env:               "production",
				Provider:          "stripe",
				CommissionRateBps: 1000,
				AutoReleaseDays:   14,
			},
			wantErr: "STRIPE_SECRET_KEY is required",
		},
		{
			name: "unknown provider",
			config: Config{
				Env:               "development",
				Provider:          "cash-app",
				CommissionRateBps: 1000,
				AutoReleaseDays:   14,
			},
			wantErr: "unknown PAYMENT_PROVIDER",
		},
		{
			name: "commission rate over 100%",
			config: Config{
				Env:               "development",
				Provider:          "paystack",
				CommissionRateBps: 10001,
				AutoReleaseDays:   14,
			},
			wantErr: "COMMISSION_RATE_BPS",
		},
		{
			name: "negative minimum withdrawal",
			config: Config{
				Env:               "development",
				Provider:          "paystack",
				CommissionRateBps: 1000,
				MinWithdrawalKobo: -1,
				AutoReleaseDays:   14,
			},
			wantErr: "MIN_WITHDRAWAL_KOBO",
		},
		{
			name: "zero auto release window",
			config: Config{
				Env:               "development",
				Provider:          "paystack",
				CommissionRateBps: 1000,
				AutoReleaseDays:   0,
			},
			wantErr: "AUTO_RELEASE_DAYS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
