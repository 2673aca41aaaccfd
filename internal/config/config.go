/**
 * @description
 * Configuration management for the entitlement service. Uses viper to load
 * settings from environment variables and validates the values the service
 * cannot run without.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWKSURL     string `mapstructure:"JWKS_URL"`

	// InternalAPIKey authenticates the external scheduler trigger and other
	// server-to-server calls.
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	PaymentProviderURL    string `mapstructure:"PAYMENT_PROVIDER_URL"`
	PaymentProviderAPIKey string `mapstructure:"PAYMENT_PROVIDER_API_KEY"`
	PaymentTimeoutSeconds int    `mapstructure:"PAYMENT_TIMEOUT_SECONDS"`

	AMQPURL  string `mapstructure:"AMQP_URL"`
	RedisURL string `mapstructure:"REDIS_URL"`

	BillingJobSchedule  string `mapstructure:"BILLING_JOB_SCHEDULE"`
	ExpirySweepSchedule string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`

	BillingClaimLeaseSeconds  int `mapstructure:"BILLING_CLAIM_LEASE_SECONDS"`
	PurchaseRateLimit         int `mapstructure:"PURCHASE_RATE_LIMIT"`
	PurchaseRateWindowSeconds int `mapstructure:"PURCHASE_RATE_WINDOW_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYMENT_TIMEOUT_SECONDS", 30)
	viper.SetDefault("BILLING_JOB_SCHEDULE", "@hourly")
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "30 * * * *")
	viper.SetDefault("BILLING_CLAIM_LEASE_SECONDS", 300)
	viper.SetDefault("PURCHASE_RATE_LIMIT", 10)
	viper.SetDefault("PURCHASE_RATE_WINDOW_SECONDS", 60)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT",
		"DATABASE_URL",
		"JWKS_URL",
		"INTERNAL_API_KEY",
		"PAYMENT_PROVIDER_URL",
		"PAYMENT_PROVIDER_API_KEY",
		"PAYMENT_TIMEOUT_SECONDS",
		"AMQP_URL",
		"REDIS_URL",
		"BILLING_JOB_SCHEDULE",
		"EXPIRY_SWEEP_SCHEDULE",
		"BILLING_CLAIM_LEASE_SECONDS",
		"PURCHASE_RATE_LIMIT",
		"PURCHASE_RATE_WINDOW_SECONDS",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}

	if config.DatabaseURL == "" {
		return config, fmt.Errorf("DATABASE_URL is required")
	}
	if config.JWKSURL == "" {
		return config, fmt.Errorf("JWKS_URL is required")
	}
	if config.InternalAPIKey == "" {
		return config, fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if config.PaymentProviderURL == "" {
		return config, fmt.Errorf("PAYMENT_PROVIDER_URL is required")
	}

	return config, nil
}
