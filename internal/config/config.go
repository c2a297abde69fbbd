// Package config contains configuration parsing for the wallet service.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/adekunle-oj/wallet-core/internal/model"
)

// Config holds the configuration of the wallet service. Provider signing
// secrets are resolved once at startup; a missing secret is a boot error
// unless DevMode is set, in which case signature checks accept everything.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`

	PaystackSecret    string `env:"PAYSTACK_SECRET"`
	FlutterwaveSecret string `env:"FLUTTERWAVE_SECRET"`
	VTPassSecret      string `env:"VTPASS_SECRET"`

	AdminToken string `env:"ADMIN_TOKEN"`
	NotifyURL  string `env:"NOTIFY_URL"`

	DevMode bool `env:"DEV_MODE"`
}

// Parse reads configuration from command-line flags and environment
// variables. Environment values take precedence over flags.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for the duplicate cache (optional)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validateSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecrets enforces the deploy-time signature policy: every provider
// must have a secret configured, or the process runs in dev mode and accepts
// all payloads. The decision is never made per request.
func (c *Config) validateSecrets() error {
	if c.DevMode {
		return nil
	}

	var missing []string
	if c.PaystackSecret == "" {
		missing = append(missing, string(model.ProviderPaystack))
	}
	if c.FlutterwaveSecret == "" {
		missing = append(missing, string(model.ProviderFlutterwave))
	}
	if c.VTPassSecret == "" {
		missing = append(missing, string(model.ProviderVTPass))
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing webhook secret for providers %v (set DEV_MODE=true to skip verification)", missing)
	}

	return nil
}

// ProviderSecret returns the signing secret for the given provider.
func (c *Config) ProviderSecret(p model.Provider) (string, error) {
	switch p {
	case model.ProviderPaystack:
		return c.PaystackSecret, nil
	case model.ProviderFlutterwave:
		return c.FlutterwaveSecret, nil
	case model.ProviderVTPass:
		return c.VTPassSecret, nil
	}
	return "", errors.New("unknown provider: " + string(p))
}
