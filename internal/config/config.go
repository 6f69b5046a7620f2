// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL of the shared cache. Empty uses an in-process cache (single instance only).
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisKeyPrefix namespaces every cache key (e.g. "tap:").
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	// EncryptionKey is the base64-encoded 32-byte AES key for TOTP secrets, recovery codes, and session markers.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs impersonation tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of impersonation tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of impersonation tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SessionIdleTimeout is the inactivity timeout when a tenant does not set one (e.g. "120m").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// SessionMaxConcurrent is the per-principal session cap when a tenant does not set one; 0 is unlimited.
	SessionMaxConcurrent int `mapstructure:"SESSION_MAX_CONCURRENT"`

	// TOTPIssuer is the issuer label shown in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
	// TrustedDeviceTTL is how long a device skips the second factor (e.g. "720h").
	TrustedDeviceTTL string `mapstructure:"TRUSTED_DEVICE_TTL"`

	// ImpersonationDefaultMinutes is used when an impersonation request does not ask for a duration.
	ImpersonationDefaultMinutes int `mapstructure:"IMPERSONATION_DEFAULT_MINUTES"`
	// ImpersonationMaxMinutes caps any requested impersonation duration.
	ImpersonationMaxMinutes int `mapstructure:"IMPERSONATION_MAX_MINUTES"`
	// ImpersonationNotifyTarget notifies the impersonated principal when a session starts.
	ImpersonationNotifyTarget bool `mapstructure:"IMPERSONATION_NOTIFY_TARGET"`
	// ImpersonationPolicyFile optionally replaces the built-in impersonation Rego policy.
	ImpersonationPolicyFile string `mapstructure:"IMPERSONATION_POLICY_FILE"`

	// NotifyWebhookURL, when set, delivers security notifications by HTTP POST instead of logging them.
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	// NotifyWebhookSecret is sent as a bearer token to the webhook.
	NotifyWebhookSecret string `mapstructure:"NOTIFY_WEBHOOK_SECRET"`

	// DeviceInactiveDays is the age after which the sweeper deactivates unused devices.
	DeviceInactiveDays int `mapstructure:"DEVICE_INACTIVE_DAYS"`
	// SweepInterval is how often the sweeper runs (e.g. "15m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure disables TLS to the collector.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "tap:")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "tap-auth")
	v.SetDefault("JWT_AUDIENCE", "tap-api")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "120m")
	v.SetDefault("SESSION_MAX_CONCURRENT", 0)
	v.SetDefault("TOTP_ISSUER", "Tenant Auth")
	v.SetDefault("TRUSTED_DEVICE_TTL", "720h") // 30d
	v.SetDefault("IMPERSONATION_DEFAULT_MINUTES", 60)
	v.SetDefault("IMPERSONATION_MAX_MINUTES", 240)
	v.SetDefault("IMPERSONATION_NOTIFY_TARGET", true)
	v.SetDefault("IMPERSONATION_POLICY_FILE", "")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_WEBHOOK_SECRET", "")
	v.SetDefault("DEVICE_INACTIVE_DAYS", 30)
	v.SetDefault("SWEEP_INTERVAL", "15m")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.SessionMaxConcurrent < 0 {
		return nil, errors.New("config: SESSION_MAX_CONCURRENT must not be negative")
	}
	if cfg.ImpersonationDefaultMinutes <= 0 || cfg.ImpersonationMaxMinutes <= 0 {
		return nil, errors.New("config: IMPERSONATION_DEFAULT_MINUTES and IMPERSONATION_MAX_MINUTES must be positive")
	}
	if cfg.ImpersonationDefaultMinutes > cfg.ImpersonationMaxMinutes {
		return nil, fmt.Errorf("config: IMPERSONATION_DEFAULT_MINUTES (%d) exceeds IMPERSONATION_MAX_MINUTES (%d)",
			cfg.ImpersonationDefaultMinutes, cfg.ImpersonationMaxMinutes)
	}
	if cfg.Env == "production" && cfg.EncryptionKey == "" {
		return nil, errors.New("config: ENCRYPTION_KEY must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// IdleTimeout parses SessionIdleTimeout. Returns 120m if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	return parseDuration(c.SessionIdleTimeout, 120*time.Minute)
}

// TrustTTL parses TrustedDeviceTTL. Returns 30 days if unset or invalid.
func (c *Config) TrustTTL() time.Duration {
	return parseDuration(c.TrustedDeviceTTL, 30*24*time.Hour)
}

// SweepEvery parses SweepInterval. Returns 15m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, 15*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
