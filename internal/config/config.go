// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "accounts-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "accounts-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTLRaw is the refresh token lifetime per rotation (e.g. "720h").
	RefreshTTLRaw string `mapstructure:"REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LockoutThreshold is the number of consecutive failed logins that locks an account; default 5.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutDurationRaw is how long a locked account rejects logins (e.g. "2h").
	// Policy value; product variants range 2h–24h. Default 2h.
	LockoutDurationRaw string `mapstructure:"LOCKOUT_DURATION"`
	// VerificationTTLRaw is the lifetime of email-verification and password-reset tokens (e.g. "24h").
	VerificationTTLRaw string `mapstructure:"VERIFICATION_TTL"`
	// MaxActiveSessions is fed to the login policy; 0 disables the cap. Default 10.
	MaxActiveSessions int `mapstructure:"MAX_ACTIVE_SESSIONS"`
	// LoginPolicyRego optionally overrides the built-in login Rego policy (inline Rego or path).
	LoginPolicyRego string `mapstructure:"LOGIN_POLICY_REGO"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Events (optional). When Kafka brokers are set, account events and gRPC telemetry go to Kafka.
	// EventsKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for account events (default account-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// RetentionMaxAgeRaw is how long revoked/expired tokens are kept before the worker deletes them (e.g. "720h").
	RetentionMaxAgeRaw string `mapstructure:"RETENTION_MAX_AGE"`
	// RetentionIntervalRaw is how often the worker runs the retention sweep (e.g. "1h").
	RetentionIntervalRaw string `mapstructure:"RETENTION_INTERVAL"`
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
	v.SetDefault("JWT_ISSUER", "accounts-auth")
	v.SetDefault("JWT_AUDIENCE", "accounts-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "2h")
	v.SetDefault("VERIFICATION_TTL", "24h")
	v.SetDefault("MAX_ACTIVE_SESSIONS", 10)
	v.SetDefault("LOGIN_POLICY_REGO", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "account-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "account-events-worker")
	v.SetDefault("RETENTION_MAX_AGE", "720h")
	v.SetDefault("RETENTION_INTERVAL", "1h")

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

	if cfg.LockoutThreshold <= 0 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if d, err := time.ParseDuration(cfg.LockoutDurationRaw); err != nil || d <= 0 {
		return nil, errors.New("config: LOCKOUT_DURATION must be a positive duration")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses RefreshTTLRaw as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTTLRaw)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// LockoutDuration parses LockoutDurationRaw as a time.Duration. Returns 2h if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LockoutDurationRaw)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

// VerificationTTL parses VerificationTTLRaw as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) VerificationTTL() time.Duration {
	d, err := time.ParseDuration(c.VerificationTTLRaw)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RetentionMaxAge parses RetentionMaxAgeRaw as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RetentionMaxAge() time.Duration {
	d, err := time.ParseDuration(c.RetentionMaxAgeRaw)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// RetentionInterval parses RetentionIntervalRaw as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) RetentionInterval() time.Duration {
	d, err := time.ParseDuration(c.RetentionIntervalRaw)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the publisher.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil || c.EventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
