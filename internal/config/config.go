// Package config defines the top-level configuration for the gavel
// marketplace daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GAVEL_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Closer   CloserConfig   `toml:"closer"`
	Payment  PaymentConfig  `toml:"payment"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds bid admission parameters.
type EngineConfig struct {
	// LockWait bounds how long an admission or cancellation waits for the
	// per-auction critical section before failing as busy.
	LockWait duration `toml:"lock_wait"`
	// LockTTL is the lease duration on the per-auction lock.
	LockTTL duration `toml:"lock_ttl"`
	// BidRateLimit / BidRateWindow throttle bids per bidder.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// CloserConfig holds auction closer sweep parameters.
type CloserConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
	// AuctionTimeout bounds the processing of one auction inside a sweep so a
	// stuck auction cannot stall the rest of the pass.
	AuctionTimeout duration `toml:"auction_timeout"`
	BatchSize      int      `toml:"batch_size"`
}

// PaymentConfig holds the payment gateway endpoint and credentials, plus the
// settlement retry cadence.
type PaymentConfig struct {
	GatewayURL    string   `toml:"gateway_url"`
	APIKey        string   `toml:"api_key"`
	Currency      string   `toml:"currency"`
	RetryInterval duration `toml:"retry_interval"`
	RetryBatch    int      `toml:"retry_batch"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminAPIKey string   `toml:"admin_api_key"`
	// RateLimit / RateWindow throttle API requests per client IP. Zero
	// disables the HTTP-level limiter; bid admission has its own per-bidder
	// throttle.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gavel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gavel-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			LockWait:      duration{500 * time.Millisecond},
			LockTTL:       duration{5 * time.Second},
			BidRateLimit:  10,
			BidRateWindow: duration{10 * time.Second},
		},
		Closer: CloserConfig{
			SweepInterval:  duration{5 * time.Second},
			AuctionTimeout: duration{10 * time.Second},
			BatchSize:      100,
		},
		Payment: PaymentConfig{
			Currency:      "usd",
			RetryInterval: duration{time.Minute},
			RetryBatch:    50,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":   true,
	"sweep": true,
	"full":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// combined error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, sweep, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Engine.LockWait.Duration <= 0 {
		errs = append(errs, "engine: lock_wait must be positive")
	}
	if c.Engine.LockTTL.Duration <= c.Engine.LockWait.Duration {
		errs = append(errs, "engine: lock_ttl must exceed lock_wait")
	}

	if c.Closer.SweepInterval.Duration <= 0 {
		errs = append(errs, "closer: sweep_interval must be positive")
	}
	if c.Closer.AuctionTimeout.Duration <= 0 {
		errs = append(errs, "closer: auction_timeout must be positive")
	}

	mode := strings.ToLower(c.Mode)
	if mode == "sweep" || mode == "full" {
		if c.Payment.GatewayURL == "" {
			errs = append(errs, "payment: gateway_url is required for mode "+c.Mode)
		}
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3 bucket must be set when archival is enabled")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
