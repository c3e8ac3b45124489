// Package config defines the top-level configuration for the oddsmesh
// pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ODDSMESH_* environment
// variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Manifold   ManifoldConfig   `toml:"manifold"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Resilience ResilienceConfig `toml:"resilience"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Whale      WhaleConfig      `toml:"whale"`
	Resolution ResolutionConfig `toml:"resolution"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and rate budget.
type PolymarketConfig struct {
	Enabled    bool    `toml:"enabled"`
	GammaHost  string  `toml:"gamma_host"`
	DataHost   string  `toml:"data_host"`
	WsHost     string  `toml:"ws_host"`
	RatePerSec float64 `toml:"rate_per_sec"`
	Burst      int     `toml:"burst"`
}

// KalshiConfig holds Kalshi exchange API credentials and rate budget.
type KalshiConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	ApiKey            string  `toml:"api_key"`
	RsaPrivateKeyPath string  `toml:"rsa_private_key_path"`
	RatePerSec        float64 `toml:"rate_per_sec"`
	Burst             int     `toml:"burst"`
}

// ManifoldConfig holds Manifold API parameters and rate budget.
type ManifoldConfig struct {
	Enabled    bool    `toml:"enabled"`
	BaseURL    string  `toml:"base_url"`
	ApiKey     string  `toml:"api_key"`
	RatePerSec float64 `toml:"rate_per_sec"`
	Burst      int     `toml:"burst"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled              bool     `toml:"enabled"`
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// SyncConfig holds reconciliation parameters.
type SyncConfig struct {
	Interval duration `toml:"interval"`
	// UseLock coordinates sync runs across instances through Redis.
	UseLock bool `toml:"use_lock"`
}

// ResilienceConfig tunes the outbound-call protection layers shared by all
// providers.
type ResilienceConfig struct {
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
	RetryMaxAttempts int      `toml:"retry_max_attempts"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryMaxDelay    duration `toml:"retry_max_delay"`
	CallTimeout      duration `toml:"call_timeout"`
}

// ArbitrageConfig holds cross-provider detection parameters.
type ArbitrageConfig struct {
	Enabled       bool     `toml:"enabled"`
	MinSimilarity float64  `toml:"min_similarity"`
	MinSpreadBps  int      `toml:"min_spread_bps"`
	TTL           duration `toml:"ttl"`
	Interval      duration `toml:"interval"`
}

// WhaleConfig holds large-trade detection parameters.
type WhaleConfig struct {
	Enabled       bool     `toml:"enabled"`
	ThresholdUSD  float64  `toml:"threshold_usd"`
	Interval      duration `toml:"interval"`
	StreamEnabled bool     `toml:"stream_enabled"`
}

// ResolutionConfig holds mirror-resolution parameters and the executor
// collaborator endpoint.
type ResolutionConfig struct {
	Enabled         bool     `toml:"enabled"`
	ExecutorURL     string   `toml:"executor_url"`
	ExecutorToken   string   `toml:"executor_token"`
	Delay           duration `toml:"delay"`
	DetectInterval  duration `toml:"detect_interval"`
	ExecuteInterval duration `toml:"execute_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
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
		Polymarket: PolymarketConfig{
			Enabled:    true,
			GammaHost:  "https://gamma-api.polymarket.com",
			DataHost:   "https://data-api.polymarket.com",
			WsHost:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RatePerSec: 10,
			Burst:      5,
		},
		Kalshi: KalshiConfig{
			Enabled:    true,
			BaseURL:    "https://api.elections.kalshi.com/trade-api/v2",
			RatePerSec: 5,
			Burst:      2,
		},
		Manifold: ManifoldConfig{
			Enabled:    true,
			BaseURL:    "https://api.manifold.markets",
			RatePerSec: 5,
			Burst:      2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsmesh",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "oddsmesh-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 30,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Sync: SyncConfig{
			Interval: duration{5 * time.Minute},
			UseLock:  true,
		},
		Resilience: ResilienceConfig{
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
			RetryMaxAttempts: 3,
			RetryBaseDelay:   duration{500 * time.Millisecond},
			RetryMaxDelay:    duration{8 * time.Second},
			CallTimeout:      duration{30 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:       true,
			MinSimilarity: 0.7,
			MinSpreadBps:  100,
			TTL:           duration{5 * time.Minute},
			Interval:      duration{time.Minute},
		},
		Whale: WhaleConfig{
			Enabled:       true,
			ThresholdUSD:  10_000,
			Interval:      duration{2 * time.Minute},
			StreamEnabled: false,
		},
		Resolution: ResolutionConfig{
			Enabled:         false,
			Delay:           duration{10 * time.Minute},
			DetectInterval:  duration{time.Minute},
			ExecuteInterval: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"arb_detected", "whale_detected", "resolution_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":    true,
	"detect":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, detect, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !c.Polymarket.Enabled && !c.Kalshi.Enabled && !c.Manifold.Enabled {
		errs = append(errs, "providers: at least one provider must be enabled")
	}
	if c.Polymarket.Enabled && c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Kalshi.Enabled {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required when enabled")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required when enabled")
		}
	}
	if c.Manifold.Enabled && c.Manifold.BaseURL == "" {
		errs = append(errs, "manifold: base_url must not be empty")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Sync.UseLock && !c.Redis.Enabled {
		errs = append(errs, "sync: use_lock requires redis to be enabled")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
	}

	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}
	if c.Resilience.BreakerThreshold < 1 {
		errs = append(errs, "resilience: breaker_threshold must be >= 1")
	}
	if c.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, "resilience: retry_max_attempts must be >= 1")
	}

	if c.Arbitrage.Enabled {
		if c.Arbitrage.MinSimilarity <= 0 || c.Arbitrage.MinSimilarity > 1 {
			errs = append(errs, fmt.Sprintf("arbitrage: min_similarity must be in (0, 1], got %g", c.Arbitrage.MinSimilarity))
		}
		if c.Arbitrage.MinSpreadBps < 0 {
			errs = append(errs, "arbitrage: min_spread_bps must not be negative")
		}
	}
	if c.Whale.Enabled && c.Whale.ThresholdUSD <= 0 {
		errs = append(errs, "whale: threshold_usd must be > 0 when enabled")
	}
	if c.Resolution.Enabled && c.Resolution.ExecutorURL == "" {
		errs = append(errs, "resolution: executor_url is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
