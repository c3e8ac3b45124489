package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the configuration file at path (TOML), applies defaults for
// missing values, loads a .env file if present, and finally applies
// ODDSMESH_* environment variable overrides. An empty path skips the file
// and uses defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays ODDSMESH_*-prefixed environment variables onto
// cfg. Only variables that are set and parse cleanly take effect.
func applyEnvOverrides(cfg *Config) {
	setBool("ODDSMESH_POLYMARKET_ENABLED", &cfg.Polymarket.Enabled)
	setStr("ODDSMESH_POLYMARKET_GAMMA_HOST", &cfg.Polymarket.GammaHost)
	setStr("ODDSMESH_POLYMARKET_DATA_HOST", &cfg.Polymarket.DataHost)
	setStr("ODDSMESH_POLYMARKET_WS_HOST", &cfg.Polymarket.WsHost)
	setFloat64("ODDSMESH_POLYMARKET_RATE_PER_SEC", &cfg.Polymarket.RatePerSec)
	setInt("ODDSMESH_POLYMARKET_BURST", &cfg.Polymarket.Burst)

	setBool("ODDSMESH_KALSHI_ENABLED", &cfg.Kalshi.Enabled)
	setStr("ODDSMESH_KALSHI_BASE_URL", &cfg.Kalshi.BaseURL)
	setStr("ODDSMESH_KALSHI_API_KEY", &cfg.Kalshi.ApiKey)
	setStr("ODDSMESH_KALSHI_RSA_PRIVATE_KEY_PATH", &cfg.Kalshi.RsaPrivateKeyPath)
	setFloat64("ODDSMESH_KALSHI_RATE_PER_SEC", &cfg.Kalshi.RatePerSec)
	setInt("ODDSMESH_KALSHI_BURST", &cfg.Kalshi.Burst)

	setBool("ODDSMESH_MANIFOLD_ENABLED", &cfg.Manifold.Enabled)
	setStr("ODDSMESH_MANIFOLD_BASE_URL", &cfg.Manifold.BaseURL)
	setStr("ODDSMESH_MANIFOLD_API_KEY", &cfg.Manifold.ApiKey)
	setFloat64("ODDSMESH_MANIFOLD_RATE_PER_SEC", &cfg.Manifold.RatePerSec)
	setInt("ODDSMESH_MANIFOLD_BURST", &cfg.Manifold.Burst)

	setStr("ODDSMESH_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("ODDSMESH_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("ODDSMESH_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("ODDSMESH_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("ODDSMESH_POSTGRES_USER", &cfg.Postgres.User)
	setStr("ODDSMESH_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("ODDSMESH_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setInt("ODDSMESH_POSTGRES_POOL_MAX_CONNS", &cfg.Postgres.PoolMaxConns)
	setInt("ODDSMESH_POSTGRES_POOL_MIN_CONNS", &cfg.Postgres.PoolMinConns)
	setBool("ODDSMESH_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("ODDSMESH_REDIS_ENABLED", &cfg.Redis.Enabled)
	setStr("ODDSMESH_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("ODDSMESH_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("ODDSMESH_REDIS_DB", &cfg.Redis.DB)
	setInt("ODDSMESH_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	setBool("ODDSMESH_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setBool("ODDSMESH_S3_ENABLED", &cfg.S3.Enabled)
	setStr("ODDSMESH_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("ODDSMESH_S3_REGION", &cfg.S3.Region)
	setStr("ODDSMESH_S3_BUCKET", &cfg.S3.Bucket)
	setStr("ODDSMESH_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("ODDSMESH_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("ODDSMESH_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)
	setInt("ODDSMESH_S3_ARCHIVE_RETENTION_DAYS", &cfg.S3.ArchiveRetentionDays)
	setDuration("ODDSMESH_S3_ARCHIVE_INTERVAL", &cfg.S3.ArchiveInterval)

	setDuration("ODDSMESH_SYNC_INTERVAL", &cfg.Sync.Interval)
	setBool("ODDSMESH_SYNC_USE_LOCK", &cfg.Sync.UseLock)

	setInt("ODDSMESH_BREAKER_THRESHOLD", &cfg.Resilience.BreakerThreshold)
	setDuration("ODDSMESH_BREAKER_COOLDOWN", &cfg.Resilience.BreakerCooldown)
	setInt("ODDSMESH_RETRY_MAX_ATTEMPTS", &cfg.Resilience.RetryMaxAttempts)
	setDuration("ODDSMESH_RETRY_BASE_DELAY", &cfg.Resilience.RetryBaseDelay)
	setDuration("ODDSMESH_RETRY_MAX_DELAY", &cfg.Resilience.RetryMaxDelay)
	setDuration("ODDSMESH_CALL_TIMEOUT", &cfg.Resilience.CallTimeout)

	setBool("ODDSMESH_ARBITRAGE_ENABLED", &cfg.Arbitrage.Enabled)
	setFloat64("ODDSMESH_ARBITRAGE_MIN_SIMILARITY", &cfg.Arbitrage.MinSimilarity)
	setInt("ODDSMESH_ARBITRAGE_MIN_SPREAD_BPS", &cfg.Arbitrage.MinSpreadBps)
	setDuration("ODDSMESH_ARBITRAGE_TTL", &cfg.Arbitrage.TTL)
	setDuration("ODDSMESH_ARBITRAGE_INTERVAL", &cfg.Arbitrage.Interval)

	setBool("ODDSMESH_WHALE_ENABLED", &cfg.Whale.Enabled)
	setFloat64("ODDSMESH_WHALE_THRESHOLD_USD", &cfg.Whale.ThresholdUSD)
	setDuration("ODDSMESH_WHALE_INTERVAL", &cfg.Whale.Interval)
	setBool("ODDSMESH_WHALE_STREAM_ENABLED", &cfg.Whale.StreamEnabled)

	setBool("ODDSMESH_RESOLUTION_ENABLED", &cfg.Resolution.Enabled)
	setStr("ODDSMESH_RESOLUTION_EXECUTOR_URL", &cfg.Resolution.ExecutorURL)
	setStr("ODDSMESH_RESOLUTION_EXECUTOR_TOKEN", &cfg.Resolution.ExecutorToken)
	setDuration("ODDSMESH_RESOLUTION_DELAY", &cfg.Resolution.Delay)
	setDuration("ODDSMESH_RESOLUTION_DETECT_INTERVAL", &cfg.Resolution.DetectInterval)
	setDuration("ODDSMESH_RESOLUTION_EXECUTE_INTERVAL", &cfg.Resolution.ExecuteInterval)

	setStr("ODDSMESH_NOTIFY_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("ODDSMESH_NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("ODDSMESH_NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
	setStringSlice("ODDSMESH_NOTIFY_EVENTS", &cfg.Notify.Events)

	setStr("ODDSMESH_MODE", &cfg.Mode)
	setStr("ODDSMESH_LOG_LEVEL", &cfg.LogLevel)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
