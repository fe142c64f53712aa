package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTION_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file. Per-network values (RPC endpoints) are overridable
// by chain id: AUCTION_RPC_URL_<chain_id>.
func applyEnvOverrides(cfg *Config) {
	// ── Indexer ──
	setUint64(&cfg.Indexer.MaxBlockRange, "AUCTION_INDEXER_MAX_BLOCK_RANGE")
	setDuration(&cfg.Indexer.PollInterval, "AUCTION_INDEXER_POLL_INTERVAL")
	setUint64(&cfg.Indexer.ConfirmationDepth, "AUCTION_INDEXER_CONFIRMATION_DEPTH")
	setBool(&cfg.Indexer.ReconcileAvailable, "AUCTION_INDEXER_RECONCILE_AVAILABLE")

	// ── Networks ──
	for i := range cfg.Networks {
		key := "AUCTION_RPC_URL_" + strconv.FormatInt(cfg.Networks[i].ChainID, 10)
		setStr(&cfg.Networks[i].RPCURL, key)
	}

	// ── Relay ──
	setInt(&cfg.Relay.BatchSize, "AUCTION_RELAY_BATCH_SIZE")
	setInt(&cfg.Relay.PollIntervalMs, "AUCTION_RELAY_POLL_INTERVAL_MS")
	setInt(&cfg.Relay.MaxPollIntervalMs, "AUCTION_RELAY_MAX_POLL_INTERVAL_MS")
	setInt(&cfg.Relay.RetryLimit, "AUCTION_RELAY_RETRY_LIMIT")
	setInt(&cfg.Relay.StreamMaxLen, "AUCTION_RELAY_STREAM_MAX_LEN")

	// ── Consumer ──
	setStr(&cfg.Consumer.Group, "AUCTION_CONSUMER_GROUP")
	setStr(&cfg.Consumer.Name, "AUCTION_CONSUMER_NAME")
	setInt(&cfg.Consumer.BatchSize, "AUCTION_CONSUMER_BATCH_SIZE")
	setInt(&cfg.Consumer.BlockMs, "AUCTION_CONSUMER_BLOCK_MS")
	setFloat64(&cfg.Consumer.MinAlertQty, "AUCTION_CONSUMER_MIN_ALERT_QTY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTION_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTION_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTION_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AUCTION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTION_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTION_S3_FORCE_PATH_STYLE")

	// ── Archiver ──
	setBool(&cfg.Archiver.Enabled, "AUCTION_ARCHIVER_ENABLED")
	setInt(&cfg.Archiver.RetentionDays, "AUCTION_ARCHIVER_RETENTION_DAYS")
	setDuration(&cfg.Archiver.Interval, "AUCTION_ARCHIVER_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AUCTION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUCTION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUCTION_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTION_MODE")
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
