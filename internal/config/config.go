// Package config defines the top-level configuration for the auction indexer
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AUCTION_* environment
// variables.
type Config struct {
	Networks []NetworkConfig `toml:"network"`
	Indexer  IndexerConfig   `toml:"indexer"`
	Relay    RelayConfig     `toml:"relay"`
	Consumer ConsumerConfig  `toml:"consumer"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	S3       S3Config        `toml:"s3"`
	Archiver ArchiverConfig  `toml:"archiver"`
	Notify   NotifyConfig    `toml:"notify"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// NetworkConfig describes one chain and its registered deployer sources.
type NetworkConfig struct {
	Name    string         `toml:"name"`
	ChainID int64          `toml:"chain_id"`
	RPCURL  string         `toml:"rpc_url"`
	Sources []SourceConfig `toml:"source"`
}

// SourceConfig registers one factory deployer contract.
type SourceConfig struct {
	Address    string `toml:"address"`
	Version    string `toml:"version"` // "legacy" or "modern"
	StartBlock uint64 `toml:"start_block"`
}

// IndexerConfig holds ingestion engine parameters.
type IndexerConfig struct {
	// MaxBlockRange caps the block span scanned per tick per source.
	MaxBlockRange uint64   `toml:"max_block_range"`
	PollInterval  duration `toml:"poll_interval"`
	// ConfirmationDepth is subtracted from the chain head before scanning.
	// Zero indexes to the head with no reorg protection.
	ConfirmationDepth uint64 `toml:"confirmation_depth"`
	// ReconcileAvailable enables available() reads after take batches to
	// correct remaining_quantity drift.
	ReconcileAvailable bool `toml:"reconcile_available"`
}

// RelayConfig holds outbox relay parameters.
type RelayConfig struct {
	BatchSize         int `toml:"batch_size"`
	PollIntervalMs    int `toml:"poll_interval_ms"`
	MaxPollIntervalMs int `toml:"max_poll_interval_ms"`
	RetryLimit        int `toml:"retry_limit"`
	StreamMaxLen      int `toml:"stream_max_len"`
}

// ConsumerConfig holds consumer framework parameters.
type ConsumerConfig struct {
	Group string `toml:"group"`
	// Name identifies this consumer within its group. It must be stable
	// across restarts so unacknowledged entries are recovered; empty means
	// the hostname is used.
	Name      string `toml:"name"`
	BatchSize int    `toml:"batch_size"`
	BlockMs   int    `toml:"block_ms"`
	// MinAlertQty is the smallest take quantity the alert consumer reports.
	MinAlertQty float64 `toml:"min_alert_qty"`
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

// S3Config holds S3-compatible object storage parameters for the dead-letter
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiverConfig holds dead-letter cold-storage parameters.
type ArchiverConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials for the alert consumer.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Indexer: IndexerConfig{
			MaxBlockRange:      5000,
			PollInterval:       duration{12 * time.Second},
			ConfirmationDepth:  0,
			ReconcileAvailable: true,
		},
		Relay: RelayConfig{
			BatchSize:         100,
			PollIntervalMs:    300,
			MaxPollIntervalMs: 5000,
			RetryLimit:        5,
			StreamMaxLen:      100_000,
		},
		Consumer: ConsumerConfig{
			Group:       "alerts",
			BatchSize:   32,
			BlockMs:     2000,
			MinAlertQty: 0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctions",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auction-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archiver: ArchiverConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"auction_deployed", "round_kicked", "take"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"indexer":  true,
	"relay":    true,
	"consumer": true,
	"archiver": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: indexer, relay, consumer, archiver, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Networks are required for indexing modes.
	needsNetworks := c.Mode == "indexer" || c.Mode == "full"
	if needsNetworks && len(c.Networks) == 0 {
		errs = append(errs, "network: at least one [[network]] is required for mode "+c.Mode)
	}
	seenChain := map[int64]bool{}
	for i, n := range c.Networks {
		if n.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("network[%d]: chain_id must be positive", i))
		}
		if seenChain[n.ChainID] {
			errs = append(errs, fmt.Sprintf("network[%d]: duplicate chain_id %d", i, n.ChainID))
		}
		seenChain[n.ChainID] = true
		if n.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("network[%d]: rpc_url must not be empty", i))
		}
		if len(n.Sources) == 0 {
			errs = append(errs, fmt.Sprintf("network[%d]: at least one [[network.source]] is required", i))
		}
		for j, s := range n.Sources {
			if s.Address == "" {
				errs = append(errs, fmt.Sprintf("network[%d].source[%d]: address must not be empty", i, j))
			}
			if s.Version != "legacy" && s.Version != "modern" {
				errs = append(errs, fmt.Sprintf("network[%d].source[%d]: version must be \"legacy\" or \"modern\", got %q", i, j, s.Version))
			}
		}
	}

	// Indexer
	if c.Indexer.MaxBlockRange == 0 {
		errs = append(errs, "indexer: max_block_range must be > 0")
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		errs = append(errs, "indexer: poll_interval must be > 0")
	}

	// Relay
	if c.Relay.BatchSize < 1 {
		errs = append(errs, "relay: batch_size must be >= 1")
	}
	if c.Relay.PollIntervalMs < 1 {
		errs = append(errs, "relay: poll_interval_ms must be >= 1")
	}
	if c.Relay.MaxPollIntervalMs < c.Relay.PollIntervalMs {
		errs = append(errs, "relay: max_poll_interval_ms must be >= poll_interval_ms")
	}
	if c.Relay.RetryLimit < 0 {
		errs = append(errs, "relay: retry_limit must be >= 0")
	}

	// Consumer
	if c.Mode == "consumer" || c.Mode == "full" {
		if c.Consumer.Group == "" {
			errs = append(errs, "consumer: group must not be empty")
		}
		if c.Consumer.BatchSize < 1 {
			errs = append(errs, "consumer: batch_size must be >= 1")
		}
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archiver
	if c.Archiver.Enabled || c.Mode == "archiver" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when the archiver is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when the archiver is enabled")
		}
		if c.Archiver.RetentionDays < 1 {
			errs = append(errs, "archiver: retention_days must be >= 1")
		}
		if c.Archiver.Interval.Duration <= 0 {
			errs = append(errs, "archiver: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
