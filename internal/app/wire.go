package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/wavey0x/auction-curves-sub001/internal/blob/s3"
	"github.com/wavey0x/auction-curves-sub001/internal/cache/redis"
	"github.com/wavey0x/auction-curves-sub001/internal/chain"
	"github.com/wavey0x/auction-curves-sub001/internal/config"
	"github.com/wavey0x/auction-curves-sub001/internal/domain"
	"github.com/wavey0x/auction-curves-sub001/internal/notify"
	"github.com/wavey0x/auction-curves-sub001/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	AuctionStore domain.AuctionStore
	RoundStore   domain.RoundStore
	TakeStore    domain.TakeStore
	CursorStore  domain.CursorStore
	OutboxStore  domain.OutboxStore
	BatchWriter  domain.BatchWriter

	// Broker
	StreamBus domain.StreamBus

	// Chain clients, keyed by chain ID. Populated only for indexing modes.
	Chains map[int64]domain.ChainClient

	// Cold storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "indexer", "relay", "archiver", "full":
		return true
	default:
		return false
	}
}

// needsChains returns true for modes that scan chains.
func needsChains(mode string) bool {
	return mode == "indexer" || mode == "full"
}

// needsS3 returns true when dead letters are archived to cold storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archiver" || (cfg.Archiver.Enabled && cfg.Mode == "full")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewAuctionStore(pool)
		deps.RoundStore = postgres.NewRoundStore(pool)
		deps.TakeStore = postgres.NewTakeStore(pool)
		deps.CursorStore = postgres.NewCursorStore(pool)
		deps.OutboxStore = postgres.NewOutboxStore(pool)
		deps.BatchWriter = postgres.NewBatchWriter(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.StreamBus = redis.NewStreamBus(redisClient, int64(cfg.Relay.StreamMaxLen))

	// --- Chain clients ---
	if needsChains(cfg.Mode) {
		deps.Chains = make(map[int64]domain.ChainClient, len(cfg.Networks))
		for _, n := range cfg.Networks {
			client, err := chain.Dial(ctx, n.RPCURL, n.ChainID)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: chain %s (%d): %w", n.Name, n.ChainID, err)
			}
			closers = append(closers, client.Close)
			deps.Chains[n.ChainID] = client
		}
	}

	// --- S3 cold storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.OutboxStore != nil {
			retention := time.Duration(cfg.Archiver.RetentionDays) * 24 * time.Hour
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.OutboxStore,
				retention,
				cfg.Archiver.Interval.Duration,
				logger,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
