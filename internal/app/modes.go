package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wavey0x/auction-curves-sub001/internal/consume"
	"github.com/wavey0x/auction-curves-sub001/internal/domain"
	"github.com/wavey0x/auction-curves-sub001/internal/ingest"
	"github.com/wavey0x/auction-curves-sub001/internal/relay"
)

// IndexerMode runs one ingestion engine per configured network.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngines(ctx, g, deps); err != nil {
		return err
	}
	a.startStatsReporter(ctx, g, deps)
	return g.Wait()
}

// RelayMode runs the outbox relay worker.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps)
	return g.Wait()
}

// ConsumerMode runs the alert consumer against the event stream.
func (a *App) ConsumerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting consumer mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startConsumer(ctx, g, deps)
	return g.Wait()
}

// ArchiverMode runs the dead-letter archiver alone.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archiver mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archiver mode requires s3 configuration")
	}
	return deps.Archiver.Run(ctx)
}

// FullMode runs ingestion, relay, the alert consumer, and (when enabled) the
// archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngines(ctx, g, deps); err != nil {
		return err
	}
	a.startRelay(ctx, g, deps)
	a.startConsumer(ctx, g, deps)
	a.startStatsReporter(ctx, g, deps)
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}
	return g.Wait()
}

// startEngines builds the source registry and launches one ingestion engine
// per network.
func (a *App) startEngines(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	registry, err := ingest.NewRegistry(a.cfg.Networks)
	if err != nil {
		return fmt.Errorf("app: build source registry: %w", err)
	}

	engineCfg := ingest.EngineConfig{
		MaxBlockRange:      a.cfg.Indexer.MaxBlockRange,
		PollInterval:       a.cfg.Indexer.PollInterval.Duration,
		ConfirmationDepth:  a.cfg.Indexer.ConfirmationDepth,
		ReconcileAvailable: a.cfg.Indexer.ReconcileAvailable,
	}

	for _, networkID := range registry.NetworkIDs() {
		client, ok := deps.Chains[networkID]
		if !ok {
			return fmt.Errorf("app: no chain client for network %d", networkID)
		}
		engine := ingest.NewEngine(
			client,
			registry.SourcesFor(networkID),
			deps.CursorStore,
			deps.AuctionStore,
			deps.RoundStore,
			deps.BatchWriter,
			engineCfg,
			a.logger,
		)
		g.Go(func() error {
			return engine.Run(ctx)
		})
	}
	return nil
}

func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	worker := relay.New(deps.OutboxStore, deps.StreamBus, relay.Config{
		BatchSize:       a.cfg.Relay.BatchSize,
		PollInterval:    time.Duration(a.cfg.Relay.PollIntervalMs) * time.Millisecond,
		MaxPollInterval: time.Duration(a.cfg.Relay.MaxPollIntervalMs) * time.Millisecond,
		RetryLimit:      a.cfg.Relay.RetryLimit,
	}, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})
}

func (a *App) startConsumer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := consume.AlertHandlers(deps.Notifier, a.cfg.Consumer.MinAlertQty)
	worker := consume.New(deps.StreamBus, consume.Config{
		Stream:    domain.StreamEvents,
		Group:     a.cfg.Consumer.Group,
		BatchSize: a.cfg.Consumer.BatchSize,
		Block:     time.Duration(a.cfg.Consumer.BlockMs) * time.Millisecond,
		Name:      a.cfg.Consumer.Name,
	}, handlers, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})
}
