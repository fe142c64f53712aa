package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const statsInterval = 5 * time.Minute

// startStatsReporter periodically logs a read-only snapshot of the indexed
// state: auctions discovered, takes per network, active rounds, and the
// outbox backlog. It never writes.
func (a *App) startStatsReporter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.logStats(ctx, deps)
			}
		}
	})
}

func (a *App) logStats(ctx context.Context, deps *Dependencies) {
	log := a.logger.With("component", "stats")

	auctions, err := deps.AuctionStore.Count(ctx)
	if err != nil {
		log.WarnContext(ctx, "count auctions", "error", err)
		return
	}
	pending, err := deps.OutboxStore.CountPending(ctx)
	if err != nil {
		log.WarnContext(ctx, "count pending outbox", "error", err)
		return
	}
	dead, err := deps.OutboxStore.DeadLetterCount(ctx)
	if err != nil {
		log.WarnContext(ctx, "count dead letters", "error", err)
		return
	}

	now := time.Now()
	attrs := []any{
		"auctions", auctions,
		"outbox_pending", pending,
		"dead_letters", dead,
	}
	for _, nw := range a.cfg.Networks {
		takes, err := deps.TakeStore.CountByNetwork(ctx, nw.ChainID)
		if err != nil {
			log.WarnContext(ctx, "count takes", "network", nw.Name, "error", err)
			continue
		}
		active, err := deps.RoundStore.ListActive(ctx, nw.ChainID, now)
		if err != nil {
			log.WarnContext(ctx, "list active rounds", "network", nw.Name, "error", err)
			continue
		}
		attrs = append(attrs,
			slog.Group(nw.Name, "takes", takes, "active_rounds", len(active)),
		)
	}

	log.InfoContext(ctx, "indexer snapshot", attrs...)
}
