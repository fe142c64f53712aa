// Package consume runs consumer-group workers over the broker stream.
package consume

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// Handler processes one decoded event. Returning an error leaves the entry
// unacknowledged so the group can redeliver it.
type Handler func(ctx context.Context, env domain.EventEnvelope) error

// How often the consumer sweeps the group's pending list for entries
// stranded by a dead consumer, and how long an entry must sit idle before
// it is taken over.
const (
	claimInterval = time.Minute
	claimMinIdle  = time.Minute
)

// Config controls one consumer worker.
type Config struct {
	Stream    string
	Group     string
	BatchSize int
	Block     time.Duration

	// Name is the consumer's identity within the group. It must be stable
	// across restarts so the pending list survives a crash; when empty the
	// hostname is used.
	Name string
}

// Consumer reads the event stream through a consumer group and dispatches
// entries to per-type handlers. Entries are acknowledged only after their
// handler succeeds; entries with no registered handler are acknowledged
// immediately so they do not clog the pending list.
type Consumer struct {
	bus      domain.StreamBus
	cfg      Config
	handlers map[domain.EventType]Handler
	log      *slog.Logger

	consumerID string
}

// New creates a consumer. Its identity within the group comes from
// cfg.Name, falling back to the hostname, so a restarted process resumes
// ownership of its pending entries instead of stranding them.
func New(bus domain.StreamBus, cfg Config, handlers map[domain.EventType]Handler, log *slog.Logger) *Consumer {
	id := cfg.Name
	if id == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = uuid.NewString()[:8]
		}
		id = cfg.Group + "-" + host
	}
	return &Consumer{
		bus:        bus,
		cfg:        cfg,
		handlers:   handlers,
		log:        log.With("component", "consumer", "group", cfg.Group, "consumer_id", id),
		consumerID: id,
	}
}

// Run processes the stream until ctx is cancelled. The group is created on
// entry if it does not exist yet; the consumer's own unacknowledged backlog
// is reprocessed before any new entries are read, and the group's pending
// list is swept periodically for entries stranded by dead consumers.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.bus.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group); err != nil {
		return err
	}
	c.log.Info("consumer started", "stream", c.cfg.Stream)

	if err := c.drainBacklog(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error("backlog drain failed", "error", err)
	}

	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return ctx.Err()
		}

		msgs, err := c.bus.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, c.consumerID, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return ctx.Err()
			}
			c.log.Error("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		c.handleBatch(ctx, msgs)

		if time.Since(lastClaim) >= claimInterval {
			c.claimStale(ctx)
			lastClaim = time.Now()
		}
	}
}

// drainBacklog reprocesses entries this consumer read but never acknowledged
// before its last shutdown. It stops once a full pass acknowledges nothing,
// leaving persistently failing entries to the periodic claim sweep instead
// of spinning on them at startup.
func (c *Consumer) drainBacklog(ctx context.Context) error {
	for {
		msgs, err := c.bus.ReadBacklog(ctx, c.cfg.Stream, c.cfg.Group, c.consumerID, c.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		c.log.Info("reprocessing unacknowledged backlog", "entries", len(msgs))
		if c.handleBatch(ctx, msgs) == 0 {
			return nil
		}
	}
}

// claimStale takes over entries left pending by any consumer in the group
// for longer than claimMinIdle and processes them. Errors are logged; the
// next sweep retries.
func (c *Consumer) claimStale(ctx context.Context) {
	msgs, err := c.bus.Claim(ctx, c.cfg.Stream, c.cfg.Group, c.consumerID, claimMinIdle, c.cfg.BatchSize)
	if err != nil {
		c.log.Error("pending claim sweep failed", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	c.log.Info("claimed stale pending entries", "entries", len(msgs))
	c.handleBatch(ctx, msgs)
}

// handleBatch processes and acknowledges a batch, returning how many entries
// were acknowledged.
func (c *Consumer) handleBatch(ctx context.Context, msgs []domain.StreamMessage) int {
	acked := 0
	for _, msg := range msgs {
		if c.process(ctx, msg) {
			if err := c.bus.Ack(ctx, c.cfg.Stream, c.cfg.Group, msg.ID); err != nil {
				c.log.Error("ack failed", "message_id", msg.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked
}

// process returns true when the entry should be acknowledged.
func (c *Consumer) process(ctx context.Context, msg domain.StreamMessage) bool {
	env, err := domain.ParseEnvelope(msg.Values)
	if err != nil {
		// Malformed entries never become parseable; ack and move on.
		c.log.Warn("dropping malformed entry", "message_id", msg.ID, "error", err)
		return true
	}

	handler, ok := c.handlers[env.Type]
	if !ok {
		return true
	}

	if err := handler(ctx, env); err != nil {
		c.log.Error("handler failed",
			"message_id", msg.ID,
			"type", string(env.Type),
			"uniq_key", env.UniqKey,
			"error", err,
		)
		return false
	}
	return true
}
