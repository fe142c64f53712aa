// Package relay drains the transactional outbox into the broker stream.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// Config controls one relay worker.
type Config struct {
	BatchSize       int
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	RetryLimit      int
}

// Relay claims pending outbox rows and publishes them to the event stream.
// Multiple instances may run against the same database; row claiming keeps
// them from double-publishing within a cycle.
type Relay struct {
	outbox domain.OutboxStore
	bus    domain.StreamBus
	cfg    Config
	log    *slog.Logger

	workerID string
}

// New creates a relay worker with a unique identity for log correlation.
func New(outbox domain.OutboxStore, bus domain.StreamBus, cfg Config, log *slog.Logger) *Relay {
	id := uuid.NewString()[:8]
	return &Relay{
		outbox:   outbox,
		bus:      bus,
		cfg:      cfg,
		log:      log.With("component", "relay", "worker_id", id),
		workerID: id,
	}
}

// Run drains the outbox until ctx is cancelled. The poll delay adapts to
// load: consecutive empty cycles stretch it toward MaxPollInterval, and any
// cycle that claims work snaps it back to PollInterval.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started",
		"batch_size", r.cfg.BatchSize,
		"retry_limit", r.cfg.RetryLimit,
	)

	emptyCycles := 0
	lastBacklogLog := time.Time{}

	for {
		stats, err := r.outbox.RelayPending(ctx, r.cfg.BatchSize, r.decide)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("relay cycle failed", "error", err)
		}

		if stats.Claimed > 0 {
			emptyCycles = 0
			r.log.Info("relay cycle",
				"claimed", stats.Claimed,
				"published", stats.Published,
				"failed", stats.Failed,
				"dead_lettered", stats.DeadLettered,
			)
		} else {
			emptyCycles++
		}

		if time.Since(lastBacklogLog) > time.Minute {
			if pending, err := r.outbox.CountPending(ctx); err == nil {
				r.log.Info("outbox backlog", "pending", pending)
			}
			lastBacklogLog = time.Now()
		}

		delay := nextDelay(r.cfg.PollInterval, r.cfg.MaxPollInterval, emptyCycles)
		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// nextDelay grows the poll delay linearly with consecutive empty cycles,
// capped at max. Zero empty cycles means the base delay.
func nextDelay(base, max time.Duration, emptyCycles int) time.Duration {
	if emptyCycles <= 1 {
		return base
	}
	d := base * time.Duration(emptyCycles)
	if d > max {
		return max
	}
	return d
}

// decide is the per-row outcome function handed to the outbox store. Rows
// that already spent their retry budget go to the dead-letter stream; the
// rest are published to the primary stream.
func (r *Relay) decide(ctx context.Context, ev domain.OutboxEvent) domain.RelayResult {
	if ev.Retries >= r.cfg.RetryLimit {
		return r.deadLetter(ctx, ev, fmt.Errorf("retry limit %d exhausted: %s", r.cfg.RetryLimit, ev.LastError))
	}

	var env domain.EventEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		// A payload that cannot be decoded will never publish; retrying
		// is pointless.
		return r.deadLetter(ctx, ev, fmt.Errorf("malformed payload: %w", err))
	}

	if err := r.bus.Append(ctx, domain.StreamEvents, env.Values()); err != nil {
		return domain.RelayResult{Err: err}
	}
	return domain.RelayResult{Published: true}
}

func (r *Relay) deadLetter(ctx context.Context, ev domain.OutboxEvent, cause error) domain.RelayResult {
	r.log.Warn("dead-lettering event",
		"event_id", ev.ID,
		"uniq_key", ev.UniqKey,
		"type", string(ev.Type),
		"retries", ev.Retries,
		"error", cause,
	)

	values := map[string]interface{}{
		"uniq_key":       ev.UniqKey,
		"original_event": string(ev.Payload),
		"failure_time":   time.Now().UTC().Format(time.RFC3339),
		"retries":        ev.Retries,
		"last_error":     cause.Error(),
	}
	if err := r.bus.Append(ctx, domain.StreamDeadLetters, values); err != nil {
		// The database dead_letters row is the durable record; the
		// stream copy is advisory.
		r.log.Error("dead-letter stream append failed", "event_id", ev.ID, "error", err)
	}
	return domain.RelayResult{DeadLettered: true, Err: cause}
}
