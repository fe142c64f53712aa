package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType tags the kind of domain event carried by an outbox row and a
// broker message.
type EventType string

const (
	EventAuctionDeployed EventType = "auction_deployed"
	EventRoundKicked     EventType = "round_kicked"
	EventTake            EventType = "take"
)

// OutboxEvent is one row of the transactional outbox. Rows are written in the
// same transaction as the domain rows they describe, identified by the unique
// uniq_key so re-inserts on rescan resolve to no-ops, and never deleted.
//
// Lifecycle: pending (PublishedAt nil) -> published (PublishedAt set), or,
// after exhausting the retry budget, dead-lettered: the payload is duplicated
// into the dead_letters table and PublishedAt is set to unblock the queue
// even though the primary stream never received the event.
type OutboxEvent struct {
	ID          int64
	Type        EventType
	NetworkID   int64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Payload     json.RawMessage
	UniqKey     string
	PublishedAt *time.Time
	Retries     int
	LastError   string
	CreatedAt   time.Time
}

// DeadLetter holds the full encoded event for an outbox row that exhausted
// its retry budget, plus the failure metadata operators need for recovery.
type DeadLetter struct {
	ID            int64
	UniqKey       string
	OriginalEvent json.RawMessage
	FailureTime   time.Time
	Retries       int
	LastError     string
}

// RelayResult is the per-row outcome the relay reports back to the outbox
// store while draining a claimed batch.
type RelayResult struct {
	Published    bool
	DeadLettered bool
	Err          error
}

// RelayFunc decides the outcome for one claimed outbox row, typically by
// attempting a broker publish.
type RelayFunc func(ctx context.Context, ev OutboxEvent) RelayResult

// RelayStats summarizes one relay cycle.
type RelayStats struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}
