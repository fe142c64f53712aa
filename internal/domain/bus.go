package domain

import (
	"context"
	"time"
)

// Stream names used by the relay and consumers.
const (
	StreamEvents      = "auction:events"
	StreamDeadLetters = "auction:events:dead"
)

// StreamMessage is one consumed stream entry.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// StreamBus is the broker boundary: an append-only, length-bounded stream
// with named consumer groups, blocking group reads, and per-message
// acknowledgment. Unacknowledged messages remain claimable, giving
// at-least-once delivery; consumers must be idempotent on uniq_key.
type StreamBus interface {
	// Append adds an entry to a stream with approximate length trimming.
	Append(ctx context.Context, stream string, values map[string]interface{}) error

	// EnsureGroup creates a consumer group at the start of the stream,
	// creating the stream if needed. Creating an existing group is a no-op.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup blocks up to block for as many as count new messages for
	// the given consumer identity. A nil slice with nil error means the
	// block timeout elapsed with nothing to read.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]StreamMessage, error)

	// ReadBacklog returns up to count messages already delivered to this
	// consumer but never acknowledged. A nil slice means the backlog is
	// drained. Consumers call this at startup so work in flight at the
	// last shutdown is not stranded.
	ReadBacklog(ctx context.Context, stream, group, consumer string, count int) ([]StreamMessage, error)

	// Claim transfers ownership of messages left pending longer than
	// minIdle by any consumer in the group, so entries held by a dead
	// consumer get redelivered.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]StreamMessage, error)

	// Ack removes messages from the group's pending set.
	Ack(ctx context.Context, stream, group string, ids ...string) error
}
