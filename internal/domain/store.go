package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// IngestBatch is everything the engine accepted from one scanned block range
// of one source. The batch writer applies it in a single transaction: domain
// rows, outbox rows, and the cursor advance commit or roll back together.
type IngestBatch struct {
	NetworkID     int64
	SourceAddress string
	FromBlock     uint64
	ToBlock       uint64

	Auctions []Auction
	Rounds   []Round
	Takes    []Take
	Events   []OutboxEvent
}

// Empty reports whether the batch carries no domain rows. An empty batch
// still advances the cursor.
func (b IngestBatch) Empty() bool {
	return len(b.Auctions) == 0 && len(b.Rounds) == 0 && len(b.Takes) == 0
}

// BatchWriter atomically applies an ingest batch. Idempotency is enforced by
// the stores' unique constraints, not by application-level checks: replaying
// a committed range must be a complete no-op.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, batch IngestBatch) error
}

// AuctionStore persists discovered auctions.
type AuctionStore interface {
	GetByAddress(ctx context.Context, networkID int64, address string) (Auction, error)
	ListByNetwork(ctx context.Context, networkID int64) ([]Auction, error)
	Count(ctx context.Context) (int64, error)
}

// RoundStore persists auction rounds.
type RoundStore interface {
	Get(ctx context.Context, networkID int64, auction string, roundID int64) (Round, error)
	// Latest returns the most recently kicked round of an auction for one
	// from token. Rounds for different from tokens can be open at the same
	// time, so the token is part of the lookup key.
	Latest(ctx context.Context, networkID int64, auction, fromToken string) (Round, error)
	// ListActive returns rounds with closes_at > now and remaining > 0.
	// Activity is evaluated in the query; no stored flag exists.
	ListActive(ctx context.Context, networkID int64, now time.Time) ([]Round, error)
	// SetRemaining overwrites remaining_quantity from a ledger
	// reconciliation read. Values are clamped at zero.
	SetRemaining(ctx context.Context, networkID int64, auction string, roundID int64, remaining float64) error
}

// TakeStore reads persisted takes. Writes go through the BatchWriter only.
type TakeStore interface {
	ListByRound(ctx context.Context, networkID int64, auction string, roundID int64) ([]Take, error)
	ListByTaker(ctx context.Context, taker string, opts ListOpts) ([]Take, error)
	CountByNetwork(ctx context.Context, networkID int64) (int64, error)
}

// CursorStore reads ingestion cursors. The cursor is advanced only through
// BatchWriter.ApplyBatch; no other component mutates it.
type CursorStore interface {
	// Get returns the cursor for a source. ok is false when the source has
	// never committed a batch, in which case scanning starts at the
	// source's start block.
	Get(ctx context.Context, networkID int64, source string) (cursor IngestionCursor, ok bool, err error)
}

// OutboxStore drains and inspects the transactional outbox.
type OutboxStore interface {
	// RelayPending claims up to limit unpublished rows in id order, skipping
	// rows locked by concurrent relay instances, and invokes decide for
	// each. Each row's outcome commits independently: published rows get
	// published_at, failed rows get retries+1 and last_error, dead-lettered
	// rows get a dead_letters copy and published_at. A failing row never
	// blocks or rolls back its siblings.
	RelayPending(ctx context.Context, limit int, decide RelayFunc) (RelayStats, error)

	CountPending(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]DeadLetter, error)
	// PruneDeadLettersBefore removes dead-letter copies older than the given
	// time and returns them, so the archiver can export before deletion.
	// Outbox rows themselves are never deleted.
	PruneDeadLettersBefore(ctx context.Context, before time.Time) ([]DeadLetter, error)
}
