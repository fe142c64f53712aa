package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// BatchWriter implements domain.BatchWriter using PostgreSQL. One ingest
// batch is one transaction: auction/round/take rows, their outbox rows, and
// the cursor advance commit together or not at all. Every insert is
// conflict-ignored on its unique constraint, so replaying an already
// committed range is a no-op.
type BatchWriter struct {
	pool *pgxpool.Pool
}

// NewBatchWriter creates a new BatchWriter backed by the given pool.
func NewBatchWriter(pool *pgxpool.Pool) *BatchWriter {
	return &BatchWriter{pool: pool}
}

// ApplyBatch applies one scanned block range atomically.
func (w *BatchWriter) ApplyBatch(ctx context.Context, batch domain.IngestBatch) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range batch.Auctions {
		if err := insertAuction(ctx, tx, a); err != nil {
			return err
		}
	}
	for _, r := range batch.Rounds {
		if err := insertRound(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, t := range batch.Takes {
		if err := insertTake(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, ev := range batch.Events {
		if err := insertOutboxEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := advanceCursor(ctx, tx, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	return nil
}

func insertAuction(ctx context.Context, tx pgx.Tx, a domain.Auction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auctions (
			address, network_id, source_address, version, want_token,
			want_decimals, update_interval, step_decay_rate, auction_length,
			starting_price, deploy_block, deploy_tx_hash, discovered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (address, network_id) DO NOTHING`,
		strings.ToLower(a.Address), a.NetworkID, strings.ToLower(a.SourceAddress),
		string(a.Version), strings.ToLower(a.WantToken), a.WantDecimals,
		a.UpdateInterval, a.StepDecayRate, a.AuctionLength, a.StartingPrice,
		a.DeployBlock, a.DeployTxHash, a.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert auction %s: %w", a.Address, err)
	}
	return nil
}

// insertRound assigns round_id inside the transaction: the next number after
// the auction's current maximum. The kick-log unique index turns replays
// into no-ops before the counter is consumed, so re-scanned ranges produce
// identical rows.
func insertRound(ctx context.Context, tx pgx.Tx, r domain.Round) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO rounds (
			auction_address, network_id, round_id, from_token, opened_at,
			closes_at, initial_quantity, remaining_quantity, volume_filled,
			kick_block, kick_tx_hash, kick_log_index
		)
		SELECT $1, $2, COALESCE(MAX(round_id), 0) + 1, $3, $4, $5, $6, $7, 0, $8, $9, $10
		FROM rounds WHERE auction_address = $1 AND network_id = $2
		ON CONFLICT (network_id, kick_tx_hash, kick_log_index) DO NOTHING`,
		strings.ToLower(r.AuctionAddress), r.NetworkID, strings.ToLower(r.FromToken),
		r.OpenedAt, r.ClosesAt, r.InitialQuantity, r.RemainingQuantity,
		r.KickBlock, r.KickTxHash, r.KickLogIndex,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round for %s: %w", r.AuctionAddress, err)
	}
	return nil
}

// insertTake associates the take with the newest round of its from token
// kicked at or before the take's block and assigns the next seq within that
// round. Rounds for different from tokens can be open concurrently, so the
// token is part of the lookup. Round aggregates (volume up, remaining down,
// floored at zero) are applied only when the row is genuinely new. A take
// with no observed kick is dropped since there is no round to attach it to.
func insertTake(ctx context.Context, tx pgx.Tx, t domain.Take) error {
	auction := strings.ToLower(t.AuctionAddress)

	var roundID int64
	err := tx.QueryRow(ctx, `
		WITH r AS (
			SELECT round_id FROM rounds
			WHERE auction_address = $1 AND network_id = $2
			  AND from_token = $5 AND kick_block <= $3
			ORDER BY round_id DESC LIMIT 1
		)
		INSERT INTO takes (
			auction_address, network_id, round_id, seq, taker, from_token,
			qty_in, qty_out, price, block_number, tx_hash, log_index, ts
		)
		SELECT $1, $2, r.round_id,
			COALESCE((
				SELECT MAX(seq) FROM takes
				WHERE auction_address = $1 AND network_id = $2 AND round_id = r.round_id
			), 0) + 1,
			$4, $5, $6, $7, $8, $3, $9, $10, $11
		FROM r
		ON CONFLICT (network_id, tx_hash, log_index) DO NOTHING
		RETURNING round_id`,
		auction, t.NetworkID, t.BlockNumber, strings.ToLower(t.Taker),
		strings.ToLower(t.FromToken), t.QtyIn, t.QtyOut, t.Price,
		t.TxHash, t.LogIndex, t.Timestamp,
	).Scan(&roundID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate (rescan) or no round to attach to; either way no
		// aggregates to touch.
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: insert take %s:%d: %w", t.TxHash, t.LogIndex, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE rounds
		SET volume_filled = volume_filled + $4,
		    remaining_quantity = GREATEST(remaining_quantity - $4, 0)
		WHERE auction_address = $1 AND network_id = $2 AND round_id = $3`,
		auction, t.NetworkID, roundID, t.QtyIn,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply take aggregates %s:%d: %w", t.TxHash, t.LogIndex, err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, ev domain.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (
			type, network_id, block_number, tx_hash, log_index, payload, uniq_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uniq_key) DO NOTHING`,
		string(ev.Type), ev.NetworkID, ev.BlockNumber, ev.TxHash, ev.LogIndex,
		ev.Payload, ev.UniqKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outbox event %s: %w", ev.UniqKey, err)
	}
	return nil
}

func advanceCursor(ctx context.Context, tx pgx.Tx, batch domain.IngestBatch) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ingestion_cursors (network_id, source_address, last_processed_block, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (network_id, source_address) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = NOW()`,
		batch.NetworkID, strings.ToLower(batch.SourceAddress), batch.ToBlock,
	)
	if err != nil {
		return fmt.Errorf("postgres: advance cursor %s: %w", batch.SourceAddress, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BatchWriter = (*BatchWriter)(nil)
