package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// TakeStore implements domain.TakeStore using PostgreSQL. Takes are written
// only by the batch writer; this store is read-only.
type TakeStore struct {
	pool *pgxpool.Pool
}

// NewTakeStore creates a new TakeStore backed by the given pool.
func NewTakeStore(pool *pgxpool.Pool) *TakeStore {
	return &TakeStore{pool: pool}
}

const takeSelectCols = `id, auction_address, network_id, round_id, seq, taker,
	from_token, qty_in, qty_out, price, block_number, tx_hash, log_index, ts`

func scanTakeRows(rows pgx.Rows) ([]domain.Take, error) {
	var takes []domain.Take
	for rows.Next() {
		var t domain.Take
		if err := rows.Scan(
			&t.ID, &t.AuctionAddress, &t.NetworkID, &t.RoundID, &t.Seq,
			&t.Taker, &t.FromToken, &t.QtyIn, &t.QtyOut, &t.Price,
			&t.BlockNumber, &t.TxHash, &t.LogIndex, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		takes = append(takes, t)
	}
	return takes, rows.Err()
}

// ListByRound returns the takes of one round in execution order.
func (s *TakeStore) ListByRound(ctx context.Context, networkID int64, auction string, roundID int64) ([]domain.Take, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+takeSelectCols+` FROM takes
		 WHERE network_id = $1 AND auction_address = $2 AND round_id = $3
		 ORDER BY seq`,
		networkID, strings.ToLower(auction), roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list takes by round: %w", err)
	}
	defer rows.Close()

	takes, err := scanTakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan takes: %w", err)
	}
	return takes, nil
}

// ListByTaker returns a taker's executions, newest first.
func (s *TakeStore) ListByTaker(ctx context.Context, taker string, opts domain.ListOpts) ([]domain.Take, error) {
	query := `SELECT ` + takeSelectCols + ` FROM takes WHERE taker = $1 ORDER BY ts DESC`
	args := []any{strings.ToLower(taker)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list takes by taker: %w", err)
	}
	defer rows.Close()

	takes, err := scanTakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan takes: %w", err)
	}
	return takes, nil
}

// CountByNetwork returns the number of takes recorded for one network.
func (s *TakeStore) CountByNetwork(ctx context.Context, networkID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM takes WHERE network_id = $1`, networkID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count takes: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TakeStore = (*TakeStore)(nil)
