package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `auction_address, network_id, round_id, from_token,
	opened_at, closes_at, initial_quantity, remaining_quantity, volume_filled,
	kick_block, kick_tx_hash, kick_log_index`

func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	err := row.Scan(
		&r.AuctionAddress, &r.NetworkID, &r.RoundID, &r.FromToken,
		&r.OpenedAt, &r.ClosesAt, &r.InitialQuantity, &r.RemainingQuantity,
		&r.VolumeFilled, &r.KickBlock, &r.KickTxHash, &r.KickLogIndex,
	)
	return r, err
}

// Get returns one round, or domain.ErrNotFound.
func (s *RoundStore) Get(ctx context.Context, networkID int64, auction string, roundID int64) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE network_id = $1 AND auction_address = $2 AND round_id = $3`,
		networkID, strings.ToLower(auction), roundID,
	)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: get round: %w", err)
	}
	return r, nil
}

// Latest returns the most recently kicked round of an auction for the given
// from token, or domain.ErrNotFound if that token has never been kicked.
func (s *RoundStore) Latest(ctx context.Context, networkID int64, auction, fromToken string) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE network_id = $1 AND auction_address = $2 AND from_token = $3
		 ORDER BY round_id DESC LIMIT 1`,
		networkID, strings.ToLower(auction), strings.ToLower(fromToken),
	)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: latest round: %w", err)
	}
	return r, nil
}

// ListActive returns rounds that are open at the given instant. Activity is
// evaluated in the query from closes_at and remaining_quantity; there is no
// stored flag to drift out of date.
func (s *RoundStore) ListActive(ctx context.Context, networkID int64, now time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE network_id = $1 AND closes_at > $2 AND remaining_quantity > 0
		 ORDER BY auction_address, round_id`,
		networkID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// SetRemaining overwrites remaining_quantity from a reconciliation read,
// clamped at zero.
func (s *RoundStore) SetRemaining(ctx context.Context, networkID int64, auction string, roundID int64, remaining float64) error {
	if remaining < 0 {
		remaining = 0
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET remaining_quantity = $4
		 WHERE network_id = $1 AND auction_address = $2 AND round_id = $3`,
		networkID, strings.ToLower(auction), roundID, remaining,
	)
	if err != nil {
		return fmt.Errorf("postgres: set remaining: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
