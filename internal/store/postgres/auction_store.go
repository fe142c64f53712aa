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

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `address, network_id, source_address, version, want_token,
	want_decimals, update_interval, step_decay_rate, auction_length,
	starting_price, deploy_block, deploy_tx_hash, discovered_at`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var version string
	err := row.Scan(
		&a.Address, &a.NetworkID, &a.SourceAddress, &version, &a.WantToken,
		&a.WantDecimals, &a.UpdateInterval, &a.StepDecayRate, &a.AuctionLength,
		&a.StartingPrice, &a.DeployBlock, &a.DeployTxHash, &a.DiscoveredAt,
	)
	a.Version = domain.SchemaVersion(version)
	return a, err
}

// GetByAddress returns one auction, or domain.ErrNotFound.
func (s *AuctionStore) GetByAddress(ctx context.Context, networkID int64, address string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE network_id = $1 AND address = $2`,
		networkID, strings.ToLower(address),
	)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction: %w", err)
	}
	return a, nil
}

// ListByNetwork returns every discovered auction on a network.
func (s *AuctionStore) ListByNetwork(ctx context.Context, networkID int64) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE network_id = $1 ORDER BY deploy_block`,
		networkID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// Count returns the total number of discovered auctions.
func (s *AuctionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count auctions: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
