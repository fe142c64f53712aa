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

// CursorStore implements domain.CursorStore using PostgreSQL. Cursors are
// advanced only inside the batch writer's transaction; this store reads.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Get returns the cursor for one source. ok is false when the source has
// never committed a batch.
func (s *CursorStore) Get(ctx context.Context, networkID int64, source string) (domain.IngestionCursor, bool, error) {
	var c domain.IngestionCursor
	err := s.pool.QueryRow(ctx,
		`SELECT network_id, source_address, last_processed_block, updated_at
		 FROM ingestion_cursors
		 WHERE network_id = $1 AND source_address = $2`,
		networkID, strings.ToLower(source),
	).Scan(&c.NetworkID, &c.SourceAddress, &c.LastProcessedBlock, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IngestionCursor{}, false, nil
	}
	if err != nil {
		return domain.IngestionCursor{}, false, fmt.Errorf("postgres: get cursor: %w", err)
	}
	return c, true, nil
}

// Compile-time interface check.
var _ domain.CursorStore = (*CursorStore)(nil)
