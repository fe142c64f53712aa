package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// OutboxStore implements domain.OutboxStore using PostgreSQL. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent relay instances divide the pending
// queue between them without coordination.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore creates a new OutboxStore backed by the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// RelayPending claims up to limit unpublished events in insertion order and
// invokes decide for each. Every row is claimed, decided, and committed in
// its own transaction, so one failing row never holds up or rolls back its
// siblings, and a row's lock is held only for the duration of its own
// publish attempt:
//
//   - Published: published_at is set, the row leaves the queue.
//   - DeadLettered: a dead_letters row is written and published_at is set so
//     the event stops blocking the queue.
//   - Err: retries is incremented and last_error recorded; the row stays
//     pending and will be claimed again next cycle.
func (s *OutboxStore) RelayPending(ctx context.Context, limit int, decide domain.RelayFunc) (domain.RelayStats, error) {
	var stats domain.RelayStats

	// afterID walks forward through the pending set within the cycle so a
	// row whose outcome was Err (still pending after its commit) is not
	// immediately re-claimed in the same cycle.
	var afterID int64
	for stats.Claimed < limit {
		id, claimed, err := s.relayOne(ctx, afterID, decide, &stats)
		if err != nil {
			return stats, err
		}
		if !claimed {
			break
		}
		afterID = id
	}
	return stats, nil
}

// relayOne claims the next pending row after afterID, applies its outcome,
// and commits. claimed is false when no unlocked pending row remains.
func (s *OutboxStore) relayOne(ctx context.Context, afterID int64, decide domain.RelayFunc, stats *domain.RelayStats) (int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("postgres: begin relay: %w", err)
	}
	defer tx.Rollback(ctx)

	var ev domain.OutboxEvent
	var evType string
	err = tx.QueryRow(ctx, `
		SELECT id, type, network_id, block_number, tx_hash, log_index,
		       payload, uniq_key, retries, last_error, created_at
		FROM outbox_events
		WHERE published_at IS NULL AND id > $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		afterID,
	).Scan(
		&ev.ID, &evType, &ev.NetworkID, &ev.BlockNumber, &ev.TxHash,
		&ev.LogIndex, &ev.Payload, &ev.UniqKey, &ev.Retries, &ev.LastError,
		&ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: claim outbox event: %w", err)
	}
	ev.Type = domain.EventType(evType)
	stats.Claimed++

	res := decide(ctx, ev)
	switch {
	case res.DeadLettered:
		if err := s.deadLetter(ctx, tx, ev, res.Err); err != nil {
			return ev.ID, true, err
		}
		stats.DeadLettered++
	case res.Published:
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_events SET published_at = NOW() WHERE id = $1`,
			ev.ID,
		); err != nil {
			return ev.ID, true, fmt.Errorf("postgres: mark published %d: %w", ev.ID, err)
		}
		stats.Published++
	default:
		msg := "publish failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_events SET retries = retries + 1, last_error = $2 WHERE id = $1`,
			ev.ID, msg,
		); err != nil {
			return ev.ID, true, fmt.Errorf("postgres: mark failed %d: %w", ev.ID, err)
		}
		stats.Failed++
	}

	if err := tx.Commit(ctx); err != nil {
		return ev.ID, true, fmt.Errorf("postgres: commit relay row %d: %w", ev.ID, err)
	}
	return ev.ID, true, nil
}

func (s *OutboxStore) deadLetter(ctx context.Context, tx pgx.Tx, ev domain.OutboxEvent, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO dead_letters (uniq_key, original_event, retries, last_error)
		VALUES ($1, $2, $3, $4)`,
		ev.UniqKey, ev.Payload, ev.Retries, msg,
	); err != nil {
		return fmt.Errorf("postgres: insert dead letter %d: %w", ev.ID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE outbox_events SET published_at = NOW(), last_error = $2 WHERE id = $1`,
		ev.ID, msg,
	); err != nil {
		return fmt.Errorf("postgres: retire dead letter %d: %w", ev.ID, err)
	}
	return nil
}

// CountPending returns the number of events waiting to be relayed.
func (s *OutboxStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending: %w", err)
	}
	return n, nil
}

// DeadLetterCount returns the number of dead-lettered events.
func (s *OutboxStore) DeadLetterCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count dead letters: %w", err)
	}
	return n, nil
}

// ListDeadLetters returns dead letters, oldest first.
func (s *OutboxStore) ListDeadLetters(ctx context.Context, opts domain.ListOpts) ([]domain.DeadLetter, error) {
	query := `SELECT id, uniq_key, original_event, failure_time, retries, last_error
		FROM dead_letters ORDER BY id`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	letters, err := scanDeadLetters(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dead letters: %w", err)
	}
	return letters, nil
}

func scanDeadLetters(rows pgx.Rows) ([]domain.DeadLetter, error) {
	var letters []domain.DeadLetter
	for rows.Next() {
		var d domain.DeadLetter
		if err := rows.Scan(
			&d.ID, &d.UniqKey, &d.OriginalEvent, &d.FailureTime,
			&d.Retries, &d.LastError,
		); err != nil {
			return nil, err
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// PruneDeadLettersBefore deletes dead letters created before cutoff and
// returns the deleted rows so callers can archive them first.
func (s *OutboxStore) PruneDeadLettersBefore(ctx context.Context, cutoff time.Time) ([]domain.DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM dead_letters WHERE failure_time < $1
		RETURNING id, uniq_key, original_event, failure_time, retries, last_error`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: prune dead letters: %w", err)
	}
	defer rows.Close()

	letters, err := scanDeadLetters(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pruned dead letters: %w", err)
	}
	return letters, nil
}

// Compile-time interface check.
var _ domain.OutboxStore = (*OutboxStore)(nil)
