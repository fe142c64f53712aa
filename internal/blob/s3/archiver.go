package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// DeadLetterSource is the narrow slice of the outbox store the archiver
// needs: listing dead letters and pruning them once safely uploaded.
type DeadLetterSource interface {
	ListDeadLetters(ctx context.Context, opts domain.ListOpts) ([]domain.DeadLetter, error)
	PruneDeadLettersBefore(ctx context.Context, cutoff time.Time) ([]domain.DeadLetter, error)
}

// Archiver periodically moves aged dead letters from the database into cold
// storage as JSONL. The upload happens before the prune, so a failed upload
// leaves the rows in place for the next cycle.
type Archiver struct {
	writer    domain.BlobWriter
	source    DeadLetterSource
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
}

// NewArchiver creates an Archiver. Dead letters older than retention are
// archived every interval.
func NewArchiver(writer domain.BlobWriter, source DeadLetterSource, retention, interval time.Duration, log *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		source:    source,
		retention: retention,
		interval:  interval,
		log:       log.With("component", "archiver"),
	}
}

// Run archives on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.log.Info("archiver started", "retention", a.retention, "interval", a.interval)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ArchiveOnce(ctx, time.Now().Add(-a.retention))
			if err != nil {
				a.log.Error("archive cycle failed", "error", err)
				continue
			}
			if n > 0 {
				a.log.Info("dead letters archived", "count", n)
			}
		}
	}
}

// ArchiveOnce uploads every dead letter older than cutoff and then prunes
// them. Returns the number of archived rows.
func (a *Archiver) ArchiveOnce(ctx context.Context, cutoff time.Time) (int64, error) {
	letters, err := a.source.ListDeadLetters(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list dead letters: %w", err)
	}

	var aged []domain.DeadLetter
	for _, d := range letters {
		if d.FailureTime.Before(cutoff) {
			aged = append(aged, d)
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal dead letters: %w", err)
	}

	key := archiveKey(cutoff)
	if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload dead letters: %w", err)
	}

	if _, err := a.source.PruneDeadLettersBefore(ctx, cutoff); err != nil {
		// The upload succeeded; the rows will be re-archived next cycle,
		// which only duplicates objects in cold storage.
		return int64(len(aged)), fmt.Errorf("s3blob: prune dead letters: %w", err)
	}
	return int64(len(aged)), nil
}

// archiveKey builds the object key, partitioned by the cutoff date.
//
//	dead_letters/2026-08/2026-08-28T10-00-00Z.jsonl
func archiveKey(cutoff time.Time) string {
	t := cutoff.UTC()
	return fmt.Sprintf("dead_letters/%s/%s.jsonl",
		t.Format("2006-01"), t.Format("2006-01-02T15-04-05Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
