package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

type fakeSource struct {
	letters []domain.DeadLetter
	pruned  *time.Time
}

func (s *fakeSource) ListDeadLetters(ctx context.Context, opts domain.ListOpts) ([]domain.DeadLetter, error) {
	return s.letters, nil
}

func (s *fakeSource) PruneDeadLettersBefore(ctx context.Context, cutoff time.Time) ([]domain.DeadLetter, error) {
	s.pruned = &cutoff
	var kept, removed []domain.DeadLetter
	for _, d := range s.letters {
		if d.FailureTime.Before(cutoff) {
			removed = append(removed, d)
		} else {
			kept = append(kept, d)
		}
	}
	s.letters = kept
	return removed, nil
}

type fakeWriter struct {
	key  string
	data []byte
	err  error
}

func (w *fakeWriter) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if w.err != nil {
		return w.err
	}
	w.key = key
	w.data = data
	return nil
}

func letter(id int64, age time.Duration) domain.DeadLetter {
	return domain.DeadLetter{
		ID:            id,
		UniqKey:       "1:0xabc:0",
		OriginalEvent: json.RawMessage(`{"type":"take"}`),
		FailureTime:   time.Now().Add(-age),
		Retries:       5,
		LastError:     "connection refused",
	}
}

func testArchiver(src *fakeSource, w *fakeWriter) *Archiver {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(w, src, 24*time.Hour, time.Hour, log)
}

func TestArchiveOnceUploadsAndPrunes(t *testing.T) {
	src := &fakeSource{letters: []domain.DeadLetter{
		letter(1, 48*time.Hour),
		letter(2, 30*time.Hour),
		letter(3, time.Hour),
	}}
	w := &fakeWriter{}

	n, err := testArchiver(src, w).ArchiveOnce(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}
	if src.pruned == nil {
		t.Fatal("prune was not called")
	}
	if len(src.letters) != 1 {
		t.Fatalf("%d letters left in store, want 1", len(src.letters))
	}
	if lines := bytes.Count(w.data, []byte("\n")); lines != 2 {
		t.Fatalf("uploaded %d JSONL lines, want 2", lines)
	}
}

func TestArchiveOnceNothingAged(t *testing.T) {
	src := &fakeSource{letters: []domain.DeadLetter{letter(1, time.Minute)}}
	w := &fakeWriter{}

	n, err := testArchiver(src, w).ArchiveOnce(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived %d, want 0", n)
	}
	if w.key != "" {
		t.Fatal("nothing should be uploaded")
	}
	if src.pruned != nil {
		t.Fatal("nothing should be pruned")
	}
}

func TestArchiveOnceUploadFailureKeepsRows(t *testing.T) {
	src := &fakeSource{letters: []domain.DeadLetter{letter(1, 48 * time.Hour)}}
	w := &fakeWriter{err: errors.New("bucket unreachable")}

	_, err := testArchiver(src, w).ArchiveOnce(context.Background(), time.Now().Add(-24*time.Hour))
	if err == nil {
		t.Fatal("expected upload error")
	}
	if src.pruned != nil {
		t.Fatal("rows must not be pruned when the upload fails")
	}
	if len(src.letters) != 1 {
		t.Fatal("rows must survive a failed upload")
	}
}
