package domain

import "time"

// IngestionCursor records the last fully committed block for one
// (network, source) pair. It advances only inside the same transaction that
// commits the batch's domain and outbox rows, and is owned exclusively by
// that source's ingestion loop.
type IngestionCursor struct {
	NetworkID          int64
	SourceAddress      string
	LastProcessedBlock uint64
	UpdatedAt          time.Time
}
