package domain

import "context"

// BlobWriter writes immutable objects to cold storage. Used by the
// dead-letter archiver.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
