package domain

import (
	"context"
	"math/big"
	"time"
)

// Log is a raw, un-decoded contract event log. It mirrors the fields of an
// EVM log without tying the domain package to a specific chain driver.
type Log struct {
	Address     string
	Topics      []string
	Data        []byte
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

// ChainClient provides read-only access to one network's ledger. Chain reads
// are the only inbound suspension points of the ingestion engine; failures
// are transient and retried with the cursor unchanged.
type ChainClient interface {
	// NetworkID identifies the chain this client is connected to.
	NetworkID() int64

	// HeadBlock returns the current chain head.
	HeadBlock(ctx context.Context) (uint64, error)

	// FilterLogs returns all logs emitted by the given addresses in the
	// inclusive block range [from, to].
	FilterLogs(ctx context.Context, from, to uint64, addresses []string) ([]Log, error)

	// BlockTime returns the timestamp of the given block.
	BlockTime(ctx context.Context, block uint64) (time.Time, error)

	// TokenDecimals reads the ERC-20 decimals of a token contract.
	TokenDecimals(ctx context.Context, token string) (uint8, error)

	// AuctionAvailable reads the auction's current available quantity for a
	// from-token, in raw token units. Used to reconcile remaining_quantity.
	AuctionAvailable(ctx context.Context, auction, fromToken string) (*big.Int, error)
}
