package domain

import (
	"fmt"
	"time"
)

// Take is one execution against a round. Takes are append-only and immutable;
// the (network_id, tx_hash, log_index) triple is the idempotency key that
// makes block-range replays safe.
type Take struct {
	ID             int64
	AuctionAddress string
	NetworkID      int64
	RoundID        int64
	Seq            int64

	Taker     string
	FromToken string
	QtyIn     float64
	QtyOut    float64
	Price     float64

	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Timestamp   time.Time
}

// UniqKey builds the network_id:tx_hash:log_index idempotency key shared by
// takes and their outbox events.
func UniqKey(networkID int64, txHash string, logIndex uint) string {
	return fmt.Sprintf("%d:%s:%d", networkID, txHash, logIndex)
}
