package domain

import "time"

// Round is one kicked activity period of an auction. RemainingQuantity is
// decremented by each take (floored at zero) and may additionally be
// reconciled against the contract's available() view to correct drift.
type Round struct {
	AuctionAddress string
	NetworkID      int64
	RoundID        int64
	FromToken      string

	OpenedAt time.Time
	ClosesAt time.Time

	InitialQuantity   float64
	RemainingQuantity float64
	VolumeFilled      float64

	KickBlock    uint64
	KickTxHash   string
	KickLogIndex uint
}

// IsActive reports whether the round is open at the given instant. Activity
// is always derived; it is never stored as a flag.
func (r Round) IsActive(now time.Time) bool {
	return r.ClosesAt.After(now) && r.RemainingQuantity > 0
}
