package domain

import "time"

// Default parameters applied to auctions discovered through legacy deployers,
// whose deploy event carries no configuration fields.
const (
	LegacyUpdateInterval = 36
	LegacyStepDecayRate  = 0.005
	LegacyAuctionLength  = 86400
)

// Auction is one discovered auction contract. Parameters are immutable
// contract configuration cached at discovery time so price and quantity
// calculations never need a chain round-trip.
type Auction struct {
	Address       string
	NetworkID     int64
	SourceAddress string
	Version       SchemaVersion
	WantToken     string
	WantDecimals  uint8

	// Price curve configuration. Legacy deploys use the package defaults.
	UpdateInterval uint64
	StepDecayRate  float64
	AuctionLength  uint64
	StartingPrice  float64

	DeployBlock  uint64
	DeployTxHash string
	DiscoveredAt time.Time
}
