// Package ingest contains the chain ingestion pipeline: schema-versioned log
// decoding, the configured source registry, and the engine that advances each
// source from its cursor to the chain head.
package ingest

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// Event signatures. Legacy deployers emit the bare two-address event; modern
// deployers include the full price-curve configuration in the log data.
// Kick and take events are identical across versions.
const (
	sigDeployLegacy = "DeployedNewAuction(address,address)"
	sigDeployModern = "DeployedNewAuction(address,address,uint256,uint256,uint256,uint256)"
	sigKick         = "AuctionKicked(address,uint256)"
	sigTake         = "AuctionTaken(address,address,uint256,uint256)"
)

var (
	topicDeployLegacy = crypto.Keccak256Hash([]byte(sigDeployLegacy)).Hex()
	topicDeployModern = crypto.Keccak256Hash([]byte(sigDeployModern)).Hex()
	topicKick         = crypto.Keccak256Hash([]byte(sigKick)).Hex()
	topicTake         = crypto.Keccak256Hash([]byte(sigTake)).Hex()
)

// wad is the 1e18 fixed-point scale used for decay rate and starting price
// fields in modern deploy events.
var wad = new(big.Float).SetFloat64(1e18)

// DeployEvent is a decoded "new auction deployed" log.
type DeployEvent struct {
	Auction string
	Want    string

	UpdateInterval uint64
	StepDecayRate  float64
	AuctionLength  uint64
	StartingPrice  float64

	Raw domain.Log
}

// KickEvent is a decoded "round opened" log.
type KickEvent struct {
	Auction      string
	FromToken    string
	AvailableRaw *big.Int

	Raw domain.Log
}

// TakeEvent is a decoded "take executed" log.
type TakeEvent struct {
	Auction        string
	FromToken      string
	Taker          string
	AmountTakenRaw *big.Int
	AmountPaidRaw  *big.Int

	Raw domain.Log
}

// DecodeDeploy decodes a factory deploy log according to the source's schema
// version. Each variant is a pure function of the log; decode failures are
// permanent for that log.
func DecodeDeploy(version domain.SchemaVersion, log domain.Log) (DeployEvent, error) {
	switch version {
	case domain.SchemaLegacy:
		return decodeDeployLegacy(log)
	case domain.SchemaModern:
		return decodeDeployModern(log)
	default:
		return DeployEvent{}, fmt.Errorf("ingest: schema version %q: %w", version, domain.ErrUnknownEvent)
	}
}

// decodeDeployLegacy handles the legacy layout: both addresses in the data
// section, no configuration fields. Price-curve parameters take the legacy
// contract constants.
func decodeDeployLegacy(log domain.Log) (DeployEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != topicDeployLegacy {
		return DeployEvent{}, fmt.Errorf("ingest: not a legacy deploy log: %w", domain.ErrUnknownEvent)
	}
	if len(log.Data) != 64 {
		return DeployEvent{}, fmt.Errorf("ingest: legacy deploy data is %d bytes, want 64: %w", len(log.Data), domain.ErrMalformedLog)
	}

	return DeployEvent{
		Auction:        wordToAddress(log.Data[0:32]),
		Want:           wordToAddress(log.Data[32:64]),
		UpdateInterval: domain.LegacyUpdateInterval,
		StepDecayRate:  domain.LegacyStepDecayRate,
		AuctionLength:  domain.LegacyAuctionLength,
		StartingPrice:  1_000_000,
		Raw:            log,
	}, nil
}

// decodeDeployModern handles the modern layout: auction and want indexed,
// followed by updateInterval, stepDecayRate (1e18 scale), auctionLength, and
// startingPrice (1e18 scale) in the data section.
func decodeDeployModern(log domain.Log) (DeployEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != topicDeployModern {
		return DeployEvent{}, fmt.Errorf("ingest: not a modern deploy log: %w", domain.ErrUnknownEvent)
	}
	if len(log.Data) != 128 {
		return DeployEvent{}, fmt.Errorf("ingest: modern deploy data is %d bytes, want 128: %w", len(log.Data), domain.ErrMalformedLog)
	}

	return DeployEvent{
		Auction:        topicToAddress(log.Topics[1]),
		Want:           topicToAddress(log.Topics[2]),
		UpdateInterval: new(big.Int).SetBytes(log.Data[0:32]).Uint64(),
		StepDecayRate:  wadToFloat(new(big.Int).SetBytes(log.Data[32:64])),
		AuctionLength:  new(big.Int).SetBytes(log.Data[64:96]).Uint64(),
		StartingPrice:  wadToFloat(new(big.Int).SetBytes(log.Data[96:128])),
		Raw:            log,
	}, nil
}

// DecodeAuctionLog decodes a kick or take log emitted by a known auction
// contract. The returned value is a KickEvent or a TakeEvent.
// domain.ErrUnknownEvent marks signatures the indexer does not track.
func DecodeAuctionLog(log domain.Log) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("ingest: log without topics: %w", domain.ErrMalformedLog)
	}

	switch log.Topics[0] {
	case topicKick:
		if len(log.Topics) != 2 {
			return nil, fmt.Errorf("ingest: kick log has %d topics, want 2: %w", len(log.Topics), domain.ErrMalformedLog)
		}
		if len(log.Data) != 32 {
			return nil, fmt.Errorf("ingest: kick data is %d bytes, want 32: %w", len(log.Data), domain.ErrMalformedLog)
		}
		return KickEvent{
			Auction:      log.Address,
			FromToken:    topicToAddress(log.Topics[1]),
			AvailableRaw: new(big.Int).SetBytes(log.Data),
			Raw:          log,
		}, nil

	case topicTake:
		if len(log.Topics) != 3 {
			return nil, fmt.Errorf("ingest: take log has %d topics, want 3: %w", len(log.Topics), domain.ErrMalformedLog)
		}
		if len(log.Data) != 64 {
			return nil, fmt.Errorf("ingest: take data is %d bytes, want 64: %w", len(log.Data), domain.ErrMalformedLog)
		}
		return TakeEvent{
			Auction:        log.Address,
			FromToken:      topicToAddress(log.Topics[1]),
			Taker:          topicToAddress(log.Topics[2]),
			AmountTakenRaw: new(big.Int).SetBytes(log.Data[0:32]),
			AmountPaidRaw:  new(big.Int).SetBytes(log.Data[32:64]),
			Raw:            log,
		}, nil
	}

	return nil, fmt.Errorf("ingest: topic %s: %w", log.Topics[0], domain.ErrUnknownEvent)
}

// DeployTopic returns the deploy event topic for a schema version, used to
// pre-filter factory logs.
func DeployTopic(version domain.SchemaVersion) string {
	if version == domain.SchemaModern {
		return topicDeployModern
	}
	return topicDeployLegacy
}

// ToQuantity converts a raw integer token amount to a decimal quantity using
// the token's decimal configuration.
func ToQuantity(raw *big.Int, decimals uint8) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	q, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return q
}

func wadToFloat(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), wad).Float64()
	return f
}

func topicToAddress(topic string) string {
	return strings.ToLower(common.HexToAddress(topic).Hex())
}

func wordToAddress(word []byte) string {
	return strings.ToLower(common.BytesToAddress(word[12:]).Hex())
}
