package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EnvelopeVersion is the wire version stamped on every broker message.
const EnvelopeVersion = "1"

// EventEnvelope is the broker message shape. All top-level fields are
// string-encoded for wire simplicity; Payload carries the event-specific
// fields as a nested JSON blob.
type EventEnvelope struct {
	Type           EventType       `json:"type"`
	NetworkID      int64           `json:"network_id,string"`
	BlockNumber    uint64          `json:"block_number,string"`
	TxHash         string          `json:"tx_hash"`
	LogIndex       uint            `json:"log_index,string"`
	AuctionAddress string          `json:"instance_address"`
	RoundID        int64           `json:"round_id,string,omitempty"`
	FromToken      string          `json:"from_token,omitempty"`
	WantToken      string          `json:"want_token,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	UniqKey        string          `json:"uniq_key"`
	Version        string          `json:"version"`
	Payload        json.RawMessage `json:"payload"`
}

// Values flattens the envelope into the field map appended to a Redis
// stream entry.
func (e EventEnvelope) Values() map[string]interface{} {
	vals := map[string]interface{}{
		"type":             string(e.Type),
		"network_id":       strconv.FormatInt(e.NetworkID, 10),
		"block_number":     strconv.FormatUint(e.BlockNumber, 10),
		"tx_hash":          e.TxHash,
		"log_index":        strconv.FormatUint(uint64(e.LogIndex), 10),
		"instance_address": e.AuctionAddress,
		"timestamp":        e.Timestamp.UTC().Format(time.RFC3339),
		"uniq_key":         e.UniqKey,
		"version":          e.Version,
		"payload":          string(e.Payload),
	}
	if e.RoundID != 0 {
		vals["round_id"] = strconv.FormatInt(e.RoundID, 10)
	}
	if e.FromToken != "" {
		vals["from_token"] = e.FromToken
	}
	if e.WantToken != "" {
		vals["want_token"] = e.WantToken
	}
	return vals
}

// ParseEnvelope rebuilds an envelope from the field map of a consumed stream
// entry. Missing numeric fields parse as zero; a missing type is an error so
// consumers can distinguish malformed entries from unknown event types.
func ParseEnvelope(values map[string]string) (EventEnvelope, error) {
	typ, ok := values["type"]
	if !ok || typ == "" {
		return EventEnvelope{}, fmt.Errorf("domain: stream entry has no type field")
	}

	env := EventEnvelope{
		Type:           EventType(typ),
		TxHash:         values["tx_hash"],
		AuctionAddress: values["instance_address"],
		FromToken:      values["from_token"],
		WantToken:      values["want_token"],
		UniqKey:        values["uniq_key"],
		Version:        values["version"],
		Payload:        json.RawMessage(values["payload"]),
	}
	env.NetworkID, _ = strconv.ParseInt(values["network_id"], 10, 64)
	env.BlockNumber, _ = strconv.ParseUint(values["block_number"], 10, 64)
	if li, err := strconv.ParseUint(values["log_index"], 10, 32); err == nil {
		env.LogIndex = uint(li)
	}
	env.RoundID, _ = strconv.ParseInt(values["round_id"], 10, 64)
	if ts, err := time.Parse(time.RFC3339, values["timestamp"]); err == nil {
		env.Timestamp = ts
	}
	return env, nil
}
