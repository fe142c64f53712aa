package consume

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
	"github.com/wavey0x/auction-curves-sub001/internal/notify"
)

// AlertHandlers builds the handler set for the operator alert consumer.
// Takes below minQty are ignored to keep channels quiet on dust fills.
func AlertHandlers(notifier *notify.Notifier, minQty float64) map[domain.EventType]Handler {
	return map[domain.EventType]Handler{
		domain.EventAuctionDeployed: deployAlert(notifier),
		domain.EventRoundKicked:     kickAlert(notifier),
		domain.EventTake:            takeAlert(notifier, minQty),
	}
}

type deployPayload struct {
	Auction       string  `json:"auction"`
	Want          string  `json:"want"`
	SchemaVersion string  `json:"schema_version"`
	StartingPrice float64 `json:"starting_price"`
}

type kickPayload struct {
	Auction         string  `json:"auction"`
	FromToken       string  `json:"from_token"`
	InitialQuantity float64 `json:"initial_quantity"`
	ClosesAt        string  `json:"closes_at"`
}

type takePayload struct {
	Auction   string  `json:"auction"`
	FromToken string  `json:"from_token"`
	Taker     string  `json:"taker"`
	QtyIn     float64 `json:"qty_in"`
	QtyOut    float64 `json:"qty_out"`
	Price     float64 `json:"price"`
}

func deployAlert(notifier *notify.Notifier) Handler {
	return func(ctx context.Context, env domain.EventEnvelope) error {
		var p deployPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("consume: decode deploy payload: %w", err)
		}
		msg := fmt.Sprintf("auction %s (schema %s)\nwant token %s\nnetwork %d, block %d",
			p.Auction, p.SchemaVersion, p.Want, env.NetworkID, env.BlockNumber)
		return notifier.Notify(ctx, env.Type, "New auction deployed", msg)
	}
}

func kickAlert(notifier *notify.Notifier) Handler {
	return func(ctx context.Context, env domain.EventEnvelope) error {
		var p kickPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("consume: decode kick payload: %w", err)
		}
		msg := fmt.Sprintf("auction %s\nselling %.6f of %s\ncloses at %s",
			p.Auction, p.InitialQuantity, p.FromToken, p.ClosesAt)
		return notifier.Notify(ctx, env.Type, "Round kicked", msg)
	}
}

func takeAlert(notifier *notify.Notifier, minQty float64) Handler {
	return func(ctx context.Context, env domain.EventEnvelope) error {
		var p takePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("consume: decode take payload: %w", err)
		}
		if p.QtyIn < minQty {
			return nil
		}
		msg := fmt.Sprintf("auction %s\n%s took %.6f %s for %.6f (price %.8f)\ntx %s",
			p.Auction, p.Taker, p.QtyIn, p.FromToken, p.QtyOut, p.Price, env.TxHash)
		return notifier.Notify(ctx, env.Type, "Take executed", msg)
	}
}
