package consume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// fakeBus holds a consumer's unacknowledged backlog and a set of entries
// claimable from other consumers; Ack removes entries from the backlog the
// way XACK removes them from the pending list.
type fakeBus struct {
	backlog   []domain.StreamMessage
	claimable []domain.StreamMessage
	acked     map[string]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{acked: map[string]bool{}}
}

func (b *fakeBus) Append(ctx context.Context, stream string, values map[string]interface{}) error {
	return nil
}
func (b *fakeBus) EnsureGroup(ctx context.Context, stream, group string) error { return nil }
func (b *fakeBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	return nil, nil
}
func (b *fakeBus) ReadBacklog(ctx context.Context, stream, group, consumer string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.backlog {
		if !b.acked[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}
func (b *fakeBus) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]domain.StreamMessage, error) {
	out := b.claimable
	b.claimable = nil
	return out, nil
}
func (b *fakeBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	for _, id := range ids {
		b.acked[id] = true
	}
	return nil
}

func testConsumer(handlers map[domain.EventType]Handler) *Consumer {
	return testConsumerBus(newFakeBus(), handlers)
}

func testConsumerBus(bus *fakeBus, handlers map[domain.EventType]Handler) *Consumer {
	cfg := Config{Stream: domain.StreamEvents, Group: "alerts", Name: "alerts-1", BatchSize: 32, Block: time.Second}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(bus, cfg, handlers, log)
}

func streamEntry(t *testing.T, env domain.EventEnvelope) domain.StreamMessage {
	t.Helper()
	raw := env.Values()
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			t.Fatalf("value %q is %T, want string", k, v)
		}
		values[k] = s
	}
	return domain.StreamMessage{ID: "1-0", Values: values}
}

func takeEnvelope() domain.EventEnvelope {
	return domain.EventEnvelope{
		Type:           domain.EventTake,
		NetworkID:      1,
		BlockNumber:    42,
		TxHash:         "0xdead",
		LogIndex:       1,
		AuctionAddress: "0xauction",
		FromToken:      "0xfrom",
		WantToken:      "0xwant",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		UniqKey:        "1:0xdead:1",
		Version:        domain.EnvelopeVersion,
		Payload:        json.RawMessage(`{"qty_in":5}`),
	}
}

func TestProcessDispatchesToHandler(t *testing.T) {
	var got domain.EventEnvelope
	c := testConsumer(map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			got = env
			return nil
		},
	})

	env := takeEnvelope()
	if !c.process(context.Background(), streamEntry(t, env)) {
		t.Fatal("expected successful entry to be acked")
	}
	if got.UniqKey != env.UniqKey {
		t.Fatalf("handler saw uniq_key %q, want %q", got.UniqKey, env.UniqKey)
	}
	if got.NetworkID != env.NetworkID || got.BlockNumber != env.BlockNumber {
		t.Fatalf("envelope fields lost in transit: %+v", got)
	}
}

func TestProcessHandlerErrorLeavesUnacked(t *testing.T) {
	c := testConsumer(map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			return errors.New("sink unavailable")
		},
	})

	if c.process(context.Background(), streamEntry(t, takeEnvelope())) {
		t.Fatal("failed handler must leave the entry unacked for redelivery")
	}
}

func TestProcessAcksUnknownType(t *testing.T) {
	called := false
	c := testConsumer(map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			called = true
			return nil
		},
	})

	env := takeEnvelope()
	env.Type = domain.EventType("price_updated")
	if !c.process(context.Background(), streamEntry(t, env)) {
		t.Fatal("unknown type should be acked")
	}
	if called {
		t.Fatal("handler for another type must not run")
	}
}

func TestProcessAcksMalformedEntry(t *testing.T) {
	c := testConsumer(nil)
	msg := domain.StreamMessage{ID: "2-0", Values: map[string]string{"garbage": "x"}}
	if !c.process(context.Background(), msg) {
		t.Fatal("malformed entry should be acked, not redelivered forever")
	}
}

func TestEnvelopeSurvivesStreamTransit(t *testing.T) {
	env := takeEnvelope()
	entry := streamEntry(t, env)

	parsed, err := domain.ParseEnvelope(entry.Values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Type != env.Type ||
		parsed.NetworkID != env.NetworkID ||
		parsed.BlockNumber != env.BlockNumber ||
		parsed.LogIndex != env.LogIndex ||
		parsed.AuctionAddress != env.AuctionAddress ||
		parsed.UniqKey != env.UniqKey {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", parsed, env)
	}
	if !parsed.Timestamp.Equal(env.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", parsed.Timestamp, env.Timestamp)
	}
	if fmt.Sprint(parsed.Payload) == "" {
		t.Fatal("payload lost")
	}
}

func TestDrainBacklogReprocessesUnacked(t *testing.T) {
	first := streamEntry(t, takeEnvelope())
	second := streamEntry(t, takeEnvelope())
	second.ID = "2-0"

	bus := newFakeBus()
	bus.backlog = []domain.StreamMessage{first, second}

	var seen []string
	c := testConsumerBus(bus, map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			seen = append(seen, env.UniqKey)
			return nil
		},
	})

	if err := c.drainBacklog(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("handler ran %d times, want 2", len(seen))
	}
	if !bus.acked[first.ID] || !bus.acked[second.ID] {
		t.Fatalf("backlog entries not acked: %v", bus.acked)
	}
}

func TestDrainBacklogStopsWhenNothingAcks(t *testing.T) {
	bus := newFakeBus()
	bus.backlog = []domain.StreamMessage{streamEntry(t, takeEnvelope())}

	calls := 0
	c := testConsumerBus(bus, map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			calls++
			return errors.New("sink unavailable")
		},
	})

	// A persistently failing entry must not spin the startup drain forever;
	// it stays pending for the claim sweep.
	if err := c.drainBacklog(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if len(bus.acked) != 0 {
		t.Fatalf("failed entry must stay pending, acked %v", bus.acked)
	}
}

func TestClaimStaleProcessesStrandedEntries(t *testing.T) {
	stranded := streamEntry(t, takeEnvelope())
	stranded.ID = "3-0"

	bus := newFakeBus()
	bus.claimable = []domain.StreamMessage{stranded}

	handled := false
	c := testConsumerBus(bus, map[domain.EventType]Handler{
		domain.EventTake: func(ctx context.Context, env domain.EventEnvelope) error {
			handled = true
			return nil
		},
	})

	c.claimStale(context.Background())
	if !handled {
		t.Fatal("claimed entry was not dispatched")
	}
	if !bus.acked[stranded.ID] {
		t.Fatal("claimed entry was not acked after handling")
	}
}

func TestConsumerIdentityIsStableAcrossRestarts(t *testing.T) {
	cfg := Config{Stream: domain.StreamEvents, Group: "alerts", BatchSize: 1, Block: time.Second}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := New(newFakeBus(), cfg, nil, log)
	b := New(newFakeBus(), cfg, nil, log)
	if a.consumerID != b.consumerID {
		t.Fatalf("identity changed across restarts: %q vs %q", a.consumerID, b.consumerID)
	}

	cfg.Name = "alerts-east-1"
	if c := New(newFakeBus(), cfg, nil, log); c.consumerID != "alerts-east-1" {
		t.Fatalf("configured name ignored: %q", c.consumerID)
	}
}
