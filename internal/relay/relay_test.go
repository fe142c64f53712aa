package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

type fakeBus struct {
	appends []struct {
		stream string
		values map[string]interface{}
	}
	failStreams map[string]error
}

func (b *fakeBus) Append(ctx context.Context, stream string, values map[string]interface{}) error {
	if err := b.failStreams[stream]; err != nil {
		return err
	}
	b.appends = append(b.appends, struct {
		stream string
		values map[string]interface{}
	}{stream, values})
	return nil
}

func (b *fakeBus) EnsureGroup(ctx context.Context, stream, group string) error { return nil }

func (b *fakeBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) ReadBacklog(ctx context.Context, stream, group, consumer string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) Ack(ctx context.Context, stream, group string, ids ...string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(t *testing.T, retries int) domain.OutboxEvent {
	t.Helper()
	env := domain.EventEnvelope{
		Type:           domain.EventTake,
		NetworkID:      1,
		BlockNumber:    100,
		TxHash:         "0xabc",
		LogIndex:       3,
		AuctionAddress: "0xauction",
		Timestamp:      time.Now().UTC(),
		UniqKey:        "1:0xabc:3",
		Version:        domain.EnvelopeVersion,
		Payload:        json.RawMessage(`{"qty_in":"5"}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return domain.OutboxEvent{
		ID:        7,
		Type:      domain.EventTake,
		NetworkID: 1,
		TxHash:    "0xabc",
		LogIndex:  3,
		Payload:   payload,
		UniqKey:   "1:0xabc:3",
		Retries:   retries,
	}
}

func newTestRelay(bus *fakeBus) *Relay {
	cfg := Config{
		BatchSize:       100,
		PollInterval:    300 * time.Millisecond,
		MaxPollInterval: 5 * time.Second,
		RetryLimit:      5,
	}
	return New(nil, bus, cfg, testLogger())
}

func TestDecidePublishesToPrimaryStream(t *testing.T) {
	bus := &fakeBus{}
	r := newTestRelay(bus)

	res := r.decide(context.Background(), testEvent(t, 0))
	if !res.Published || res.DeadLettered || res.Err != nil {
		t.Fatalf("expected published outcome, got %+v", res)
	}
	if len(bus.appends) != 1 {
		t.Fatalf("expected 1 append, got %d", len(bus.appends))
	}
	if bus.appends[0].stream != domain.StreamEvents {
		t.Fatalf("published to %q, want %q", bus.appends[0].stream, domain.StreamEvents)
	}
	if got := bus.appends[0].values["uniq_key"]; got != "1:0xabc:3" {
		t.Fatalf("uniq_key = %v, want 1:0xabc:3", got)
	}
}

func TestDecideReportsBrokerError(t *testing.T) {
	brokerErr := errors.New("connection refused")
	bus := &fakeBus{failStreams: map[string]error{domain.StreamEvents: brokerErr}}
	r := newTestRelay(bus)

	res := r.decide(context.Background(), testEvent(t, 2))
	if res.Published || res.DeadLettered {
		t.Fatalf("expected plain failure, got %+v", res)
	}
	if !errors.Is(res.Err, brokerErr) {
		t.Fatalf("err = %v, want %v", res.Err, brokerErr)
	}
}

func TestDecideDeadLettersAfterRetryLimit(t *testing.T) {
	bus := &fakeBus{}
	r := newTestRelay(bus)

	res := r.decide(context.Background(), testEvent(t, 5))
	if !res.DeadLettered || res.Published {
		t.Fatalf("expected dead-letter outcome, got %+v", res)
	}
	if len(bus.appends) != 1 || bus.appends[0].stream != domain.StreamDeadLetters {
		t.Fatalf("expected one append to the dead-letter stream, got %+v", bus.appends)
	}
}

func TestDecideDeadLettersMalformedPayload(t *testing.T) {
	bus := &fakeBus{}
	r := newTestRelay(bus)

	ev := testEvent(t, 0)
	ev.Payload = json.RawMessage(`{not json`)

	res := r.decide(context.Background(), ev)
	if !res.DeadLettered {
		t.Fatalf("expected malformed payload to dead-letter, got %+v", res)
	}
}

func TestDeadLetterSurvivesStreamFailure(t *testing.T) {
	bus := &fakeBus{failStreams: map[string]error{domain.StreamDeadLetters: errors.New("down")}}
	r := newTestRelay(bus)

	res := r.decide(context.Background(), testEvent(t, 5))
	if !res.DeadLettered {
		t.Fatalf("expected dead-letter outcome even when the stream append fails, got %+v", res)
	}
}

func TestNextDelay(t *testing.T) {
	base := 300 * time.Millisecond
	max := 5 * time.Second

	cases := []struct {
		emptyCycles int
		want        time.Duration
	}{
		{0, base},
		{1, base},
		{2, 600 * time.Millisecond},
		{5, 1500 * time.Millisecond},
		{100, max},
	}
	for _, tc := range cases {
		if got := nextDelay(base, max, tc.emptyCycles); got != tc.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tc.emptyCycles, got, tc.want)
		}
	}
}
