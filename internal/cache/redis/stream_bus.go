package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// StreamBus implements domain.StreamBus on Redis Streams. Appends trim the
// stream to an approximate maximum length via XADD MAXLEN ~; reads go through
// consumer groups so delivery is load-balanced and acknowledged.
type StreamBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewStreamBus creates a StreamBus backed by the given Client. maxLen bounds
// each stream's approximate length; zero or negative disables trimming.
func NewStreamBus(c *Client, maxLen int64) *StreamBus {
	return &StreamBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Append adds one entry to a stream.
func (b *StreamBus) Append(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates a consumer group at the start of the stream, creating
// the stream itself if needed. Calling it for an existing group is a no-op,
// so every consumer can ensure its group at startup.
func (b *StreamBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redis: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ReadGroup reads up to count new entries for one consumer, blocking up to
// block when the stream is empty. It returns an empty slice (not an error)
// when the block expires with nothing to read.
func (b *StreamBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	results, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read group %s on %s: %w", group, stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		messages = append(messages, toStreamMessages(s.Messages)...)
	}
	return messages, nil
}

// ReadBacklog reads up to count entries from this consumer's pending list,
// the entries delivered to it earlier but never acknowledged. It does not
// block: an empty result means the backlog is drained.
func (b *StreamBus) ReadBacklog(ctx context.Context, stream, group, consumer string, count int) ([]domain.StreamMessage, error) {
	results, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, "0"},
		Count:    int64(count),
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read backlog %s on %s: %w", group, stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		messages = append(messages, toStreamMessages(s.Messages)...)
	}
	return messages, nil
}

// Claim takes over entries pending longer than minIdle from any consumer in
// the group via XAUTOCLAIM, so messages stranded by a crashed consumer are
// eventually redelivered.
func (b *StreamBus) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]domain.StreamMessage, error) {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: claim pending %s on %s: %w", group, stream, err)
	}
	return toStreamMessages(msgs), nil
}

func toStreamMessages(msgs []redis.XMessage) []domain.StreamMessage {
	var out []domain.StreamMessage
	for _, msg := range msgs {
		values := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			switch vv := v.(type) {
			case string:
				values[k] = vv
			case []byte:
				values[k] = string(vv)
			default:
				values[k] = fmt.Sprint(vv)
			}
		}
		out = append(out, domain.StreamMessage{ID: msg.ID, Values: values})
	}
	return out
}

// Ack acknowledges processed entries for a consumer group.
func (b *StreamBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s on %s: %w", group, stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StreamBus = (*StreamBus)(nil)
