package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itsDarianNgo/Chatter/internal/resilience"
)

// payloadField is the single stream entry field the record JSON travels in.
const payloadField = "data"

// Redis is the production Bus on Redis Streams.
//
// Publishes go through a circuit breaker so a dead Redis fails fast instead
// of stalling the hot path. The degraded flag is raised on connection
// failures and lowered on the first successful round trip; health checks
// read it through Degraded.
type Redis struct {
	client  *redis.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger

	degraded       atomic.Bool
	droppedInvalid atomic.Int64
}

// NewRedis connects a bus client to the Redis instance at url
// (redis://host:port/db form).
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: redis.NewClient(opts),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "bus_publish",
			ResetTimeout: 5 * time.Second,
		}),
		logger: logger,
	}, nil
}

// Ping verifies connectivity. Used by readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.degraded.Store(true)
		return fmt.Errorf("bus ping: %w", err)
	}
	r.degraded.Store(false)
	return nil
}

// Degraded reports whether the last bus operation failed at the connection
// level.
func (r *Redis) Degraded() bool {
	return r.degraded.Load()
}

// DroppedInvalid reports how many stream entries were discarded because they
// did not carry the payload field.
func (r *Redis) DroppedInvalid() int64 {
	return r.droppedInvalid.Load()
}

// Publish appends payload to stream through the circuit breaker.
func (r *Redis) Publish(ctx context.Context, stream string, payload []byte) error {
	err := r.breaker.Execute(func() error {
		return r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{payloadField: payload},
		}).Err()
	})
	if err != nil {
		r.degraded.Store(true)
		if err == resilience.ErrCircuitOpen {
			return fmt.Errorf("publish to %s: %w", stream, ErrDegraded)
		}
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	r.degraded.Store(false)
	return nil
}

// EnsureGroup creates the consumer group from the start of the stream,
// creating the stream itself if needed. An already existing group is fine.
func (r *Redis) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// GroupRead blocks up to block for new entries for the group.
func (r *Redis) GroupRead(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.degraded.Store(true)
		return nil, fmt.Errorf("group read %s/%s: %w", stream, group, err)
	}
	r.degraded.Store(false)

	var out []Message
	for _, s := range res {
		for _, entry := range s.Messages {
			msg, ok := r.decode(stream, entry)
			if !ok {
				// Ack straight away so a junk entry is not redelivered forever.
				if aerr := r.Ack(ctx, stream, group, entry.ID); aerr != nil {
					r.logger.Warn("ack of invalid entry failed",
						"stream", stream, "entry_id", entry.ID, "error", aerr)
				}
				continue
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (r *Redis) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack on %s/%s: %w", stream, group, err)
	}
	return nil
}

// TailRange reads the newest count entries without a group, oldest first.
func (r *Redis) TailRange(ctx context.Context, stream string, count int64) ([]Message, error) {
	entries, err := r.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		r.degraded.Store(true)
		return nil, fmt.Errorf("tail range %s: %w", stream, err)
	}
	r.degraded.Store(false)

	out := make([]Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if msg, ok := r.decode(stream, entries[i]); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *Redis) decode(stream string, entry redis.XMessage) (Message, bool) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		r.droppedInvalid.Add(1)
		r.logger.Warn("stream entry without payload field dropped",
			"stream", stream, "entry_id", entry.ID)
		return Message{}, false
	}
	switch v := raw.(type) {
	case string:
		return Message{ID: entry.ID, Payload: []byte(v)}, true
	case []byte:
		return Message{ID: entry.ID, Payload: v}, true
	default:
		r.droppedInvalid.Add(1)
		return Message{}, false
	}
}

// Close releases the client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
