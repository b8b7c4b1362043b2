// Package gateway moderates the chat ingest stream and fans accepted
// messages out to WebSocket subscribers and the firehose stream.
//
// The broadcaster is the pipeline core: consume ingest through a consumer
// group, validate against the schema registry, run the safety filter, stamp
// provenance, fan out to the hub, republish on the firehose, ack. Duplicate
// deliveries are suppressed with an LRU cache on the message id since the
// bus is at-least-once.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/bus"
	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/resilience"
	"github.com/itsDarianNgo/Chatter/internal/safety"
	"github.com/itsDarianNgo/Chatter/internal/schema"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// dedupeCapacity bounds the replay-suppression window. Redelivery bursts are
// short, so a few thousand ids is ample.
const dedupeCapacity = 4096

// Stats is the gateway snapshot served on /stats.
type Stats struct {
	Consumed     int64 `json:"consumed"`
	Published    int64 `json:"published"`
	Dropped      int64 `json:"dropped"`
	Redacted     int64 `json:"redacted"`
	Invalid      int64 `json:"invalid"`
	Duplicates   int64 `json:"duplicates"`
	UnknownRooms int64 `json:"unknown_rooms"`
	Clients      int   `json:"clients"`
	ClientDrops  int64 `json:"client_drops"`
}

// Broadcaster consumes the ingest stream and drives the moderation pipeline.
type Broadcaster struct {
	cfg       config.BusConfig
	consumer  string
	b         bus.Bus
	validator *schema.Validator
	filter    *safety.Filter
	rooms     map[string]config.Room
	hub       *Hub
	metrics   *observe.Metrics
	logger    *slog.Logger
	dedupe    *dedupeCache

	consumed     atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
	redacted     atomic.Int64
	invalid      atomic.Int64
	duplicates   atomic.Int64
	unknownRooms atomic.Int64
}

// NewBroadcaster wires the pipeline. consumer names this instance inside the
// gateway consumer group.
func NewBroadcaster(cfg config.BusConfig, consumer string, b bus.Bus, filter *safety.Filter, rooms map[string]config.Room, hub *Hub, m *observe.Metrics, logger *slog.Logger) *Broadcaster {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:       cfg,
		consumer:  consumer,
		b:         b,
		validator: schema.NewValidator(),
		filter:    filter,
		rooms:     rooms,
		hub:       hub,
		metrics:   m,
		logger:    logger.With("component", "broadcaster"),
		dedupe:    newDedupeCache(dedupeCapacity),
	}
}

// Run consumes the ingest stream until ctx is cancelled. Bus outages are
// absorbed with exponential backoff rather than propagated.
func (br *Broadcaster) Run(ctx context.Context) error {
	if err := br.b.EnsureGroup(ctx, br.cfg.IngestStream, br.cfg.GatewayGroup); err != nil {
		return fmt.Errorf("ensure ingest group: %w", err)
	}

	backoff := resilience.Backoff{}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := br.b.GroupRead(ctx, br.cfg.IngestStream, br.cfg.GatewayGroup, br.consumer, br.cfg.ReadCount, br.cfg.ReadBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			br.logger.Warn("ingest read failed, backing off", "error", err)
			if err := backoff.Sleep(ctx); err != nil {
				return err
			}
			continue
		}
		backoff.Reset()

		ackIDs := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			br.process(ctx, msg.Payload)
			ackIDs = append(ackIDs, msg.ID)
		}
		if len(ackIDs) > 0 {
			if err := br.b.Ack(ctx, br.cfg.IngestStream, br.cfg.GatewayGroup, ackIDs...); err != nil {
				br.logger.Warn("ack failed", "error", err, "count", len(ackIDs))
			}
		}
	}
}

// process runs one ingest payload through the pipeline. Every path counts;
// only accepted messages reach the hub and the firehose.
func (br *Broadcaster) process(ctx context.Context, payload []byte) {
	br.consumed.Add(1)
	br.metrics.MessagesConsumed.Add(ctx, 1)

	if err := br.validator.Validate(payload); err != nil {
		br.invalid.Add(1)
		br.metrics.InvalidRecords.Add(ctx, 1)
		br.logger.Warn("invalid ingest record", "error", err)
		return
	}

	var msg types.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		br.invalid.Add(1)
		br.metrics.InvalidRecords.Add(ctx, 1)
		return
	}
	if msg.SchemaName != types.SchemaChatMessage {
		// Non-chat records on ingest are a producer bug, not a crash.
		br.invalid.Add(1)
		br.metrics.InvalidRecords.Add(ctx, 1)
		br.logger.Warn("non-chat record on ingest", "schema", msg.SchemaName)
		return
	}

	if br.dedupe.Seen(msg.ID) {
		br.duplicates.Add(1)
		return
	}

	room, ok := br.rooms[msg.RoomID]
	if !ok {
		br.unknownRooms.Add(1)
		br.logger.Warn("message for unknown room", "room_id", msg.RoomID, "id", msg.ID)
		return
	}

	res := br.filter.Filter(msg.Content, room.MaxChars)
	br.metrics.RecordModeration(ctx, string(res.Meta.Action))
	if res.Meta.Action == types.ModerationDrop {
		br.dropped.Add(1)
		br.logger.Info("message dropped by moderation",
			"id", msg.ID, "room_id", msg.RoomID, "reasons", res.Meta.Reasons)
		return
	}
	if res.Meta.Action == types.ModerationRedact {
		br.redacted.Add(1)
	}
	msg.Content = res.Content
	meta := res.Meta
	msg.Moderation = &meta

	stampTrace(&msg)

	out, err := json.Marshal(&msg)
	if err != nil {
		br.invalid.Add(1)
		return
	}

	br.hub.Broadcast(msg.RoomID, out)

	if err := br.b.Publish(ctx, br.cfg.FirehoseStream, out); err != nil {
		br.logger.Warn("firehose publish failed", "error", err, "id", msg.ID)
		return
	}
	br.published.Add(1)
	producer := types.ProducerUnknown
	if msg.Trace != nil {
		producer = msg.Trace.Producer
	}
	br.metrics.RecordPublish(ctx, br.cfg.FirehoseStream, producer)
}

// stampTrace fills provenance in place: producer defaults to "unknown", the
// gateway appends itself to the processed-by chain, and the gateway accept
// time is set once.
func stampTrace(msg *types.ChatMessage) {
	if msg.Trace == nil {
		msg.Trace = &types.Trace{}
	}
	if msg.Trace.Producer == "" {
		msg.Trace.Producer = types.ProducerUnknown
	}
	msg.Trace.ProcessedBy = append(msg.Trace.ProcessedBy, types.ProcessorChatGateway)
	if msg.Trace.GatewayTS == 0 {
		msg.Trace.GatewayTS = time.Now().UnixMilli()
	}
}

// Stats returns a consistent-enough snapshot for the /stats endpoint.
func (br *Broadcaster) Stats() Stats {
	return Stats{
		Consumed:     br.consumed.Load(),
		Published:    br.published.Load(),
		Dropped:      br.dropped.Load(),
		Redacted:     br.redacted.Load(),
		Invalid:      br.invalid.Load(),
		Duplicates:   br.duplicates.Load(),
		UnknownRooms: br.unknownRooms.Load(),
		Clients:      br.hub.ClientCount(),
		ClientDrops:  br.hub.TotalDrops(),
	}
}
