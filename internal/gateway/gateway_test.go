package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/bus"
	busmock "github.com/itsDarianNgo/Chatter/internal/bus/mock"
	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/safety"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		IngestStream:   "chat.ingest",
		FirehoseStream: "chat.firehose",
		GatewayGroup:   "chat_gateway",
		ReadBlock:      50 * time.Millisecond,
		ReadCount:      16,
	}
}

func testRoomSet() map[string]config.Room {
	return map[string]config.Room{
		"room_a": {ID: "room_a", MaxChars: 200},
	}
}

func chatJSON(t *testing.T, id, room, content string) []byte {
	t.Helper()
	msg := types.ChatMessage{
		SchemaName:    types.SchemaChatMessage,
		SchemaVersion: types.SchemaVersionChatMessage,
		ID:            id,
		TS:            time.Now().UnixMilli(),
		RoomID:        room,
		Origin:        types.OriginHuman,
		UserID:        "u1",
		DisplayName:   "User One",
		Content:       content,
	}
	data, err := json.Marshal(&msg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestBroadcaster(t *testing.T, b bus.Bus) (*Broadcaster, *Hub) {
	t.Helper()
	filter, err := safety.NewFilter(safety.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(nil)
	br := NewBroadcaster(testBusConfig(), "gw-test", b, filter, testRoomSet(), hub, nil, slog.New(slog.DiscardHandler))
	return br, hub
}

func TestProcessAcceptsAndStamps(t *testing.T) {
	mb := busmock.New()
	br, hub := newTestBroadcaster(t, mb)
	client := hub.Register("c1", 4)
	hub.Subscribe(client, "room_a")

	br.process(context.Background(), chatJSON(t, "m1", "room_a", "hello chat"))

	out, err := mb.TailRange(context.Background(), "chat.firehose", 10)
	if err != nil || len(out) != 1 {
		t.Fatalf("firehose = %v entries, err %v", len(out), err)
	}
	var msg types.ChatMessage
	if err := json.Unmarshal(out[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Moderation == nil || msg.Moderation.Action != types.ModerationAllow {
		t.Errorf("moderation = %+v, want allow", msg.Moderation)
	}
	if msg.Trace == nil || msg.Trace.Producer != types.ProducerUnknown {
		t.Errorf("trace producer = %+v, want unknown", msg.Trace)
	}
	if len(msg.Trace.ProcessedBy) != 1 || msg.Trace.ProcessedBy[0] != types.ProcessorChatGateway {
		t.Errorf("processed_by = %v", msg.Trace.ProcessedBy)
	}
	if msg.Trace.GatewayTS == 0 {
		t.Error("gateway_ts not set")
	}

	select {
	case frame := <-client.queue:
		if !strings.Contains(string(frame), `"hello chat"`) {
			t.Errorf("broadcast frame = %s", frame)
		}
	default:
		t.Error("nothing broadcast to subscriber")
	}
}

func TestProcessPreservesExistingProducer(t *testing.T) {
	mb := busmock.New()
	br, _ := newTestBroadcaster(t, mb)

	var msg types.ChatMessage
	if err := json.Unmarshal(chatJSON(t, "m1", "room_a", "bot line"), &msg); err != nil {
		t.Fatal(err)
	}
	msg.Origin = types.OriginBot
	msg.Trace = &types.Trace{Producer: types.ProducerPersonaWorker}
	data, _ := json.Marshal(&msg)

	br.process(context.Background(), data)

	out, _ := mb.TailRange(context.Background(), "chat.firehose", 1)
	var got types.ChatMessage
	if err := json.Unmarshal(out[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Trace.Producer != types.ProducerPersonaWorker {
		t.Errorf("producer = %q, want persona_worker", got.Trace.Producer)
	}
}

func TestProcessDropsAndCounts(t *testing.T) {
	mb := busmock.New()
	br, _ := newTestBroadcaster(t, mb)
	ctx := context.Background()

	br.process(ctx, []byte("{not json"))
	br.process(ctx, chatJSON(t, "m1", "nowhere", "hi"))
	br.process(ctx, chatJSON(t, "m2", "room_a", "mail me a@b.com"))
	br.process(ctx, chatJSON(t, "m2", "room_a", "mail me a@b.com"))

	st := br.Stats()
	if st.Invalid != 1 {
		t.Errorf("invalid = %d, want 1", st.Invalid)
	}
	if st.UnknownRooms != 1 {
		t.Errorf("unknown rooms = %d, want 1", st.UnknownRooms)
	}
	if st.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", st.Duplicates)
	}
	if st.Redacted != 1 {
		t.Errorf("redacted = %d, want 1", st.Redacted)
	}
	if st.Published != 1 {
		t.Errorf("published = %d, want 1", st.Published)
	}

	out, _ := mb.TailRange(context.Background(), "chat.firehose", 10)
	if len(out) != 1 {
		t.Fatalf("firehose entries = %d, want 1", len(out))
	}
	var got types.ChatMessage
	if err := json.Unmarshal(out[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got.Content, "a@b.com") {
		t.Errorf("content not redacted: %q", got.Content)
	}
}

func TestRunConsumesFromGroup(t *testing.T) {
	mb := busmock.New()
	br, _ := newTestBroadcaster(t, mb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = br.Run(ctx)
	}()

	if err := mb.Publish(context.Background(), "chat.ingest", chatJSON(t, "m1", "room_a", "first")); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for br.Stats().Published < 1 {
		select {
		case <-deadline:
			t.Fatal("message never published to firehose")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := mb.PendingCount("chat.ingest", "chat_gateway"); got != 0 {
		t.Errorf("pending after ack = %d, want 0", got)
	}

	cancel()
	<-done
}

func TestClientDropOldest(t *testing.T) {
	hub := NewHub(nil)
	c := hub.Register("c1", 2)
	hub.Subscribe(c, "r")

	for i := 0; i < 5; i++ {
		hub.Broadcast("r", []byte(fmt.Sprintf("f%d", i)))
	}

	if got := c.Drops(); got != 3 {
		t.Errorf("drops = %d, want 3", got)
	}
	first := <-c.queue
	second := <-c.queue
	if string(first) != "f3" || string(second) != "f4" {
		t.Errorf("kept = %s, %s; want f3, f4", first, second)
	}
	if hub.TotalDrops() != 3 {
		t.Errorf("hub drops = %d, want 3", hub.TotalDrops())
	}
}

func TestHubRoomIsolation(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Register("a", 4)
	b := hub.Register("b", 4)
	hub.Subscribe(a, "room_a")
	hub.Subscribe(b, "room_b")

	if n := hub.Broadcast("room_a", []byte("x")); n != 1 {
		t.Errorf("reached = %d, want 1", n)
	}
	select {
	case <-b.queue:
		t.Error("room_b client received room_a frame")
	default:
	}

	hub.Unregister(a)
	if hub.ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", hub.ClientCount())
	}
}

func TestDedupeEviction(t *testing.T) {
	d := newDedupeCache(3)
	for i := 0; i < 3; i++ {
		if d.Seen(fmt.Sprintf("id%d", i)) {
			t.Fatalf("fresh id%d reported seen", i)
		}
	}
	if !d.Seen("id1") {
		t.Error("id1 not remembered")
	}
	// id0 is now the least recently used; one insert evicts it.
	d.Seen("id3")
	if d.Seen("id0") {
		t.Error("id0 survived eviction")
	}
	if d.Len() != 3 {
		t.Errorf("len = %d, want 3", d.Len())
	}
}
