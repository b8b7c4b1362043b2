package mock

import (
	"context"
	"testing"
	"time"
)

func TestGroupDeliveryAndAck(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.EnsureGroup(ctx, "chat.ingest", "gw"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	for _, p := range []string{`{"id":"a"}`, `{"id":"b"}`} {
		if err := b.Publish(ctx, "chat.ingest", []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	msgs, err := b.GroupRead(ctx, "chat.ingest", "gw", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("GroupRead: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if got := b.PendingCount("chat.ingest", "gw"); got != 2 {
		t.Errorf("pending = %d, want 2", got)
	}

	if err := b.Ack(ctx, "chat.ingest", "gw", msgs[0].ID, msgs[1].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := b.PendingCount("chat.ingest", "gw"); got != 0 {
		t.Errorf("pending after ack = %d, want 0", got)
	}

	// Entries are delivered to a group only once.
	msgs, err = b.GroupRead(ctx, "chat.ingest", "gw", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("GroupRead: %v", err)
	}
	if msgs != nil {
		t.Errorf("redelivered %d messages, want none", len(msgs))
	}
}

func TestGroupReadWakesOnPublish(t *testing.T) {
	b := New()
	ctx := context.Background()
	if err := b.EnsureGroup(ctx, "s", "g"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		msgs, _ := b.GroupRead(ctx, "s", "g", "c", 1, 2*time.Second)
		done <- len(msgs)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Publish(ctx, "s", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("got %d messages, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read never woke up")
	}
}

func TestTailRangeNewestOldestFirst(t *testing.T) {
	b := New()
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3", "4"} {
		if err := b.Publish(ctx, "s", []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	msgs, err := b.TailRange(ctx, "s", 2)
	if err != nil {
		t.Fatalf("TailRange: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "3" || string(msgs[1].Payload) != "4" {
		t.Errorf("TailRange = %v", msgs)
	}
}

func TestIndependentGroups(t *testing.T) {
	b := New()
	ctx := context.Background()
	if err := b.Publish(ctx, "s", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, g := range []string{"g1", "g2"} {
		if err := b.EnsureGroup(ctx, "s", g); err != nil {
			t.Fatalf("EnsureGroup: %v", err)
		}
		msgs, err := b.GroupRead(ctx, "s", g, "c", 10, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("GroupRead %s: %v", g, err)
		}
		if len(msgs) != 1 {
			t.Errorf("group %s got %d messages, want 1", g, len(msgs))
		}
	}
}
