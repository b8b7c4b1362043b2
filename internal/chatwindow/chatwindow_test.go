package chatwindow

import (
	"fmt"
	"testing"
	"time"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

func msgAt(room string, origin types.Origin, ts time.Time, content string) types.ChatMessage {
	return types.ChatMessage{
		ID:      fmt.Sprintf("m-%d", ts.UnixNano()),
		TS:      ts.UnixMilli(),
		RoomID:  room,
		Origin:  origin,
		Content: content,
	}
}

func TestCapacityBound(t *testing.T) {
	now := time.Now()
	w := New(WithCapacity(3), WithClock(func() time.Time { return now }))

	for i := 0; i < 5; i++ {
		w.Add(msgAt("r", types.OriginHuman, now.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("msg %d", i)))
	}

	got := w.Recent("r")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content != "msg 2" || got[2].Content != "msg 4" {
		t.Errorf("window kept wrong messages: %v .. %v", got[0].Content, got[2].Content)
	}
}

func TestAgeBound(t *testing.T) {
	base := time.Now()
	current := base
	w := New(WithMaxAge(10*time.Second), WithClock(func() time.Time { return current }))

	w.Add(msgAt("r", types.OriginHuman, base, "old"))
	w.Add(msgAt("r", types.OriginHuman, base.Add(8*time.Second), "fresh"))

	current = base.Add(11 * time.Second)
	got := w.Recent("r")
	if len(got) != 1 || got[0].Content != "fresh" {
		t.Fatalf("Recent = %v, want only fresh", got)
	}

	current = base.Add(30 * time.Second)
	if got := w.Recent("r"); len(got) != 0 {
		t.Errorf("idle room did not decay: %v", got)
	}
}

func TestBotFraction(t *testing.T) {
	now := time.Now()
	w := New(WithClock(func() time.Time { return now }))

	if got := w.BotFraction("r"); got != 0 {
		t.Errorf("empty room fraction = %v, want 0", got)
	}

	w.Add(msgAt("r", types.OriginHuman, now, "a"))
	w.Add(msgAt("r", types.OriginBot, now, "b"))
	w.Add(msgAt("r", types.OriginBot, now, "c"))
	w.Add(msgAt("r", types.OriginHuman, now, "d"))

	if got := w.BotFraction("r"); got != 0.5 {
		t.Errorf("fraction = %v, want 0.5", got)
	}
}

func TestRatePerSec(t *testing.T) {
	now := time.Now()
	w := New(WithMaxAge(10*time.Second), WithClock(func() time.Time { return now }))
	for i := 0; i < 20; i++ {
		w.Add(msgAt("r", types.OriginHuman, now, fmt.Sprintf("m%d", i)))
	}
	if got := w.RatePerSec("r"); got != 2.0 {
		t.Errorf("rate = %v, want 2.0", got)
	}
}

func TestMentionHits(t *testing.T) {
	now := time.Now()
	w := New(WithClock(func() time.Time { return now }))

	w.Add(msgAt("r", types.OriginHuman, now, "yo @HypeBeast99 what was that"))
	m := msgAt("r", types.OriginHuman, now, "someone tag them")
	m.Mentions = []string{"hypebeast99"}
	w.Add(m)
	w.Add(msgAt("r", types.OriginHuman, now, "unrelated"))

	if got := w.MentionHits("r", []string{"hypebeast99"}); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
}

func TestRoomsIsolated(t *testing.T) {
	now := time.Now()
	w := New(WithClock(func() time.Time { return now }))
	w.Add(msgAt("a", types.OriginHuman, now, "in a"))
	w.Add(msgAt("b", types.OriginHuman, now, "in b"))

	if got := w.Recent("a"); len(got) != 1 || got[0].Content != "in a" {
		t.Errorf("room a = %v", got)
	}
	if got := w.Recent("b"); len(got) != 1 || got[0].Content != "in b" {
		t.Errorf("room b = %v", got)
	}
}
