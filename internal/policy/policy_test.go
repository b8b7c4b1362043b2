package policy

import (
	"fmt"
	"testing"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

func testWeights() config.PolicyConfig {
	return config.PolicyConfig{
		EventWeight:    1.5,
		MentionBoost:   3.0,
		TrendWeight:    0.8,
		BotDamp:        0.7,
		ProbabilityCap: 0.95,
		MaxMessageAge:  30 * time.Second,
	}
}

func testRooms() map[string]config.Room {
	return map[string]config.Room{
		"room_a": {
			ID:                 "room_a",
			ActivityMultiplier: 1.0,
			CooldownMS:         2000,
			BudgetMessages:     3,
			BudgetWindowSec:    60,
		},
	}
}

func testPersona() *config.Persona {
	return &config.Persona{
		ID:              "hypebeast",
		DisplayName:     "HypeBeast99",
		Rooms:           []string{"room_a"},
		BaseProbability: 0.1,
	}
}

func trigger(id, room, user, content string, origin types.Origin, ts time.Time) *types.ChatMessage {
	return &types.ChatMessage{
		ID:      id,
		TS:      ts.UnixMilli(),
		RoomID:  room,
		Origin:  origin,
		UserID:  user,
		Content: content,
	}
}

func newEngine(now time.Time) *Engine {
	return New(testWeights(), testRooms(), WithClock(func() time.Time { return now }))
}

func TestSuppressionOrder(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		trigger *types.ChatMessage
		want    string
	}{
		{
			name:    "wrong room",
			trigger: trigger("t1", "room_b", "u1", "hello", types.OriginHuman, now),
			want:    ReasonWrongRoom,
		},
		{
			name:    "own message",
			trigger: trigger("t2", "room_a", "hypebeast", "my own line", types.OriginBot, now),
			want:    ReasonOwnMessage,
		},
		{
			name:    "too old",
			trigger: trigger("t3", "room_a", "u1", "hello", types.OriginHuman, now.Add(-time.Minute)),
			want:    ReasonTooOld,
		},
		{
			name:    "bot origin",
			trigger: trigger("t4", "room_a", "otherbot", "beep", types.OriginBot, now),
			want:    ReasonBotOrigin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(now)
			d := e.Decide(testPersona(), tt.trigger, Signals{})
			if d.Outcome != OutcomeSuppress || d.Reason != tt.want {
				t.Errorf("Decide = (%s, %s), want (suppress, %s)", d.Outcome, d.Reason, tt.want)
			}
		})
	}
}

func TestMarkerForcesSpeak(t *testing.T) {
	now := time.Now()
	e := newEngine(now)

	for _, content := range []string{
		"please echo E2E_MARKER_abc123",
		"E2E_TEST_ABC hello",
		"E2E_TEST_BOTLOOP_x",
	} {
		d := e.Decide(testPersona(), trigger("t1", "room_a", "u1", content, types.OriginHuman, now), Signals{})
		if d.Outcome != OutcomeSpeak || d.Reason != ReasonE2EForced {
			t.Errorf("Decide(%q) = (%s, %s), want (speak, e2e_forced)", content, d.Outcome, d.Reason)
		}
	}

	// Markers never override the bot-origin gate, the bot-loop one
	// included. Chained bot replies stay suppressed.
	for _, content := range []string{"E2E_TEST_plain", "E2E_TEST_BOTLOOP_x"} {
		d := e.Decide(testPersona(), trigger("t2", "room_a", "otherbot", content, types.OriginBot, now), Signals{})
		if d.Outcome != OutcomeSuppress || d.Reason != ReasonBotOrigin {
			t.Errorf("bot marker %q = (%s, %s), want (suppress, bot_origin)", content, d.Outcome, d.Reason)
		}
	}
}

func TestMentionOverridesBotOrigin(t *testing.T) {
	now := time.Now()
	e := newEngine(now)

	tr := trigger("t1", "room_a", "otherbot", "nice one @HypeBeast99", types.OriginBot, now)
	d := e.Decide(testPersona(), tr, Signals{})
	if d.Reason == ReasonBotOrigin {
		t.Errorf("mentioned bot message suppressed as bot_origin")
	}
	if !d.Mentioned {
		t.Error("Mentioned flag not set")
	}
}

func TestCooldownAndBudget(t *testing.T) {
	now := time.Now()
	e := newEngine(now)
	p := testPersona()

	e.Tracker().RecordSpeak(p.ID, "room_a", now.Add(-time.Second))
	d := e.Decide(p, trigger("t1", "room_a", "u1", "hello", types.OriginHuman, now), Signals{})
	if d.Reason != ReasonCooldown {
		t.Errorf("reason = %s, want cooldown", d.Reason)
	}

	// Past cooldown but over budget.
	e2 := newEngine(now)
	for i := 0; i < 3; i++ {
		e2.Tracker().RecordSpeak(p.ID, "room_a", now.Add(-time.Duration(10+i)*time.Second))
	}
	d = e2.Decide(p, trigger("t2", "room_a", "u1", "hello", types.OriginHuman, now), Signals{})
	if d.Reason != ReasonBudget {
		t.Errorf("reason = %s, want budget", d.Reason)
	}
}

func TestDecisionIsDeterministic(t *testing.T) {
	now := time.Now()
	p := testPersona()
	tr := trigger("fixed-id", "room_a", "u1", "hello chat", types.OriginHuman, now)

	first := newEngine(now).Decide(p, tr, Signals{RatePerSec: 2, BotFraction: 0.3, EventStrength: 0.5})
	for i := 0; i < 5; i++ {
		again := newEngine(now).Decide(p, tr, Signals{RatePerSec: 2, BotFraction: 0.3, EventStrength: 0.5})
		if again.Outcome != first.Outcome || again.Draw != first.Draw || again.Probability != first.Probability {
			t.Fatalf("run %d differed: %+v vs %+v", i, again, first)
		}
	}
}

func TestProbabilityModel(t *testing.T) {
	now := time.Now()
	e := newEngine(now)
	p := testPersona()
	room := testRooms()["room_a"]

	base := e.probability(p, room, false, Signals{})
	if base != 0.1 {
		t.Errorf("neutral probability = %v, want 0.1", base)
	}

	mentioned := e.probability(p, room, true, Signals{})
	if !almost(mentioned, 0.3) {
		t.Errorf("mentioned probability = %v, want 0.3", mentioned)
	}

	// Recent window mentions earn half the direct boost.
	recent := e.probability(p, room, false, Signals{MentionHits: 2})
	if !almost(recent, 0.2) {
		t.Errorf("recent-mentions probability = %v, want 0.2", recent)
	}

	event := e.probability(p, room, false, Signals{EventStrength: 1})
	if event != 0.25 {
		t.Errorf("event probability = %v, want 0.25", event)
	}

	damped := e.probability(p, room, false, Signals{BotFraction: 1})
	if got, want := damped, 0.1*(1-0.7); !almost(got, want) {
		t.Errorf("damped probability = %v, want %v", got, want)
	}

	// Everything maxed clamps to the cap.
	full := e.probability(p, room, true, Signals{EventStrength: 1, RatePerSec: 1000, BotFraction: 0})
	if full != 0.95 {
		t.Errorf("capped probability = %v, want 0.95", full)
	}
}

func almost(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestDrawRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		u := draw("room", "persona", fmt.Sprintf("trigger-%d", i))
		if u < 0 || u >= 1 {
			t.Fatalf("draw out of range: %v", u)
		}
	}
	if draw("r", "p", "t") != draw("r", "p", "t") {
		t.Error("draw not stable")
	}
	if draw("r", "p", "t1") == draw("r", "p", "t2") {
		t.Error("distinct triggers drew identical values")
	}
}

func TestMentioned(t *testing.T) {
	names := []string{"hypebeast99", "hype"}
	tests := []struct {
		name string
		msg  types.ChatMessage
		want bool
	}{
		{"structured mention", types.ChatMessage{Mentions: []string{"HypeBeast99"}}, true},
		{"exact at-token", types.ChatMessage{Content: "gg @hypebeast99 nice"}, true},
		{"typo at-token", types.ChatMessage{Content: "yo @hypebaest99 lol"}, true},
		{"punctuation trimmed", types.ChatMessage{Content: "really, @HypeBeast99?"}, true},
		{"alias", types.ChatMessage{Content: "ok @hype sure"}, true},
		{"no mention", types.ChatMessage{Content: "nobody here"}, false},
		{"bare name without at", types.ChatMessage{Content: "hypebeast99 is afk"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mentioned(&tt.msg, names); got != tt.want {
				t.Errorf("Mentioned = %v, want %v", got, tt.want)
			}
		})
	}
}
