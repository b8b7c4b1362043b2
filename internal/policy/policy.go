// Package policy decides whether a persona speaks in response to a trigger
// message.
//
// The decision pipeline runs in a fixed order so that hard suppressions are
// never reachable by a lucky probability draw:
//
//  1. wrong room
//  2. own message
//  3. stale trigger
//  4. forced test markers (speak, fresh human-origin triggers only)
//  5. bot origin (a direct mention overrides it)
//  6. cooldown
//  7. message budget
//  8. the probability model
//
// The probability draw is deterministic: the random variate is derived from
// a hash of (room, persona, trigger id), so replaying the same trigger
// against the same persona always yields the same decision. That makes
// end-to-end runs reproducible without freezing the clock.
package policy

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Outcome is the verdict of a decision.
type Outcome string

const (
	OutcomeSpeak    Outcome = "speak"
	OutcomeSuppress Outcome = "suppress"
)

// Suppression and speak reasons recorded on decisions.
const (
	ReasonE2EForced       = "e2e_forced"
	ReasonProbability     = "probability"
	ReasonWrongRoom       = "wrong_room"
	ReasonTooOld          = "too_old"
	ReasonOwnMessage      = "own_message"
	ReasonBotOrigin       = "bot_origin"
	ReasonCooldown        = "cooldown"
	ReasonBudget          = "budget"
	ReasonProbabilityGate = "probability_gate"
)

// Test marker prefixes that force a speak decision regardless of the
// probability model. All three share the same gates: the trigger must be
// human-origin, inside the age limit, and addressed to the persona's room.
const (
	MarkerPrefix        = "E2E_TEST_"
	MarkerBotLoopPrefix = "E2E_TEST_BOTLOOP_"
	MarkerTokenPrefix   = "E2E_MARKER_"
)

// Decision is the full record of one policy evaluation. Workers keep a ring
// of these for the /stats endpoint.
type Decision struct {
	PersonaID   string  `json:"persona_id"`
	RoomID      string  `json:"room_id"`
	TriggerID   string  `json:"trigger_id"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason"`
	Mentioned   bool    `json:"mentioned"`
	Probability float64 `json:"probability"`
	Draw        float64 `json:"draw"`
	TS          int64   `json:"ts"`
}

// Signals are the room-context inputs to the probability model, read from
// the chat window and the observation buffer at decision time.
type Signals struct {
	// RatePerSec is the room's current message velocity.
	RatePerSec float64

	// BotFraction is the share of bot messages in the recent window.
	BotFraction float64

	// EventStrength is the hottest live observation's hype level, 0 when
	// the room has no live observations.
	EventStrength float64

	// MentionHits counts window messages that mentioned the persona. A
	// persona the room is already talking about stays likelier to chime
	// in even when the trigger itself does not address it.
	MentionHits int
}

// Engine evaluates triggers for personas. Safe for concurrent use; the
// speak-history tracker carries its own lock.
type Engine struct {
	weights config.PolicyConfig
	rooms   map[string]config.Room
	tracker *Tracker
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a frozen clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine with the given model weights and room definitions.
func New(weights config.PolicyConfig, rooms map[string]config.Room, opts ...Option) *Engine {
	e := &Engine{
		weights: weights,
		rooms:   rooms,
		tracker: NewTracker(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker exposes the engine's speak-history tracker so the worker can
// record publishes that bypass Decide (auto commentary shares budgets).
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Decide evaluates one trigger for one persona. It never mutates state:
// call [Tracker.RecordSpeak] after the generated message is actually
// published so dropped generations do not consume budget.
func (e *Engine) Decide(persona *config.Persona, trigger *types.ChatMessage, sig Signals) Decision {
	now := e.now()
	d := Decision{
		PersonaID: persona.ID,
		RoomID:    trigger.RoomID,
		TriggerID: trigger.ID,
		TS:        now.UnixMilli(),
	}
	d.Mentioned = Mentioned(trigger, persona.MentionNames())

	if !persona.InRoom(trigger.RoomID) {
		return d.suppress(ReasonWrongRoom)
	}
	if trigger.UserID == persona.ID {
		return d.suppress(ReasonOwnMessage)
	}
	if age := now.Sub(trigger.Time()); e.weights.MaxMessageAge > 0 && age > e.weights.MaxMessageAge {
		return d.suppress(ReasonTooOld)
	}
	if hasMarker(trigger.Content) && trigger.Origin != types.OriginBot {
		return d.speak(ReasonE2EForced, 1, 0)
	}
	if trigger.Origin == types.OriginBot && !d.Mentioned {
		return d.suppress(ReasonBotOrigin)
	}

	room := e.rooms[trigger.RoomID]
	if cd := time.Duration(room.CooldownMS) * time.Millisecond; cd > 0 {
		if since, spoke := e.tracker.SinceLastSpeak(persona.ID, trigger.RoomID, now); spoke && since < cd {
			return d.suppress(ReasonCooldown)
		}
	}
	if room.BudgetMessages > 0 {
		window := time.Duration(room.BudgetWindowSec) * time.Second
		if e.tracker.SpeakCount(persona.ID, trigger.RoomID, now, window) >= room.BudgetMessages {
			return d.suppress(ReasonBudget)
		}
	}

	p := e.probability(persona, room, d.Mentioned, sig)
	u := draw(trigger.RoomID, persona.ID, trigger.ID)
	if u < p {
		return d.speak(ReasonProbability, p, u)
	}
	d.Probability = p
	d.Draw = u
	return d.suppress(ReasonProbabilityGate)
}

// probability applies the multiplicative model and clamps to the cap.
func (e *Engine) probability(persona *config.Persona, room config.Room, mentioned bool, sig Signals) float64 {
	p := persona.BaseProbability
	if room.ActivityMultiplier > 0 {
		p *= room.ActivityMultiplier
	}
	p *= 1 + e.weights.EventWeight*clamp01(sig.EventStrength)
	switch {
	case mentioned:
		p *= e.weights.MentionBoost
	case sig.MentionHits > 0:
		// Half the direct boost for being part of the conversation.
		p *= 1 + (e.weights.MentionBoost-1)/2
	}
	p *= 1 + e.weights.TrendWeight*normalizeRate(sig.RatePerSec)
	p *= 1 - e.weights.BotDamp*clamp01(sig.BotFraction)

	if p < 0 {
		p = 0
	}
	if cap := e.weights.ProbabilityCap; cap > 0 && p > cap {
		p = cap
	}
	return p
}

// normalizeRate maps messages-per-second into [0, 1), saturating around a
// busy room's ten-plus messages a second.
func normalizeRate(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return rate / (rate + 10)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// draw derives a uniform variate in [0, 1) from the trigger identity. The
// same (room, persona, trigger) always draws the same number.
func draw(roomID, personaID, triggerID string) float64 {
	h := sha256.Sum256([]byte(roomID + "|" + personaID + "|" + triggerID))
	u := binary.BigEndian.Uint64(h[:8])
	return float64(u) / float64(1<<63) / 2
}

func hasMarker(content string) bool {
	return strings.Contains(content, MarkerPrefix) || strings.Contains(content, MarkerTokenPrefix)
}

func (d Decision) speak(reason string, p, u float64) Decision {
	d.Outcome = OutcomeSpeak
	d.Reason = reason
	d.Probability = p
	d.Draw = u
	return d
}

func (d Decision) suppress(reason string) Decision {
	d.Outcome = OutcomeSuppress
	d.Reason = reason
	return d
}
