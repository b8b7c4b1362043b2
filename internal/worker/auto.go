package worker

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/policy"
	"github.com/itsDarianNgo/Chatter/internal/resilience"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Interest model weights. The hype level dominates; tags and entities nudge.
const (
	weightHype     = 1.0
	weightEntities = 0.5
	weightTagHype  = 0.25
	weightInterest = 0.75
)

// mentionBoost is added to a persona's selection score when the observation
// names it.
const mentionBoost = 1.0

// momentumMaxMessages caps auto messages inside the momentum window; a hot
// moment earns follow-ups, not a flood.
const momentumMaxMessages = 6

// summaryDedupeTTL is how long a near-identical observation summary keeps
// suppressing repeat commentary.
const summaryDedupeTTL = 10 * time.Minute

// rfc3339Pattern matches timestamp fragments that must never leak into chat.
var rfc3339Pattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// containsForbidden reports whether an auto-generated line leaks observation
// internals: the raw context prefix or a machine timestamp.
func containsForbidden(content string) bool {
	return strings.Contains(content, "OBS:") || rfc3339Pattern.MatchString(content)
}

// runObservations consumes the observation stream into the buffer and feeds
// the auto-commentary gate.
func (w *Worker) runObservations(ctx context.Context) {
	backoff := resilience.Backoff{}
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.b.GroupRead(ctx, w.cfg.Bus.ObservationsStream, w.cfg.Bus.WorkerGroup, w.consumer, w.cfg.Bus.ReadCount, w.cfg.Bus.ReadBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Warn("observations read failed, backing off", "error", err)
			if backoff.Sleep(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		ackIDs := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			w.handleObservation(ctx, msg.Payload)
			ackIDs = append(ackIDs, msg.ID)
		}
		if len(ackIDs) > 0 {
			if err := w.b.Ack(ctx, w.cfg.Bus.ObservationsStream, w.cfg.Bus.WorkerGroup, ackIDs...); err != nil {
				w.logger.Warn("observations ack failed", "error", err, "count", len(ackIDs))
			}
		}
	}
}

// handleObservation buffers one observation and, when the auto loop is on,
// runs it through the commentary gate.
func (w *Worker) handleObservation(ctx context.Context, payload []byte) {
	var obs types.StreamObservation
	if err := json.Unmarshal(payload, &obs); err != nil {
		w.invalid.Add(1)
		w.metrics.InvalidRecords.Add(ctx, 1)
		return
	}
	if obs.SchemaName != types.SchemaStreamObservation || obs.ID == "" || obs.RoomID == "" {
		w.invalid.Add(1)
		w.metrics.InvalidRecords.Add(ctx, 1)
		return
	}
	w.obsReceived.Add(1)
	w.metrics.ObservationsConsumed.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("room", obs.RoomID)))
	w.obs.Add(obs)

	if ac := w.autoConfig(); ac.Enabled {
		w.maybeComment(ctx, &obs, ac)
	}
}

// maybeComment runs the full auto gate for one observation and publishes at
// most one commentary line.
func (w *Worker) maybeComment(ctx context.Context, obs *types.StreamObservation, cfg config.AutoCommentaryConfig) {
	now := w.now()

	persona, ok := w.pickPersona(obs, cfg.DiversityWindow)
	if !ok {
		w.countReason(ctx, "*", "auto_no_persona")
		return
	}

	if reason, ok := w.auto.gate(obs, persona, cfg, now); !ok {
		w.countReason(ctx, persona.ID, reason)
		return
	}

	// Auto publishes share the reactive budget and cooldown.
	room := w.rooms[obs.RoomID]
	tracker := w.engine.Tracker()
	if cd := time.Duration(room.CooldownMS) * time.Millisecond; cd > 0 {
		if since, spoke := tracker.SinceLastSpeak(persona.ID, obs.RoomID, now); spoke && since < cd {
			w.countReason(ctx, persona.ID, "auto_cooldown")
			return
		}
	}
	if room.BudgetMessages > 0 {
		window := time.Duration(room.BudgetWindowSec) * time.Second
		if tracker.SpeakCount(persona.ID, obs.RoomID, now, window) >= room.BudgetMessages {
			w.countReason(ctx, persona.ID, "auto_budget")
			return
		}
	}

	if !w.speak(ctx, persona, nil, obs, false) {
		return
	}
	w.auto.recordPublish(obs, persona.ID, cfg, w.now())
	w.recordDecision(ctx, policy.Decision{
		PersonaID: persona.ID,
		RoomID:    obs.RoomID,
		TriggerID: obs.ID,
		Outcome:   policy.OutcomeSpeak,
		Reason:    "auto",
		TS:        w.now().UnixMilli(),
	})
}

// interestScore estimates how comment-worthy an observation is to a persona.
func interestScore(obs *types.StreamObservation, persona *config.Persona) float64 {
	score := clampRange(obs.HypeLevel, 0, 1) * weightHype

	if n := len(obs.Entities); n > 0 {
		if n > 3 {
			n = 3
		}
		score += float64(n) / 3 * weightEntities
	}
	tags := lowerSet(obs.Tags)
	if _, ok := tags["hype"]; ok {
		score += weightTagHype
	}
	for _, interest := range persona.Interests {
		if _, ok := tags[strings.ToLower(interest)]; ok {
			score += weightInterest
			break
		}
	}
	return score
}

// autoState is the cross-observation coordination for the auto loop: room
// pacing, per-observation caps, summary dedupe, and speaker diversity.
type autoState struct {
	mu           sync.Mutex
	roomLast     map[string]time.Time
	roomTimes    map[string][]time.Time
	obsCounts    map[string]int
	obsSeen      []string
	summarySeen  map[string]time.Time
	lastSpeakers map[string][]string
}

// obsCountCapacity bounds how many observation ids the per-observation cap
// remembers.
const obsCountCapacity = 1024

func newAutoState() *autoState {
	return &autoState{
		roomLast:     make(map[string]time.Time),
		roomTimes:    make(map[string][]time.Time),
		obsCounts:    make(map[string]int),
		summarySeen:  make(map[string]time.Time),
		lastSpeakers: make(map[string][]string),
	}
}

// gate runs the suppression checks in order and returns the first failing
// reason. Order matters: interest first, then pacing, then dedupe, so the
// cheap checks shield the stateful ones.
func (a *autoState) gate(obs *types.StreamObservation, persona *config.Persona, cfg config.AutoCommentaryConfig, now time.Time) (string, bool) {
	score := interestScore(obs, persona)
	if obs.HypeLevel < cfg.HypeThreshold && score < cfg.HypeThreshold {
		return "auto_not_interesting", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cfg.MomentumWindow > 0 {
		cutoff := now.Add(-cfg.MomentumWindow)
		times := a.roomTimes[obs.RoomID]
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		times = times[i:]
		a.roomTimes[obs.RoomID] = times
		if len(times) >= momentumMaxMessages {
			return "auto_momentum", false
		}
	}
	if cfg.MinInterval > 0 {
		if last, ok := a.roomLast[obs.RoomID]; ok && now.Sub(last) < cfg.MinInterval {
			return "auto_room_rate", false
		}
	}
	if cfg.MaxPerObservation > 0 && a.obsCounts[obs.ID] >= cfg.MaxPerObservation {
		return "auto_max_per_observation", false
	}
	if h := summaryHash(obs.Summary); h != "" {
		if seen, ok := a.summarySeen[h]; ok && now.Sub(seen) < summaryDedupeTTL {
			return "auto_summary_dedupe", false
		}
	}
	return "", true
}

// recordPublish commits the pacing and dedupe state after a successful auto
// publish.
func (a *autoState) recordPublish(obs *types.StreamObservation, personaID string, cfg config.AutoCommentaryConfig, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roomLast[obs.RoomID] = now
	a.roomTimes[obs.RoomID] = append(a.roomTimes[obs.RoomID], now)

	if _, ok := a.obsCounts[obs.ID]; !ok {
		a.obsSeen = append(a.obsSeen, obs.ID)
		if len(a.obsSeen) > obsCountCapacity {
			delete(a.obsCounts, a.obsSeen[0])
			a.obsSeen = a.obsSeen[1:]
		}
	}
	a.obsCounts[obs.ID]++

	if h := summaryHash(obs.Summary); h != "" {
		a.summarySeen[h] = now
		for k, t := range a.summarySeen {
			if now.Sub(t) >= summaryDedupeTTL {
				delete(a.summarySeen, k)
			}
		}
	}

	speakers := append(a.lastSpeakers[obs.RoomID], personaID)
	if n := cfg.DiversityWindow; n > 0 && len(speakers) > n {
		speakers = speakers[len(speakers)-n:]
	}
	a.lastSpeakers[obs.RoomID] = speakers
}

// recentSpeakers returns the room's last auto speakers, newest last.
func (a *autoState) recentSpeakers(roomID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.lastSpeakers[roomID]))
	copy(out, a.lastSpeakers[roomID])
	return out
}

// pickPersona chooses which persona comments on obs. Candidates are the
// personas in the room, minus the most recent auto speakers when others are
// available. The winner is the highest deterministic selection score, with
// a boost for personas the observation mentions, so replays pick the same
// speaker.
func (w *Worker) pickPersona(obs *types.StreamObservation, diversityWindow int) (*config.Persona, bool) {
	var candidates []*config.Persona
	for i := range w.personas {
		if w.personas[i].InRoom(obs.RoomID) {
			candidates = append(candidates, &w.personas[i])
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	if diversityWindow > 0 {
		recent := make(map[string]struct{})
		for _, id := range w.auto.recentSpeakers(obs.RoomID) {
			recent[id] = struct{}{}
		}
		var fresh []*config.Persona
		for _, c := range candidates {
			if _, ok := recent[c.ID]; !ok {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	mentioned := mentionedPersonas(obs, candidates)

	var best *config.Persona
	bestScore := -1.0
	for _, c := range candidates {
		score := selectionScore(obs.ID, obs.RoomID, c.ID)
		if _, ok := mentioned[c.ID]; ok {
			score += mentionBoost
		}
		if score > bestScore || (score == bestScore && best != nil && c.ID < best.ID) {
			best = c
			bestScore = score
		}
	}
	return best, best != nil
}

// mentionedPersonas reports which candidates the observation names, through
// the entity list or an @handle in the summary.
func mentionedPersonas(obs *types.StreamObservation, candidates []*config.Persona) map[string]struct{} {
	entities := lowerSet(obs.Entities)
	summary := strings.ToLower(obs.Summary)
	out := make(map[string]struct{})
	for _, c := range candidates {
		for _, name := range c.MentionNames() {
			if _, ok := entities[name]; ok {
				out[c.ID] = struct{}{}
				break
			}
			if strings.Contains(summary, "@"+name) {
				out[c.ID] = struct{}{}
				break
			}
		}
	}
	return out
}

// selectionScore derives a uniform variate in [0, 1) from the observation
// and persona identity, mirroring the policy dice.
func selectionScore(obsID, roomID, personaID string) float64 {
	h := sha256.Sum256([]byte(obsID + "|" + roomID + "|" + personaID))
	u := binary.BigEndian.Uint64(h[:8])
	return float64(u) / float64(1<<63) / 2
}

// summaryHash normalizes and hashes an observation summary for dedupe.
// Returns "" for an empty summary.
func summaryHash(summary string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(summary) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	normalized := strings.Join(strings.Fields(b.String()), " ")
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return string(sum[:])
}

func lowerSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		if s := strings.ToLower(strings.TrimSpace(it)); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
