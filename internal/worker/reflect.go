package worker

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/pkg/memory"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// reflectionPollDivisor sets how often the loop checks for due personas
// relative to the configured interval.
const reflectionPollDivisor = 4

// runReflection periodically reflects each persona: a small deterministic
// style drift plus a handful of memory items distilled from recent chat.
func (w *Worker) runReflection(ctx context.Context) {
	interval := w.cfg.Reflection.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	poll := interval / reflectionPollDivisor
	if poll < time.Second {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := w.now()
		for id, state := range w.states {
			if !state.reflectionDue(now, w.cfg.Reflection) {
				continue
			}
			w.reflect(ctx, id, state)
		}
	}
}

// reflect runs one reflection cycle for one persona.
func (w *Worker) reflect(ctx context.Context, personaID string, state *personaState) {
	persona := state.snapshot()
	cycle := state.cycleCount()
	clamp := w.cfg.Reflection.DriftClamp

	dv := driftDelta(personaID, cycle, "verbosity", clamp)
	de := driftDelta(personaID, cycle, "excitability", clamp)
	state.applyDrift(w.now(), dv, de)
	w.reflections.Add(1)

	w.logger.Debug("persona reflected",
		"persona", personaID, "cycle", cycle+1,
		"verbosity_delta", dv, "excitability_delta", de)

	if w.mem == nil {
		return
	}
	items := w.distil(&persona)
	if limit := w.cfg.Reflection.MaxItems; limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	for _, item := range items {
		w.mem.Add(ctx, item)
		if !w.mem.IsDegraded() {
			w.memWrites.Add(1)
		}
	}
}

// distil extracts candidate memory items for a persona: its current style
// posture plus the most recent human lines in each of its rooms.
func (w *Worker) distil(persona *config.Persona) []memory.Item {
	now := w.now()
	var items []memory.Item
	for roomID := range w.rooms {
		if !persona.InRoom(roomID) {
			continue
		}
		ns := memory.Namespace(roomID, persona.ID)
		items = append(items, memory.Item{
			ID:        itemID(ns, "style", now),
			Namespace: ns,
			Kind:      memory.KindStyle,
			Content: fmt.Sprintf("current style: verbosity %.2f, excitability %.2f",
				persona.Style.Verbosity, persona.Style.Excitability),
			CreatedAt: now,
		})
		for _, msg := range latestHumanLines(w.window.Recent(roomID), 2) {
			items = append(items, memory.Item{
				ID:        itemID(ns, msg.ID, now),
				Namespace: ns,
				Kind:      memory.KindEvent,
				Content:   fmt.Sprintf("%s said: %s", msg.DisplayName, msg.Content),
				CreatedAt: now,
			})
		}
	}
	return items
}

// latestHumanLines returns up to n of the newest human messages, newest
// first.
func latestHumanLines(msgs []types.ChatMessage, n int) []types.ChatMessage {
	var out []types.ChatMessage
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		if msgs[i].Origin == types.OriginHuman && strings.TrimSpace(msgs[i].Content) != "" {
			out = append(out, msgs[i])
		}
	}
	return out
}

// driftDelta derives a deterministic drift in [-clamp, +clamp] from the
// persona identity and cycle number. Replays drift identically.
func driftDelta(personaID string, cycle int, knob string, clamp float64) float64 {
	if clamp <= 0 {
		return 0
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", personaID, cycle, knob)))
	u := binary.BigEndian.Uint64(h[:8])
	unit := float64(u) / float64(1<<63) / 2
	return (unit*2 - 1) * clamp
}

func itemID(namespace, suffix string, now time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", namespace, suffix, now.UnixMilli())))
	return fmt.Sprintf("%x", h[:12])
}
