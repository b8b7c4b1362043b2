package worker

import (
	"sync"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
)

// recentDecisions bounds the decision ring served on /stats.
const recentDecisions = 20

// personaState is the mutable runtime state of one persona. One mutex
// covers everything; it is held only for counter updates and snapshots,
// never across generation or bus calls.
type personaState struct {
	mu sync.Mutex

	// persona carries the drifted style knobs. Reads go through snapshot.
	persona config.Persona

	// ownMessages counts publishes since the last reflection.
	ownMessages int

	// lastReflection is when the persona last reflected.
	lastReflection time.Time

	// cycles counts completed reflections, seeding the drift derivation.
	cycles int
}

func newPersonaState(p *config.Persona, now time.Time) *personaState {
	return &personaState{persona: *p, lastReflection: now}
}

// snapshot returns a copy of the persona safe to read without the lock.
func (s *personaState) snapshot() config.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// noteOwnMessage counts one published message.
func (s *personaState) noteOwnMessage() {
	s.mu.Lock()
	s.ownMessages++
	s.mu.Unlock()
}

// reflectionDue reports whether the persona should reflect now: either the
// interval elapsed or the own-message threshold was crossed.
func (s *personaState) reflectionDue(now time.Time, cfg config.ReflectionConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Interval > 0 && now.Sub(s.lastReflection) >= cfg.Interval {
		return true
	}
	return cfg.OwnMessageThreshold > 0 && s.ownMessages >= cfg.OwnMessageThreshold
}

// applyDrift moves the style knobs by the given deltas, clamped to the
// persona's declared bounds, and closes the reflection cycle.
func (s *personaState) applyDrift(now time.Time, dVerbosity, dExcitability float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.persona.Style
	st.Verbosity = clampRange(st.Verbosity+dVerbosity, st.Bounds.VerbosityMin, st.Bounds.VerbosityMax)
	st.Excitability = clampRange(st.Excitability+dExcitability, st.Bounds.ExcitabilityMin, st.Bounds.ExcitabilityMax)
	s.ownMessages = 0
	s.lastReflection = now
	s.cycles++
}

// cycleCount returns how many reflections have completed.
func (s *personaState) cycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
