// Package chatwindow maintains the per-room sliding window of recent chat
// the policy engine reads its context signals from.
//
// The window is bounded two ways: at most Capacity messages, and nothing
// older than MaxAge. Both bounds are enforced lazily on read and eagerly on
// write, so an idle room decays to empty without a background sweeper.
package chatwindow

import (
	"strings"
	"sync"
	"time"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

const (
	// DefaultCapacity is the message bound of a room window.
	DefaultCapacity = 200

	// DefaultMaxAge is the age bound of a room window.
	DefaultMaxAge = 10 * time.Second
)

// Window is the set of per-room rings. Safe for concurrent use.
type Window struct {
	capacity int
	maxAge   time.Duration

	// now is the clock, swappable in tests.
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*ring
}

type ring struct {
	msgs []types.ChatMessage
}

// Option configures a Window.
type Option func(*Window)

// WithCapacity overrides the message bound.
func WithCapacity(n int) Option {
	return func(w *Window) { w.capacity = n }
}

// WithMaxAge overrides the age bound.
func WithMaxAge(d time.Duration) Option {
	return func(w *Window) { w.maxAge = d }
}

// WithClock injects a frozen clock for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New returns an empty Window.
func New(opts ...Option) *Window {
	w := &Window{
		capacity: DefaultCapacity,
		maxAge:   DefaultMaxAge,
		now:      time.Now,
		rooms:    make(map[string]*ring),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add appends msg to its room window, evicting whatever the bounds push out.
func (w *Window) Add(msg types.ChatMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[msg.RoomID]
	if !ok {
		r = &ring{}
		w.rooms[msg.RoomID] = r
	}
	r.msgs = append(r.msgs, msg)
	w.prune(r)
}

// prune drops expired and over-capacity messages. Must hold w.mu.
func (w *Window) prune(r *ring) {
	cutoff := w.now().Add(-w.maxAge).UnixMilli()
	i := 0
	for i < len(r.msgs) && r.msgs[i].TS < cutoff {
		i++
	}
	if over := len(r.msgs) - i - w.capacity; over > 0 {
		i += over
	}
	if i > 0 {
		r.msgs = append(r.msgs[:0:0], r.msgs[i:]...)
	}
}

// Recent returns the room's messages inside both bounds, oldest first. The
// returned slice is a copy.
func (w *Window) Recent(roomID string) []types.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[roomID]
	if !ok {
		return nil
	}
	w.prune(r)
	out := make([]types.ChatMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// RatePerSec estimates the room's message velocity over the age bound.
func (w *Window) RatePerSec(roomID string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[roomID]
	if !ok {
		return 0
	}
	w.prune(r)
	if len(r.msgs) == 0 {
		return 0
	}
	return float64(len(r.msgs)) / w.maxAge.Seconds()
}

// BotFraction reports the share of bot-origin messages in the room window,
// in [0, 1]. An empty window reports 0.
func (w *Window) BotFraction(roomID string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[roomID]
	if !ok {
		return 0
	}
	w.prune(r)
	if len(r.msgs) == 0 {
		return 0
	}
	bots := 0
	for _, m := range r.msgs {
		if m.Origin == types.OriginBot {
			bots++
		}
	}
	return float64(bots) / float64(len(r.msgs))
}

// MentionHits counts window messages whose content or mention list contains
// any of names (lowercased). Used for trend signals, not for the trigger
// itself.
func (w *Window) MentionHits(roomID string, names []string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[roomID]
	if !ok {
		return 0
	}
	w.prune(r)
	hits := 0
	for _, m := range r.msgs {
		if messageMentions(&m, names) {
			hits++
		}
	}
	return hits
}

func messageMentions(m *types.ChatMessage, names []string) bool {
	content := strings.ToLower(m.Content)
	for _, name := range names {
		if strings.Contains(content, "@"+name) {
			return true
		}
		for _, mention := range m.Mentions {
			if strings.EqualFold(mention, name) {
				return true
			}
		}
	}
	return false
}
