// Package obsbuffer holds the per-room ring of recent stream observations
// the auto-commentary loop and the generation prompt read from.
package obsbuffer

import (
	"sync"
	"time"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

const (
	// DefaultCapacity is how many observations a room retains.
	DefaultCapacity = 32

	// DefaultTTL is how long an observation stays relevant.
	DefaultTTL = 120 * time.Second
)

// Buffer is the set of per-room observation rings. Safe for concurrent use.
type Buffer struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	rooms map[string][]types.StreamObservation
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithCapacity overrides the per-room observation bound.
func WithCapacity(n int) Option {
	return func(b *Buffer) { b.capacity = n }
}

// WithTTL overrides the observation lifetime.
func WithTTL(d time.Duration) Option {
	return func(b *Buffer) { b.ttl = d }
}

// WithClock injects a frozen clock for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New returns an empty Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
		rooms:    make(map[string][]types.StreamObservation),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends obs to its room ring, evicting expired and over-capacity
// entries.
func (b *Buffer) Add(obs types.StreamObservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := append(b.rooms[obs.RoomID], obs)
	b.rooms[obs.RoomID] = b.pruned(ring)
}

// pruned drops expired entries and trims to capacity. Must hold b.mu.
func (b *Buffer) pruned(ring []types.StreamObservation) []types.StreamObservation {
	cutoff := b.now().Add(-b.ttl).UnixMilli()
	i := 0
	for i < len(ring) && ring[i].TS < cutoff {
		i++
	}
	if over := len(ring) - i - b.capacity; over > 0 {
		i += over
	}
	if i > 0 {
		ring = append(ring[:0:0], ring[i:]...)
	}
	return ring
}

// Latest returns up to n live observations for the room, newest first.
func (b *Buffer) Latest(roomID string, n int) []types.StreamObservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.pruned(b.rooms[roomID])
	b.rooms[roomID] = ring
	if n > len(ring) {
		n = len(ring)
	}
	out := make([]types.StreamObservation, 0, n)
	for i := len(ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ring[i])
	}
	return out
}

// Len reports how many live observations the room holds.
func (b *Buffer) Len(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.pruned(b.rooms[roomID])
	b.rooms[roomID] = ring
	return len(ring)
}
