// Package mock provides an in-memory Bus for tests.
//
// It mimics the consumer-group semantics the loops rely on: entries are
// delivered once per group, stay pending until acked, and blocking reads
// wake up as soon as something is published.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/bus"
)

type entry struct {
	id      string
	payload []byte
}

type streamState struct {
	entries []entry
	// cursor per group: index of the next undelivered entry.
	cursors map[string]int
	// pending per group: delivered but not yet acked entry ids.
	pending map[string]map[string]bool
}

// Bus is the in-memory implementation. The zero value is not usable;
// construct with New.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*streamState
	seq     int64
	wake    chan struct{}

	// PublishErr, when non-nil, is returned by every Publish. Tests use it
	// to simulate a degraded bus.
	PublishErr error
}

// New returns an empty in-memory bus.
func New() *Bus {
	return &Bus{
		streams: make(map[string]*streamState),
		wake:    make(chan struct{}),
	}
}

func (b *Bus) stream(name string) *streamState {
	s, ok := b.streams[name]
	if !ok {
		s = &streamState{
			cursors: make(map[string]int),
			pending: make(map[string]map[string]bool),
		}
		b.streams[name] = s
	}
	return s
}

// Publish appends payload to stream and wakes any blocked readers.
func (b *Bus) Publish(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.seq++
	s := b.stream(stream)
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.entries = append(s.entries, entry{id: fmt.Sprintf("%d-0", b.seq), payload: cp})
	close(b.wake)
	b.wake = make(chan struct{})
	return nil
}

// EnsureGroup registers the group at the start of the stream. Re-creating an
// existing group keeps its cursor.
func (b *Bus) EnsureGroup(_ context.Context, stream, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(stream)
	if _, ok := s.cursors[group]; !ok {
		s.cursors[group] = 0
		s.pending[group] = make(map[string]bool)
	}
	return nil
}

// GroupRead delivers up to count new entries for the group, blocking up to
// block when none are available.
func (b *Bus) GroupRead(ctx context.Context, stream, group, _ string, count int64, block time.Duration) ([]bus.Message, error) {
	deadline := time.Now().Add(block)
	for {
		b.mu.Lock()
		s := b.stream(stream)
		if _, ok := s.cursors[group]; !ok {
			b.mu.Unlock()
			return nil, fmt.Errorf("mock bus: group %q not created on %q", group, stream)
		}
		cur := s.cursors[group]
		var out []bus.Message
		for cur < len(s.entries) && int64(len(out)) < count {
			e := s.entries[cur]
			out = append(out, bus.Message{ID: e.id, Payload: e.payload})
			s.pending[group][e.id] = true
			cur++
		}
		s.cursors[group] = cur
		wake := b.wake
		b.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		case <-wake:
			t.Stop()
		}
	}
}

// Ack marks delivered entries as processed.
func (b *Bus) Ack(_ context.Context, stream, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(stream)
	p, ok := s.pending[group]
	if !ok {
		return fmt.Errorf("mock bus: group %q not created on %q", group, stream)
	}
	for _, id := range ids {
		delete(p, id)
	}
	return nil
}

// TailRange returns the newest count entries, oldest first.
func (b *Bus) TailRange(_ context.Context, stream string, count int64) ([]bus.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(stream)
	start := 0
	if int64(len(s.entries)) > count {
		start = len(s.entries) - int(count)
	}
	out := make([]bus.Message, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		out = append(out, bus.Message{ID: e.id, Payload: e.payload})
	}
	return out, nil
}

// PendingCount reports delivered-but-unacked entries for a group. Tests use
// it to assert at-least-once bookkeeping.
func (b *Bus) PendingCount(stream, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stream(stream).pending[group])
}

// Len reports the number of entries on a stream.
func (b *Bus) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stream(stream).entries)
}

// Close is a no-op.
func (b *Bus) Close() error { return nil }
