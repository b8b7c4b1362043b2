package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff produces capped exponential retry delays with jitter. Each call to
// Next doubles the delay up to Max and then applies a random factor in
// [1-Jitter, 1+Jitter]. Reset returns to the initial delay after a success.
//
// Backoff is not safe for concurrent use; each retry loop owns its own.
type Backoff struct {
	// Initial is the first delay. Default: 100ms.
	Initial time.Duration

	// Max caps the un-jittered delay. Default: 5s.
	Max time.Duration

	// Jitter is the fractional spread applied to every delay. Default: 0.2.
	Jitter float64

	current time.Duration
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	jitter := b.Jitter
	if jitter <= 0 {
		jitter = 0.2
	}

	if b.current <= 0 {
		b.current = initial
	}
	d := b.current
	b.current *= 2
	if b.current > max {
		b.current = max
	}

	factor := 1 + jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// Reset returns the sequence to the initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for the next delay or until ctx is done, returning ctx.Err()
// in the latter case.
func (b *Backoff) Sleep(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
