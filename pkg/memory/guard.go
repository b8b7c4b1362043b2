package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/safety"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Guard wraps an Adapter and makes memory non-fatal on the reply hot path.
// Every operation carries a hard deadline and the number of in-flight
// operations is capped; when the cap is hit or the backend fails, Search
// returns empty and Add is dropped with a warning instead of an error.
// IsDegraded reports whether the most recent backend call failed.
//
// Guard also redacts PII from content before it is stored. A memory layer
// must never hold a raw email address or phone number a viewer typed into
// chat.
//
// All methods are safe for concurrent use.
type Guard struct {
	inner    Adapter
	filter   *safety.Filter
	deadline time.Duration
	sem      *semaphore.Weighted
	metrics  *observe.Metrics
	logger   *slog.Logger
	degraded atomic.Bool
}

// NewGuard wraps inner. deadline <= 0 defaults to 500ms; maxConcurrent <= 0
// defaults to 8. filter may be nil, in which case the default redaction
// rules apply.
func NewGuard(inner Adapter, filter *safety.Filter, deadline time.Duration, maxConcurrent int64, m *observe.Metrics, logger *slog.Logger) *Guard {
	if deadline <= 0 {
		deadline = 500 * time.Millisecond
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if filter == nil {
		f, err := safety.NewFilter(safety.DefaultRules())
		if err != nil {
			panic("memory: default redaction rules invalid: " + err.Error())
		}
		filter = f
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		inner:    inner,
		filter:   filter,
		deadline: deadline,
		sem:      semaphore.NewWeighted(maxConcurrent),
		metrics:  m,
		logger:   logger.With("component", "memory"),
	}
}

// Search implements Adapter. On backend failure, timeout, or a full
// concurrency slot it returns an empty result and nil error.
func (g *Guard) Search(ctx context.Context, namespace, query string, topK int) ([]SearchResult, error) {
	if !g.sem.TryAcquire(1) {
		g.logger.Debug("memory search skipped, concurrency cap reached", "namespace", namespace)
		return nil, nil
	}
	defer g.sem.Release(1)

	opCtx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	start := time.Now()
	results, err := g.inner.Search(opCtx, namespace, query, topK)
	g.metrics.RecordMemoryOp(ctx, "search", time.Since(start).Seconds(), err)
	if err != nil {
		g.degraded.Store(true)
		g.logger.Warn("memory search failed, returning empty",
			"namespace", namespace, "error", err)
		return nil, nil
	}
	g.degraded.Store(false)
	return results, nil
}

// Add implements Adapter. Content is redacted first; content the filter
// drops entirely is silently discarded. Backend failures are swallowed.
func (g *Guard) Add(ctx context.Context, item Item) error {
	res := g.filter.Filter(item.Content, 0)
	if res.Meta.Action == types.ModerationDrop {
		g.logger.Debug("memory item dropped by filter", "namespace", item.Namespace)
		return nil
	}
	item.Content = res.Content

	if !g.sem.TryAcquire(1) {
		g.logger.Debug("memory add skipped, concurrency cap reached", "namespace", item.Namespace)
		return nil
	}
	defer g.sem.Release(1)

	opCtx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	start := time.Now()
	err := g.inner.Add(opCtx, item)
	g.metrics.RecordMemoryOp(ctx, "add", time.Since(start).Seconds(), err)
	if err != nil {
		g.degraded.Store(true)
		g.logger.Warn("memory add failed, dropping item",
			"namespace", item.Namespace, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Close implements Adapter.
func (g *Guard) Close() {
	g.inner.Close()
}

// IsDegraded reports whether the most recent backend operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Adapter = (*Guard)(nil)
