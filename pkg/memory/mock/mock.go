// Package mock provides a configurable test double for memory.Adapter.
package mock

import (
	"context"
	"sync"

	"github.com/itsDarianNgo/Chatter/pkg/memory"
)

// Adapter is a scripted memory.Adapter. Exported fields control what each
// method returns; every call is recorded for assertion. Safe for concurrent
// use.
type Adapter struct {
	mu sync.Mutex

	// SearchResults is returned by Search when SearchErr is nil.
	SearchResults []memory.SearchResult

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// AddErr is returned by Add when non-nil.
	AddErr error

	// Block, when non-nil, is invoked before every operation. Tests use
	// it to simulate a slow backend by waiting on the context.
	Block func(ctx context.Context) error

	searches []SearchCall
	added    []memory.Item
	closed   bool
}

// SearchCall records the arguments of one Search invocation.
type SearchCall struct {
	Namespace string
	Query     string
	TopK      int
}

// Search implements memory.Adapter.
func (a *Adapter) Search(ctx context.Context, namespace, query string, topK int) ([]memory.SearchResult, error) {
	a.mu.Lock()
	a.searches = append(a.searches, SearchCall{Namespace: namespace, Query: query, TopK: topK})
	block := a.Block
	a.mu.Unlock()

	if block != nil {
		if err := block(ctx); err != nil {
			return nil, err
		}
	}
	if a.SearchErr != nil {
		return nil, a.SearchErr
	}
	return a.SearchResults, nil
}

// Add implements memory.Adapter.
func (a *Adapter) Add(ctx context.Context, item memory.Item) error {
	a.mu.Lock()
	block := a.Block
	a.mu.Unlock()

	if block != nil {
		if err := block(ctx); err != nil {
			return err
		}
	}
	if a.AddErr != nil {
		return a.AddErr
	}
	a.mu.Lock()
	a.added = append(a.added, item)
	a.mu.Unlock()
	return nil
}

// Close implements memory.Adapter.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// Searches returns a copy of all recorded Search calls.
func (a *Adapter) Searches() []SearchCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SearchCall, len(a.searches))
	copy(out, a.searches)
	return out
}

// Added returns a copy of all items successfully stored.
func (a *Adapter) Added() []memory.Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]memory.Item, len(a.added))
	copy(out, a.added)
	return out
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

var _ memory.Adapter = (*Adapter)(nil)
