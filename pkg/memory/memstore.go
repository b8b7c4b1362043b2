package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// maxPerNamespace bounds how many items one namespace holds in process.
// The oldest items are evicted first.
const maxPerNamespace = 512

// MemStore is the in-process Adapter. Search ranks items by query token
// overlap, which is enough for the deterministic and stub generation modes
// where no embeddings provider is configured.
type MemStore struct {
	mu    sync.RWMutex
	items map[string][]Item
}

// NewMemStore returns an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string][]Item)}
}

// Search implements Adapter.
func (m *MemStore) Search(_ context.Context, namespace, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, it := range m.items[namespace] {
		overlap := 0
		content := strings.ToLower(it.Content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		results = append(results, SearchResult{
			Item:     it,
			Distance: 1 - float64(overlap)/float64(len(terms)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Item.CreatedAt.After(results[j].Item.CreatedAt)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Add implements Adapter.
func (m *MemStore) Add(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := append(m.items[item.Namespace], item)
	if len(ns) > maxPerNamespace {
		ns = ns[len(ns)-maxPerNamespace:]
	}
	m.items[item.Namespace] = ns
	return nil
}

// Close implements Adapter.
func (m *MemStore) Close() {}

// Len reports how many items a namespace holds.
func (m *MemStore) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[namespace])
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?@#:;\"'")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

var _ Adapter = (*MemStore)(nil)
