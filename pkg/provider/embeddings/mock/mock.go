// Package mock provides a test double for the embeddings.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/itsDarianNgo/Chatter/pkg/provider/embeddings"
)

// Provider is a scripted embeddings.Provider. Exported fields control what
// each method returns; calls are recorded for assertion. Safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed when EmbedErr is nil.
	EmbedResult []float32

	// EmbedErr is returned by Embed when non-nil.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch when EmbedBatchErr is
	// nil. When nil, a slice of nil vectors matching len(texts) is
	// returned.
	EmbedBatchResult [][]float32

	// EmbedBatchErr is returned by EmbedBatch when non-nil.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	embedCalls [][]string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls = append(p.embedCalls, []string{text})
	p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.mu.Lock()
	p.embedCalls = append(p.embedCalls, cp)
	p.mu.Unlock()
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns a copy of every Embed and EmbedBatch input, in order.
func (p *Provider) Calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.embedCalls))
	copy(out, p.embedCalls)
	return out
}

var _ embeddings.Provider = (*Provider)(nil)
