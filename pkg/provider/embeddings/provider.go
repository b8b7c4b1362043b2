// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The postgres memory store embeds every memory item on write and every
// search query on read, then ranks by cosine distance. Implementations wrap
// a hosted API (OpenAI) or a local server (Ollama).
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over a text-embedding backend.
//
// All vectors returned by one Provider instance share the dimensionality
// reported by Dimensions. Vectors from different instances must not be
// mixed in the same similarity computation unless model and space are known
// to match.
type Provider interface {
	// Embed computes the vector for a single text. The returned slice has
	// length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for several texts in one provider call.
	// The result is ordered like texts; on error the whole slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length this provider produces,
	// constant for the lifetime of the instance.
	Dimensions() int

	// ModelID is the provider-specific model identifier, for logging and
	// for checking that a deployment keeps using one model per index.
	ModelID() string
}
