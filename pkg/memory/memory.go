// Package memory is the scoped persona memory layer.
//
// Every memory belongs to exactly one namespace, derived from the room and
// the persona that wrote it. A persona can never retrieve another persona's
// memories or memories from another room. Reflection writes items here and
// the generator reads the top matches back into its prompt context.
//
// Two backends implement Adapter: the in-process store (data lost on
// restart, token-overlap search) and the PostgreSQL store in postgres/
// (pgvector similarity search over embedded content). Both sit behind
// Guard on the hot path so a slow or failing backend degrades retrieval
// instead of stalling reply generation.
package memory

import (
	"context"
	"time"
)

// Kind labels what a memory item captures.
const (
	// KindFact is something learned about a viewer or the stream.
	KindFact = "fact"

	// KindEvent is a notable moment the persona reacted to.
	KindEvent = "event"

	// KindStyle is a self-observation from reflection about how the
	// persona has been talking.
	KindStyle = "style"
)

// Item is one stored memory.
type Item struct {
	// ID is unique per item. Callers usually assign a UUID.
	ID string

	// Namespace scopes the item. Build it with Namespace.
	Namespace string

	// Content is the memory text. Guard redacts PII before it gets here.
	Content string

	// Kind is one of the Kind constants, or empty.
	Kind string

	// CreatedAt is when the item was written.
	CreatedAt time.Time
}

// SearchResult pairs an item with its distance to the query. Smaller is
// more similar; the scale depends on the backend.
type SearchResult struct {
	Item     Item
	Distance float64
}

// Adapter is the storage abstraction both backends implement.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Search returns up to topK items from the namespace, most similar
	// first. An empty result is not an error.
	Search(ctx context.Context, namespace, query string, topK int) ([]SearchResult, error)

	// Add stores one item under item.Namespace.
	Add(ctx context.Context, item Item) error

	// Close releases backend resources.
	Close()
}

// Namespace builds the scoping key for a room and persona pair.
func Namespace(roomID, personaID string) string {
	return "room:" + roomID + "|agent:" + personaID
}
