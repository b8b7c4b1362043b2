// Package bus abstracts the Redis Streams message bus.
//
// The bus carries JSON-encoded records (see pkg/types) on named streams.
// Delivery is at-least-once: consumers read through consumer groups, ack
// after processing, and must be idempotent on record ids. TailRange reads
// the newest records of a stream without a group; no service loop calls it,
// and the tests use it to inspect what was published.
//
// The production implementation lives in this package ([Redis]); an
// in-memory fake for tests lives in the mock subpackage.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrDegraded is returned by operations attempted while the bus connection
// is known to be down. Callers back off and retry; they never crash on it.
var ErrDegraded = errors.New("bus: degraded, connection unavailable")

// Message is one bus entry as delivered to a consumer.
type Message struct {
	// ID is the stream entry id assigned by the bus (not the record id
	// inside the payload).
	ID string

	// Payload is the raw JSON record.
	Payload []byte
}

// Bus is the transport the gateway and the persona workers publish to and
// consume from. Implementations are safe for concurrent use.
type Bus interface {
	// Publish appends payload to stream.
	Publish(ctx context.Context, stream string, payload []byte) error

	// EnsureGroup creates the consumer group on stream if it does not
	// already exist. Creating an existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// GroupRead blocks up to block for new entries on stream delivered to
	// the given group and consumer, returning at most count messages.
	// A nil slice with nil error means the block timed out.
	GroupRead(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)

	// Ack acknowledges processed entries for the group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// TailRange reads up to count of the newest entries on stream without a
	// group, oldest first.
	TailRange(ctx context.Context, stream string, count int64) ([]Message, error)

	// Close releases the underlying connection.
	Close() error
}
