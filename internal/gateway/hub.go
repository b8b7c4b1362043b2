package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/itsDarianNgo/Chatter/internal/observe"
)

// DefaultClientQueue is the per-client outbound queue depth. A client that
// cannot drain this many frames starts losing its oldest ones.
const DefaultClientQueue = 64

// Client is one connected WebSocket subscriber. Frames queue in a bounded
// channel; when the queue is full the oldest frame is discarded so a slow
// reader never stalls the broadcaster or bloats gateway memory.
type Client struct {
	id    string
	queue chan []byte
	drops atomic.Int64

	mu    sync.Mutex
	rooms map[string]struct{}
}

// Drops reports how many frames this client has lost to queue overflow.
func (c *Client) Drops() int64 { return c.drops.Load() }

// push enqueues a frame, evicting the oldest queued frame if necessary.
func (c *Client) push(frame []byte) {
	for {
		select {
		case c.queue <- frame:
			return
		default:
		}
		select {
		case <-c.queue:
			c.drops.Add(1)
		default:
		}
	}
}

func (c *Client) subscribed(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Hub tracks connected clients and fans broadcast frames out to the ones
// subscribed to the frame's room. All methods are safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	metrics *observe.Metrics
}

// NewHub returns an empty Hub instrumented with m.
func NewHub(m *observe.Metrics) *Hub {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		metrics: m,
	}
}

// Register creates a Client with the given queue depth and adds it to the
// hub. The caller owns the connection; the hub only owns the queue.
func (h *Hub) Register(id string, queueDepth int) *Client {
	if queueDepth <= 0 {
		queueDepth = DefaultClientQueue
	}
	c := &Client{
		id:    id,
		queue: make(chan []byte, queueDepth),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSClients.Add(context.Background(), 1)
	return c
}

// Unregister removes the client. Its queue is left to be garbage collected
// with the connection goroutines.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.WSClients.Add(context.Background(), -1)
	}
}

// Subscribe adds the client to a room. A client may watch several rooms on
// one connection.
func (h *Hub) Subscribe(c *Client, roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

// Broadcast queues frame for every client subscribed to roomID and returns
// the number of clients reached.
func (h *Hub) Broadcast(roomID string, frame []byte) int {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(roomID) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		before := c.drops.Load()
		c.push(frame)
		if dropped := c.drops.Load() - before; dropped > 0 {
			h.metrics.ClientDrops.Add(context.Background(), dropped)
		}
	}
	return len(targets)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// TotalDrops sums queue-overflow drops across connected clients.
func (h *Hub) TotalDrops() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total int64
	for c := range h.clients {
		total += c.drops.Load()
	}
	return total
}
