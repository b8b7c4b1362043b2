package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/itsDarianNgo/Chatter/internal/config"
)

// handshakeTimeout bounds how long a fresh connection may sit without
// sending its first subscribe frame.
const handshakeTimeout = 10 * time.Second

// clientFrame is a control frame from a subscriber. Chat content only flows
// server to client; the ingest stream is the write path.
type clientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}

// serverFrame is a control reply to a subscriber.
type serverFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WSHandler upgrades /ws requests and bridges hub queues onto WebSocket
// connections.
type WSHandler struct {
	hub    *Hub
	rooms  map[string]config.Room
	logger *slog.Logger
}

// NewWSHandler returns a handler fanning out through hub, accepting
// subscriptions only for known rooms.
func NewWSHandler(hub *Hub, rooms map[string]config.Room, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{hub: hub, rooms: rooms, logger: logger.With("component", "ws")}
}

// ServeHTTP accepts the WebSocket, waits for the subscribe handshake, then
// runs a read loop for further control frames and a write loop draining the
// client's hub queue.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientID := uuid.NewString()
	client := h.hub.Register(clientID, DefaultClientQueue)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hsCtx, hsCancel := context.WithTimeout(ctx, handshakeTimeout)
	ok := h.readControl(hsCtx, conn, client, clientID)
	hsCancel()
	if !ok {
		return
	}

	go func() {
		defer cancel()
		for {
			if !h.readControl(ctx, conn, client, clientID) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-client.queue:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				h.logger.Debug("client write failed", "client_id", clientID, "error", err)
				return
			}
		}
	}
}

// readControl reads and handles one control frame. It returns false when the
// connection should be torn down.
func (h *WSHandler) readControl(ctx context.Context, conn *websocket.Conn, client *Client, clientID string) bool {
	_, data, err := conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			h.logger.Debug("client read failed", "client_id", clientID, "error", err)
		}
		return false
	}

	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.writeFrame(ctx, conn, serverFrame{Type: "error", Error: "malformed frame"})
		return true
	}

	switch frame.Type {
	case "subscribe":
		if _, known := h.rooms[frame.RoomID]; !known {
			h.writeFrame(ctx, conn, serverFrame{Type: "error", RoomID: frame.RoomID, Error: "unknown room"})
			return true
		}
		h.hub.Subscribe(client, frame.RoomID)
		h.writeFrame(ctx, conn, serverFrame{Type: "subscribed", RoomID: frame.RoomID})
		h.logger.Info("client subscribed", "client_id", clientID, "room_id", frame.RoomID)
	case "ping":
		h.writeFrame(ctx, conn, serverFrame{Type: "pong"})
	default:
		h.writeFrame(ctx, conn, serverFrame{Type: "error", Error: "unknown frame type"})
	}
	return true
}

func (h *WSHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("control write failed", "error", err)
	}
}
