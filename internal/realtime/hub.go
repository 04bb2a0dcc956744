// Package realtime serves the websocket channel and fans match-room events
// out to connected parties, across instances when a bus is configured.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
)

// Frame is one room publish as it travels between instances.
// Except names a connection that must not receive it.
type Frame struct {
	MatchID uint64          `json:"match_id"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher fans frames out to every instance, the local one included.
type Publisher interface {
	Publish(ctx context.Context, f Frame) error
}

// Hub tracks live connections and the match room each one is in.
// A connection is in at most one room at a time.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[uint64]map[string]*Client
	rooms   map[uint64]map[string]*Client
	roomOf  map[string]uint64
	closed  bool

	bus Publisher
	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[uint64]map[string]*Client),
		rooms:   make(map[uint64]map[string]*Client),
		roomOf:  make(map[string]uint64),
		log:     log,
	}
}

// UseBus routes publishes through p instead of delivering locally.
// p must deliver back to this hub (see Bus.Run).
func (h *Hub) UseBus(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bus = p
}

// Register adds c. Returns false once the hub is shut down.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID()] = c
	if h.byUser[c.UserID()] == nil {
		h.byUser[c.UserID()] = make(map[string]*Client)
	}
	h.byUser[c.UserID()][c.ID()] = c
	metrics.WSConnections.Inc()
	return true
}

// Unregister removes c and returns the room it was in (0 if none).
func (h *Hub) Unregister(c *Client) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return 0
	}
	delete(h.clients, c.ID())
	if conns := h.byUser[c.UserID()]; conns != nil {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(h.byUser, c.UserID())
		}
	}
	metrics.WSConnections.Dec()
	return h.leaveLocked(c)
}

// Join moves c into matchID's room and returns the room it left (0 if none).
func (h *Hub) Join(c *Client, matchID uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return 0
	}
	prev := h.roomOf[c.ID()]
	if prev == matchID {
		return 0
	}
	h.leaveLocked(c)
	if h.rooms[matchID] == nil {
		h.rooms[matchID] = make(map[string]*Client)
	}
	h.rooms[matchID][c.ID()] = c
	h.roomOf[c.ID()] = matchID
	return prev
}

// Leave takes c out of its room and returns that room (0 if none).
func (h *Hub) Leave(c *Client) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) uint64 {
	room, ok := h.roomOf[c.ID()]
	if !ok {
		return 0
	}
	delete(h.roomOf, c.ID())
	if members := h.rooms[room]; members != nil {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return room
}

// RoomOf returns the room c is in, 0 if none.
func (h *Hub) RoomOf(c *Client) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomOf[c.ID()]
}

// InRoom reports whether userID has a local connection in matchID's room.
func (h *Hub) InRoom(matchID, userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[matchID] {
		if c.UserID() == userID {
			return true
		}
	}
	return false
}

// UserConnections counts userID's local connections.
func (h *Hub) UserConnections(userID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish sends env to everyone in matchID's room.
func (h *Hub) Publish(ctx context.Context, matchID uint64, env protocol.Envelope) {
	h.PublishExcept(ctx, matchID, env, "")
}

// PublishExcept sends env to everyone in matchID's room but connection except.
func (h *Hub) PublishExcept(ctx context.Context, matchID uint64, env protocol.Envelope, except string) {
	f := Frame{MatchID: matchID, Except: except, Payload: env.Bytes()}

	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()

	if bus != nil {
		err := bus.Publish(ctx, f)
		if err == nil {
			return
		}
		logger.FromContext(ctx, h.log).Warn("room bus publish failed, delivering locally",
			"match_id", matchID, "type", env.Type, "err", err)
	}
	h.Deliver(f)
}

// Deliver writes f to the local members of its room.
// Slow connections whose queue is full miss the frame.
func (h *Hub) Deliver(f Frame) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[f.MatchID]))
	for id, c := range h.rooms[f.MatchID] {
		if id != f.Except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	typ := frameType(f.Payload)
	for _, c := range targets {
		if c.Enqueue(f.Payload) {
			metrics.WSEvents.WithLabelValues("out", typ).Inc()
		} else {
			h.log.Debug("dropped frame for slow connection",
				"conn_id", c.ID(), "user_id", c.UserID(), "type", typ)
		}
	}
}

// Shutdown closes every connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func frameType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "unknown"
	}
	return head.Type
}
