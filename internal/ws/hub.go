package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tailpay/internal/domain"
)

// RoomOBS is the room joined by stream overlay clients.
const RoomOBS = "obs"

// Client represents a single WebSocket subscriber.
type Client struct {
	Room   string
	Send   chan []byte
	Hub    *Hub // set so Close() can unregister
	mu     sync.Mutex
	closed bool
}

func NewClient(room string) *Client {
	return &Client{Room: room, Send: make(chan []byte, 256)}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
	close(c.Send)
}

// Hub maintains the set of active subscribers and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// room -> clients
	byRoom map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byRoom:  make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	h.clients[c] = struct{}{}
	if c.Room == "" {
		return
	}
	if h.byRoom[c.Room] == nil {
		h.byRoom[c.Room] = make(map[*Client]struct{})
	}
	h.byRoom[c.Room][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if m := h.byRoom[c.Room]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byRoom, c.Room)
		}
	}
}

func (h *Hub) BroadcastToRoom(room string, payload interface{}) {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	m := h.byRoom[room]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	deliver(clients, data)
}

func (h *Hub) BroadcastAll(payload interface{}) {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	deliver(clients, data)
}

// deliver never blocks: a subscriber with a full buffer misses the message.
func deliver(clients []*Client, data []byte) {
	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.Send <- data:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Envelope is the wire format of every pushed message.
type Envelope struct {
	Event     string              `json:"event"`
	Data      *domain.IntentEvent `json:"data,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Emit implements notify.Notifier. Observations go to the overlay room as
// "donation" and to everyone as "new_donation"; confirmations go to everyone.
func (h *Hub) Emit(evt domain.IntentEvent) {
	now := time.Now().UnixMilli()
	switch evt.Type {
	case domain.EventObserved:
		h.BroadcastToRoom(RoomOBS, Envelope{Event: "donation", Data: &evt, Timestamp: now})
		h.BroadcastAll(Envelope{Event: "new_donation", Data: &evt, Timestamp: now})
	case domain.EventConfirmed:
		h.BroadcastAll(Envelope{Event: "donation_confirmed", Data: &evt, Timestamp: now})
	default:
		return
	}
	slog.Info("emitted intent event",
		"event", evt.Type,
		"intent_id", evt.ID,
		"amount", evt.Amount.String(),
		"connected_clients", h.ClientCount())
}
