package websocket

import (
	"context"
	"sync"
)

// Hub fans messages out to the connections listening on a channel. A
// connection's channels are fixed when it registers.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
	}
}

// Run serializes registrations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		}
	}
}

// Register queues client for addition, listening on channels.
func (h *Hub) Register(client *Client, channels ...string) {
	for _, ch := range channels {
		client.Subscribe(ch)
	}
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast never blocks; slow clients drop messages.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	for _, ch := range c.Channels() {
		set, ok := h.channels[ch]
		if !ok {
			set = make(map[*Client]struct{})
			h.channels[ch] = set
		}
		set[c] = struct{}{}
	}
}

// remove closes Send exactly once, and only for a registered client.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for _, ch := range c.Channels() {
		if set, ok := h.channels[ch]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	delete(h.clients, c.ID)
	close(c.Send)
}
