// Package hub fans encoded protocol messages out to websocket clients and
// in-process subscribers using a channel-based register/broadcast loop.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-companion/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name string
	log  *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound frames to broadcast
	broadcast chan []byte

	register   chan registration
	unregister chan *Client

	// Guards clients for read-only access from outside the loop
	mu sync.RWMutex

	running atomic.Bool
	done    chan struct{}

	dropped atomic.Uint64
}

// registration is acknowledged by closing added once the client is in the
// client set.
type registration struct {
	client *Client
	added  chan struct{}
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		log:        logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled. Every
// client's send channel is closed on exit.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client] = true
			count := len(h.clients)
			h.mu.Unlock()
			close(reg.added)
			h.log.Debug("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, drop it
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an encoded frame to all connected clients
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// Publish encodes a protocol message and broadcasts it.
func (h *Hub) Publish(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.log.Error("encode broadcast", "type", msg.Type, "error", err)
		return
	}
	h.Broadcast(data)
}

// Subscribe registers an in-process subscriber with the given buffer size.
// The returned client's C channel is closed when it is unsubscribed, dropped
// as slow, or the hub stops.
func (h *Hub) Subscribe(buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	c := &Client{hub: h, send: make(chan []byte, buffer)}
	if !h.add(c) {
		close(c.send)
	}
	return c
}

// add returns once c is in the client set, or false if the hub has stopped.
func (h *Hub) add(c *Client) bool {
	reg := registration{client: c, added: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.done:
		return false
	}
	select {
	case <-reg.added:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were dropped because the hub was
// saturated.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}
