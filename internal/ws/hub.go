package ws

import (
	"context"
	"log"
	"sync"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/redis/go-redis/v9"
)

// Hub tracks the live-view connections of this instance by session id.
// Session revocations arrive over Redis Pub/Sub so a logout on any
// instance closes the live views on every instance.
type Hub struct {
	// Map of session id -> set of connections (one session can have several tabs)
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	rdb            *redis.Client
	revokedChannel string
}

// NewHub creates a hub listening for revoked session ids on revokedChannel
func NewHub(rdb *redis.Client, revokedChannel string) *Hub {
	return &Hub{
		clients:        make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		rdb:            rdb,
		revokedChannel: revokedChannel,
	}
}

// Run starts the Hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ready := make(chan struct{})
	go h.subscribeRedis(ctx, ready)
	<-ready

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register queues a client for registration with the hub; false once the hub stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its connection
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.SessionID]; !ok {
		h.clients[client.SessionID] = make(map[*Client]bool)
	}
	h.clients[client.SessionID][client] = true
	log.Printf("✅ Live view connected: session %s (connections: %d)", client.SessionID, len(h.clients[client.SessionID]))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.SessionID]; ok {
		if clients[client] {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, client.SessionID)
			}
			log.Printf("❌ Live view disconnected: session %s", client.SessionID)
		}
	}
	client.close()
}

// Connections counts the open live views of a session on this instance
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// DisconnectSession tells every local live view of sessionID that the
// session ended, then closes them
func (h *Hub) DisconnectSession(sessionID string) {
	h.mu.Lock()
	clients := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	for client := range clients {
		client.Send(&model.WSEvent{Type: model.WSEventRevoked, Payload: map[string]string{"session_id": sessionID}})
		client.close()
	}
	if len(clients) > 0 {
		log.Printf("🛑 Closed %d live view(s) of revoked session %s", len(clients), sessionID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, clients := range all {
		for client := range clients {
			client.close()
		}
	}
}

// ========== Redis Pub/Sub for Horizontal Scaling ==========

// subscribeRedis closes the live views of sessions revoked anywhere
func (h *Hub) subscribeRedis(ctx context.Context, ready chan<- struct{}) {
	pubsub := h.rdb.Subscribe(ctx, h.revokedChannel)
	defer pubsub.Close()

	// Wait for the subscription so no revocation published after Run is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("⚠️  Redis Pub/Sub subscribe failed: %v", err)
	}
	close(ready)

	ch := pubsub.Channel()
	log.Println("📡 Redis Pub/Sub subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.DisconnectSession(msg.Payload)
		}
	}
}
