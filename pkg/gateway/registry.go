package gateway

import (
	"sync"
	"time"
)

// idleAfter is how long without traffic before a client counts as idle
const idleAfter = 5 * time.Minute

// ClientRegistry tracks connected clients keyed by ID. All methods are
// safe for concurrent use.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers a client
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Remove drops a client by ID
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Touch updates a client's last activity time
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = time.Now()
	}
}

// matching collects the clients keep accepts. Callers get a fresh slice
// and may range over it without holding the registry lock.
func (r *ClientRegistry) matching(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if keep(client) {
			out = append(out, client)
		}
	}
	return out
}

// All returns every connected client
func (r *ClientRegistry) All() []*Client {
	return r.matching(func(*Client) bool { return true })
}

// Authenticated returns only clients past the auth handshake
func (r *ClientRegistry) Authenticated() []*Client {
	return r.matching(func(c *Client) bool { return c.Authenticated })
}

// Snapshot returns a point-in-time view of every connected client
func (r *ClientRegistry) Snapshot() []ClientInfo {
	now := time.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			RemoteAddr:    client.RemoteAddr,
			Idle:          now.Sub(client.LastActivity) > idleAfter,
		})
	}
	return infos
}
