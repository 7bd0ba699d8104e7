// Package gateway exposes the backend to browsers: a websocket endpoint for
// the realtime dashboard protocol and a small REST surface for account
// lifecycle. It also implements the push side used by the device-report
// services to reach live connections.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/logging"
)

// Hub tracks live websocket clients by connection id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	return &Hub{clients: make(map[string]*client), log: log}
}

func (h *Hub) bind(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unbind(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
}

// Push delivers a JSON payload to one live connection. ErrNotFound when the
// connection id is not bound to this process (the connection registry may
// lag a disconnect).
func (h *Hub) Push(ctx context.Context, connectionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling push payload: %w", err)
	}

	h.mu.RLock()
	c := h.clients[connectionID]
	h.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("connection %s: %w", connectionID, common.ErrNotFound)
	}
	if !c.trySend(data) {
		return fmt.Errorf("connection %s: send buffer full", connectionID)
	}
	return nil
}
