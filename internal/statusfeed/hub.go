// Package statusfeed broadcasts sync controller status to connected
// websocket subscribers, replacing the teacher's gRPC time-sync stream
// with the same "periodic push to a connected client" shape over
// gorilla/websocket.
package statusfeed

import (
	"encoding/json"
	"sync"
	"time"

	"camerasync/internal/logging"
)

// Status is the JSON envelope pushed to every connected subscriber.
type Status struct {
	Type            string `json:"type"`
	Mode            string `json:"mode"`
	SyncReady       bool   `json:"sync_ready"`
	CorrectionState string `json:"correction_state"`
	OffsetUs        int64  `json:"offset_us"`
	LagUs           int64  `json:"lag_us"`
	Sequence        uint64 `json:"sequence"`
	ObservedAtMs    int64  `json:"observed_at_ms"`
}

// Hub fans a stream of Status updates out to every registered client. All
// client bookkeeping happens on a single goroutine (Run); Publish and
// ServeWS only ever touch channels, never the client map directly.
type Hub struct {
	log *logging.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub constructs a hub. Call Run to start dispatching.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	return &Hub{
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*Client]bool),
	}
}

// Run dispatches register/unregister/broadcast events until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer: drop the update rather than block the hub
					// loop (spec.md §5 — the status feed is diagnostic, not a
					// guaranteed-delivery channel).
					h.log.Warn("dropping status update for slow subscriber", logging.String("client", client.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish marshals status and enqueues it for broadcast. Non-blocking: if the
// broadcast buffer is full, the update is dropped and logged.
func (h *Hub) Publish(status Status) {
	if h == nil {
		return
	}
	status.Type = "sync.status"
	if status.ObservedAtMs == 0 {
		status.ObservedAtMs = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(status)
	if err != nil {
		h.log.Error("failed to marshal status payload", logging.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("status broadcast buffer full; dropping update")
	}
}

// ClientCount reports the number of currently registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
