// Package notify broadcasts engine events (memory stored, contradiction
// detected) to websocket subscribers. Intended for dashboards and debug
// tooling; the engine works fine with no hub attached.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// Event is the wire format sent to subscribers.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Hub fans events out to connected websocket clients. Slow clients are
// dropped rather than allowed to back-pressure the engine.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[chan []byte]bool
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[chan []byte]bool),
	}
}

// Publish broadcasts an event to all subscribers. Never blocks; clients
// whose buffers are full lose the event.
func (h *Hub) Publish(event string, payload map[string]any) {
	data, err := json.Marshal(Event{Type: event, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.log.Warn().Str("event", event).Msg("subscriber buffer full, dropping event")
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil) //nolint:staticcheck
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }() //nolint:staticcheck

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data) //nolint:staticcheck
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("subscribers", count).Msg("websocket client connected")
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("subscribers", count).Msg("websocket client disconnected")
}
