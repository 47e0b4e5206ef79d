package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"livestock-cloud/internal/auth"
	"livestock-cloud/internal/tracking/notify"
)

// SSEBroker fans out alert pushes to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]string)}
}

// Push implements notify.Pusher. Slow clients miss pushes instead of
// blocking delivery.
func (b *SSEBroker) Push(_ context.Context, push notify.Push) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}
	b.broadcast(push.FarmID, payload)
	return nil
}

// Subscribe registers a client channel. An empty farmID receives every farm.
func (b *SSEBroker) Subscribe(farmID string) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = farmID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast sends while holding mu so Unsubscribe cannot close a channel
// mid-send.
func (b *SSEBroker) broadcast(farmID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, scope := range b.clients {
		if scope != "" && scope != farmID {
			continue
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alerts/stream[?farm_id=].
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	farmID := r.URL.Query().Get("farm_id")
	if scope := auth.FarmIDFromContext(r.Context()); scope != "" {
		if farmID != "" && farmID != scope {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		farmID = scope
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(farmID)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
