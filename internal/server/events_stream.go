package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// StreamEvent is one SSE message: the source store name and its payload.
type StreamEvent struct {
	Name string
	Data interface{}
}

// StreamHub fans snapshot changes out to connected SSE clients. Slow clients
// drop events rather than blocking the publishers.
type StreamHub struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan StreamEvent
	nextID uint64
	closed bool
}

// NewStreamHub creates an empty hub.
func NewStreamHub(log zerolog.Logger) *StreamHub {
	return &StreamHub{
		log:  log.With().Str("component", "events_stream").Logger(),
		subs: make(map[uint64]chan StreamEvent),
	}
}

// Publish delivers an event to every connected client without blocking.
func (h *StreamHub) Publish(name string, data interface{}) {
	event := StreamEvent{Name: name, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.log.Debug().Uint64("client", id).Str("event", name).Msg("Dropping event for slow client")
		}
	}
}

// Close disconnects every client.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *StreamHub) subscribe() (uint64, chan StreamEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	h.nextID++
	id := h.nextID
	ch := make(chan StreamEvent, 100) // buffer to prevent blocking
	h.subs[id] = ch
	return id, ch, true
}

func (h *StreamHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// ServeHTTP handles GET /api/events/stream (SSE). The optional "types" query
// parameter filters to a comma-separated set of event names.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var allowed map[string]bool
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowed = make(map[string]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowed[strings.TrimSpace(t)] = true
		}
	}

	id, events, ok := h.subscribe()
	if !ok {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(id)

	h.log.Info().Uint64("client", id).Msg("Client connected to event stream")
	defer h.log.Info().Uint64("client", id).Msg("Client disconnected from event stream")

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if allowed != nil && !allowed[event.Name] {
				continue
			}
			payload, err := json.Marshal(event.Data)
			if err != nil {
				h.log.Warn().Err(err).Str("event", event.Name).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
			flusher.Flush()
		}
	}
}
