// Package router fans decoded push envelopes out to per-type subscribers.
package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/domain"
)

// Handler receives the envelope payload for one message type.
type Handler func(env domain.Envelope)

// knownTypes is the set of message kinds the router will dispatch.
// Anything else is logged and ignored, never fatal.
var knownTypes = map[domain.MessageType]bool{
	domain.AccountUpdate:    true,
	domain.WatchlistUpdate:  true,
	domain.PriceUpdate:      true,
	domain.TradingStatus:    true,
	domain.OrderUpdate:      true,
	domain.ConnectionStatus: true,
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Router dispatches envelopes to registered subscribers.
// Dispatch for a single type is serialized by the connection's read loop, so
// delivery to subscribers of the same type preserves arrival order.
type Router struct {
	mu     sync.RWMutex
	subs   map[domain.MessageType][]subscriber
	nextID uint64
	log    zerolog.Logger
}

// New creates an empty router.
func New(log zerolog.Logger) *Router {
	return &Router{
		subs: make(map[domain.MessageType][]subscriber),
		log:  log.With().Str("component", "router").Logger(),
	}
}

// Subscribe registers a handler for a message type and returns an
// unsubscribe function. The same payload reference is delivered to every
// subscriber of the type.
func (r *Router) Subscribe(t domain.MessageType, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[t] = append(r.subs[t], subscriber{id: id, handler: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[t]
		for i, s := range list {
			if s.id == id {
				r.subs[t] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.subs[t]) == 0 {
			delete(r.subs, t)
		}
	}
}

// Dispatch delivers an envelope to every subscriber of its type.
// A panicking handler is isolated so it cannot prevent delivery to the rest.
func (r *Router) Dispatch(env domain.Envelope) {
	if !knownTypes[env.Type] {
		r.log.Warn().Str("type", string(env.Type)).Msg("Ignoring unknown message type")
		return
	}

	r.mu.RLock()
	list := make([]subscriber, len(r.subs[env.Type]))
	copy(list, r.subs[env.Type])
	r.mu.RUnlock()

	if len(list) == 0 {
		r.log.Debug().Str("type", string(env.Type)).Msg("No subscribers for message type")
		return
	}

	for _, s := range list {
		r.deliver(s, env)
	}
}

func (r *Router) deliver(s subscriber, env domain.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("type", string(env.Type)).
				Interface("panic", rec).
				Msg("Subscriber panicked during dispatch")
		}
	}()
	s.handler(env)
}
