package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/metrics"
)

// Router holds the event type -> reducers table.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	reducers map[event.Type][]namedReducer

	// dispatchMu serializes reducer execution.
	dispatchMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates an empty Router. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger.With("component", "router"),
		metrics:  m,
		reducers: make(map[event.Type][]namedReducer),
	}
}

// Register adds fn under name for events of type t. Reducers for one type
// run in registration order.
func (r *Router) Register(t event.Type, name string, fn Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reducers[t] = append(r.reducers[t], namedReducer{name: name, fn: fn})
}

// Use lets each registrar bind its reducers.
func (r *Router) Use(registrars ...Registrar) {
	for _, reg := range registrars {
		reg.Register(r)
	}
}

// Dispatch runs every reducer registered for env.Type.
func (r *Router) Dispatch(env event.Envelope) {
	r.mu.RLock()
	handlers := r.reducers[env.Type]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.Debug("no reducers for event type", "type", env.Type, "event_id", env.ID)
		r.statsMu.Lock()
		r.stats.Unhandled++
		r.statsMu.Unlock()
		return
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	for _, h := range handlers {
		if err := r.run(h, env); err != nil {
			r.logger.Warn("reducer failed",
				"reducer", h.name,
				"type", env.Type,
				"event_id", env.ID,
				"trip", env.TripID,
				"error", err,
			)
			r.statsMu.Lock()
			r.stats.ReducerErrors++
			r.statsMu.Unlock()
		}
	}

	r.statsMu.Lock()
	r.stats.Dispatched++
	r.statsMu.Unlock()
}

// run invokes one reducer, converting a panic into an error.
func (r *Router) run(h namedReducer, env event.Envelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.statsMu.Lock()
			r.stats.Panics++
			r.statsMu.Unlock()
			r.metrics.HandlerPanic(string(env.Type))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.fn(env)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	count := 0
	for _, hs := range r.reducers {
		count += len(hs)
	}
	r.mu.RUnlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s := r.stats
	s.ReducerCount = count
	return s
}
