package router

import "github.com/rickgao/tripsync/internal/event"

// Reducer merges one event into a domain store.
type Reducer func(event.Envelope) error

// Registrar is implemented by domain stores that bind their reducers.
type Registrar interface {
	Register(r *Router)
}

// Stats contains runtime statistics.
type Stats struct {
	Dispatched    int64 // Events with at least one reducer
	Unhandled     int64 // Events whose type had no reducers
	ReducerErrors int64
	Panics        int64
	ReducerCount  int
}

type namedReducer struct {
	name string
	fn   Reducer
}
