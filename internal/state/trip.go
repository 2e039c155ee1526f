package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/model"
	"github.com/rickgao/tripsync/internal/router"
)

type tripEntry struct {
	trip model.Trip

	// base is the trip before the first pending optimistic write; nil when
	// nothing is pending.
	base *model.Trip
}

// TripStore caches trips by id.
type TripStore struct {
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	trips map[string]*tripEntry
}

// NewTripStore creates an empty store. c stamps optimistic writes.
func NewTripStore(c clock.Clock, logger *slog.Logger) *TripStore {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TripStore{
		clock:  c,
		logger: logger.With("component", "trip_store"),
		trips:  make(map[string]*tripEntry),
	}
}

// Register binds the trip reducers.
func (s *TripStore) Register(r *router.Router) {
	r.Register(event.TripUpdated, "trip", s.onTripUpdated)
	r.Register(event.TripDeleted, "trip", s.onTripDeleted)
}

// Get returns the cached trip. Deleted trips are reported as absent.
func (s *TripStore) Get(id string) (model.Trip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.trips[id]
	if !ok || e.trip.Deleted {
		return model.Trip{}, false
	}
	return e.trip, true
}

// Replace applies a snapshot fetched from the REST API. It reports whether
// the snapshot was newer than the cached trip.
func (s *TripStore) Replace(t model.Trip) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[t.ID]
	if !ok {
		t.Rev.Pending = false
		s.trips[t.ID] = &tripEntry{trip: t}
		return true
	}
	if !t.Rev.Newer(e.trip.Rev) {
		return false
	}
	t.Rev.Pending = false
	e.trip = t
	e.base = nil
	return true
}

// ApplyOptimistic patches a cached trip ahead of server confirmation. The
// revision keeps its version and is stamped with the current time, so only
// a strictly newer server version can overwrite it.
func (s *TripStore) ApplyOptimistic(id string, patch model.TripPatch) (model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[id]
	if !ok || e.trip.Deleted {
		return model.Trip{}, fmt.Errorf("apply optimistic patch to %s: %w", id, ErrUnknownTrip)
	}
	if e.base == nil {
		base := e.trip
		e.base = &base
	}

	patch.ApplyTo(&e.trip)
	e.trip.Rev = model.Revision{
		Version:   e.trip.Rev.Version,
		UpdatedAt: s.clock.Now(),
		Pending:   true,
	}
	return e.trip, nil
}

// ConfirmOptimistic settles pending writes with the server's response. The
// server trip is compared against the revision the optimistic writes were
// based on; if a newer event already superseded them it is compared against
// that instead.
func (s *TripStore) ConfirmOptimistic(server model.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[server.ID]
	if !ok {
		return
	}

	against := e.trip.Rev
	if e.base != nil {
		against = e.base.Rev
	}
	e.base = nil

	if server.Rev.Newer(against) {
		server.Rev.Pending = false
		e.trip = server
		return
	}
	e.trip.Rev.Pending = false
}

// RollbackOptimistic restores the trip to its state before pending writes.
// It is a no-op when nothing is pending.
func (s *TripStore) RollbackOptimistic(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[id]
	if !ok || e.base == nil {
		return
	}
	e.trip = *e.base
	e.base = nil
}

func (s *TripStore) onTripUpdated(env event.Envelope) error {
	p, ok := env.Payload.(*event.TripUpdatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[env.TripID]
	if !ok {
		// Nothing to patch; the next refetch brings the full trip.
		s.logger.Debug("update for uncached trip", "trip", env.TripID, "event_id", env.ID)
		return nil
	}
	if e.trip.Deleted {
		return nil
	}

	rev := env.Revision()
	if !rev.Newer(e.trip.Rev) {
		s.logger.Debug("stale trip update ignored",
			"trip", env.TripID,
			"event_version", rev.Version,
			"cached_version", e.trip.Rev.Version,
			"pending", e.trip.Rev.Pending,
		)
		return nil
	}

	p.Patch().ApplyTo(&e.trip)
	e.trip.Rev = rev
	e.base = nil
	return nil
}

func (s *TripStore) onTripDeleted(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := env.Revision()
	e, ok := s.trips[env.TripID]
	if !ok {
		s.trips[env.TripID] = &tripEntry{trip: model.Trip{ID: env.TripID, Deleted: true, Rev: rev}}
		return nil
	}
	if !rev.Newer(e.trip.Rev) {
		return nil
	}
	e.trip.Deleted = true
	e.trip.Rev = rev
	e.base = nil
	return nil
}
