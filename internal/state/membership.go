package state

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/model"
	"github.com/rickgao/tripsync/internal/router"
)

type memberEntry struct {
	member  model.Member
	removed bool
}

// MembershipStore caches trip members keyed by trip and user id.
type MembershipStore struct {
	logger *slog.Logger

	mu    sync.RWMutex
	trips map[string]map[string]*memberEntry
}

func NewMembershipStore(logger *slog.Logger) *MembershipStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipStore{
		logger: logger.With("component", "membership_store"),
		trips:  make(map[string]map[string]*memberEntry),
	}
}

// Register binds the membership reducers.
func (s *MembershipStore) Register(r *router.Router) {
	r.Register(event.MemberAdded, "membership", s.onMemberAdded)
	r.Register(event.MemberUpdated, "membership", s.onMemberUpdated)
	r.Register(event.MemberRemoved, "membership", s.onMemberRemoved)
	r.Register(event.TripDeleted, "membership", s.onTripDeleted)
}

// Members returns the live members of a trip ordered by user id.
func (s *MembershipStore) Members(tripID string) []model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Member
	for _, e := range s.trips[tripID] {
		if !e.removed {
			out = append(out, e.member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Member returns one live member.
func (s *MembershipStore) Member(tripID, userID string) (model.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.trips[tripID][userID]
	if !ok || e.removed {
		return model.Member{}, false
	}
	return e.member, true
}

// Replace applies a member list fetched at asOf. Each listed member is
// revision-gated; cached members missing from the list are tombstoned
// unless they changed after asOf.
func (s *MembershipStore) Replace(tripID string, members []model.Member, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.tripLocked(tripID)
	listed := make(map[string]struct{}, len(members))
	for _, m := range members {
		m.TripID = tripID
		listed[m.UserID] = struct{}{}
		s.putLocked(byUser, m)
	}

	for userID, e := range byUser {
		if _, ok := listed[userID]; ok || e.removed {
			continue
		}
		tomb := model.Revision{Version: e.member.Rev.Version, UpdatedAt: asOf}
		if tomb.Newer(e.member.Rev) {
			e.removed = true
			e.member.Rev = tomb
		}
	}
}

func (s *MembershipStore) tripLocked(tripID string) map[string]*memberEntry {
	byUser, ok := s.trips[tripID]
	if !ok {
		byUser = make(map[string]*memberEntry)
		s.trips[tripID] = byUser
	}
	return byUser
}

// putLocked inserts m or replaces the cached entry if m is newer.
func (s *MembershipStore) putLocked(byUser map[string]*memberEntry, m model.Member) bool {
	e, ok := byUser[m.UserID]
	if !ok {
		byUser[m.UserID] = &memberEntry{member: m}
		return true
	}
	if !m.Rev.Newer(e.member.Rev) {
		return false
	}
	e.member = m
	e.removed = false
	return true
}

func (s *MembershipStore) onMemberAdded(env event.Envelope) error {
	p, ok := env.Payload.(*event.MemberAddedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := s.putLocked(s.tripLocked(env.TripID), model.Member{
		TripID:      env.TripID,
		UserID:      p.UserID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		Rev:         env.Revision(),
	})
	if !applied {
		s.logger.Debug("stale member_added ignored", "trip", env.TripID, "user_id", p.UserID, "event_id", env.ID)
	}
	return nil
}

func (s *MembershipStore) onMemberUpdated(env event.Envelope) error {
	p, ok := env.Payload.(*event.MemberUpdatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[env.TripID][p.UserID]
	if !ok || e.removed {
		return nil
	}
	rev := env.Revision()
	if !rev.Newer(e.member.Rev) {
		return nil
	}
	if p.Role != nil {
		e.member.Role = *p.Role
	}
	if p.DisplayName != nil {
		e.member.DisplayName = *p.DisplayName
	}
	e.member.Rev = rev
	return nil
}

func (s *MembershipStore) onMemberRemoved(env event.Envelope) error {
	p, ok := env.Payload.(*event.MemberRemovedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.tripLocked(env.TripID)
	rev := env.Revision()
	e, ok := byUser[p.UserID]
	if !ok {
		// Tombstone only; the visible list is unchanged.
		byUser[p.UserID] = &memberEntry{
			member:  model.Member{TripID: env.TripID, UserID: p.UserID, Rev: rev},
			removed: true,
		}
		return nil
	}
	if !rev.Newer(e.member.Rev) {
		return nil
	}
	e.removed = true
	e.member.Rev = rev
	return nil
}

func (s *MembershipStore) onTripDeleted(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := env.Revision()
	for _, e := range s.trips[env.TripID] {
		if !e.removed && rev.Newer(e.member.Rev) {
			e.removed = true
			e.member.Rev = rev
		}
	}
	return nil
}
