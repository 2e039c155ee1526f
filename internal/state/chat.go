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

type messageEntry struct {
	msg     model.ChatMessage
	deleted bool
}

// ChatStore caches chat messages keyed by trip and message id.
type ChatStore struct {
	logger *slog.Logger

	mu    sync.RWMutex
	trips map[string]map[string]*messageEntry
}

func NewChatStore(logger *slog.Logger) *ChatStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatStore{
		logger: logger.With("component", "chat_store"),
		trips:  make(map[string]map[string]*messageEntry),
	}
}

// Register binds the chat reducers.
func (s *ChatStore) Register(r *router.Router) {
	r.Register(event.ChatMessageCreated, "chat", s.onCreated)
	r.Register(event.ChatMessageUpdated, "chat", s.onUpdated)
	r.Register(event.ChatMessageDeleted, "chat", s.onDeleted)
	r.Register(event.TripDeleted, "chat", s.onTripDeleted)
}

// Messages returns the visible messages of a trip, oldest first.
func (s *ChatStore) Messages(tripID string) []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ChatMessage
	for _, e := range s.trips[tripID] {
		if !e.deleted {
			out = append(out, e.msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Replace applies messages fetched at asOf, with the same rules as
// MembershipStore.Replace.
func (s *ChatStore) Replace(tripID string, messages []model.ChatMessage, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.tripLocked(tripID)
	listed := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		m.TripID = tripID
		listed[m.ID] = struct{}{}
		s.putLocked(byID, m)
	}

	for id, e := range byID {
		if _, ok := listed[id]; ok || e.deleted {
			continue
		}
		tomb := model.Revision{Version: e.msg.Rev.Version, UpdatedAt: asOf}
		if tomb.Newer(e.msg.Rev) {
			e.deleted = true
			e.msg.Rev = tomb
		}
	}
}

func (s *ChatStore) tripLocked(tripID string) map[string]*messageEntry {
	byID, ok := s.trips[tripID]
	if !ok {
		byID = make(map[string]*messageEntry)
		s.trips[tripID] = byID
	}
	return byID
}

func (s *ChatStore) putLocked(byID map[string]*messageEntry, m model.ChatMessage) bool {
	e, ok := byID[m.ID]
	if !ok {
		byID[m.ID] = &messageEntry{msg: m}
		return true
	}
	if !m.Rev.Newer(e.msg.Rev) {
		return false
	}
	e.msg = m
	e.deleted = false
	return true
}

func (s *ChatStore) onCreated(env event.Envelope) error {
	p, ok := env.Payload.(*event.ChatMessageCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(s.tripLocked(env.TripID), model.ChatMessage{
		ID:        p.MessageID,
		TripID:    env.TripID,
		SenderID:  p.SenderID,
		Body:      p.Body,
		CreatedAt: p.CreatedAt.UTC(),
		Rev:       env.Revision(),
	})
	return nil
}

func (s *ChatStore) onUpdated(env event.Envelope) error {
	p, ok := env.Payload.(*event.ChatMessageUpdatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.trips[env.TripID][p.MessageID]
	if !ok || e.deleted {
		return nil
	}
	rev := env.Revision()
	if !rev.Newer(e.msg.Rev) {
		return nil
	}
	e.msg.Body = p.Body
	e.msg.Edited = true
	e.msg.Rev = rev
	return nil
}

func (s *ChatStore) onDeleted(env event.Envelope) error {
	p, ok := env.Payload.(*event.ChatMessageDeletedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", env.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.tripLocked(env.TripID)
	rev := env.Revision()
	e, ok := byID[p.MessageID]
	if !ok {
		byID[p.MessageID] = &messageEntry{
			msg:     model.ChatMessage{ID: p.MessageID, TripID: env.TripID, Rev: rev},
			deleted: true,
		}
		return nil
	}
	if !rev.Newer(e.msg.Rev) {
		return nil
	}
	e.deleted = true
	e.msg.Rev = rev
	return nil
}

func (s *ChatStore) onTripDeleted(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := env.Revision()
	for _, e := range s.trips[env.TripID] {
		if !e.deleted && rev.Newer(e.msg.Rev) {
			e.deleted = true
			e.msg.Rev = rev
		}
	}
	return nil
}
