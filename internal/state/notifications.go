package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/model"
	"github.com/rickgao/tripsync/internal/router"
)

// DefaultNotificationCapacity bounds the list when no capacity is given.
const DefaultNotificationCapacity = 50

// NotificationStore keeps a capped, arrival-ordered list of notifications
// derived from events. Events the local user caused do not notify.
type NotificationStore struct {
	capacity int
	logger   *slog.Logger

	mu     sync.RWMutex
	self   string
	items  []model.Notification
	byID   map[string]struct{}
	listen []func(model.Notification)

	// Last revision notified per entity, so a replay under a new event id
	// does not notify twice.
	revs map[string]model.Revision
}

// NewNotificationStore creates a store holding at most capacity entries.
func NewNotificationStore(capacity int, logger *slog.Logger) *NotificationStore {
	if capacity <= 0 {
		capacity = DefaultNotificationCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationStore{
		capacity: capacity,
		logger:   logger.With("component", "notification_store"),
		byID:     make(map[string]struct{}),
		revs:     make(map[string]model.Revision),
	}
}

// SetLocalUser sets the user whose own actions are not notified.
func (s *NotificationStore) SetLocalUser(userID string) {
	s.mu.Lock()
	s.self = userID
	s.mu.Unlock()
}

// OnNotify registers fn to be called, outside the store lock, for every
// notification added.
func (s *NotificationStore) OnNotify(fn func(model.Notification)) {
	s.mu.Lock()
	s.listen = append(s.listen, fn)
	s.mu.Unlock()
}

// Register binds the notification reducers.
func (s *NotificationStore) Register(r *router.Router) {
	r.Register(event.TripUpdated, "notifications", s.reduce)
	r.Register(event.TripDeleted, "notifications", s.reduce)
	r.Register(event.MemberAdded, "notifications", s.reduce)
	r.Register(event.MemberRemoved, "notifications", s.reduce)
	r.Register(event.ChatMessageCreated, "notifications", s.reduce)
	r.Register(event.NotificationCreated, "notifications", s.reduce)
}

// List returns the notifications in arrival order, oldest first.
func (s *NotificationStore) List() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Add appends n unless its id is already listed. It reports whether n was
// added.
func (s *NotificationStore) Add(n model.Notification) bool {
	s.mu.Lock()
	if _, dup := s.byID[n.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items, n)
	s.byID[n.ID] = struct{}{}
	for len(s.items) > s.capacity {
		delete(s.byID, s.items[0].ID)
		s.items[0] = model.Notification{}
		s.items = s.items[1:]
	}
	listeners := s.listen
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(n)
	}
	return true
}

// Clear empties the list.
func (s *NotificationStore) Clear() {
	s.mu.Lock()
	s.items = nil
	s.byID = make(map[string]struct{})
	s.revs = make(map[string]model.Revision)
	s.mu.Unlock()
}

func (s *NotificationStore) reduce(env event.Envelope) error {
	s.mu.Lock()
	self := s.self
	fresh := true
	if key := entityKey(env); key != "" {
		rev := env.Revision()
		if seen, ok := s.revs[key]; ok && !rev.Newer(seen) {
			fresh = false
		} else {
			s.revs[key] = rev
		}
	}
	s.mu.Unlock()

	if !fresh || (self != "" && env.ActorID == self) {
		return nil
	}

	n, err := notificationFor(env)
	if err != nil {
		return err
	}
	s.Add(n)
	return nil
}

// entityKey names the entity an event notifies about. Joins and leaves of
// one member share a key. Server-pushed notifications have none.
func entityKey(env event.Envelope) string {
	switch p := env.Payload.(type) {
	case *event.TripUpdatedPayload, *event.TripDeletedPayload:
		return "trip:" + env.TripID
	case *event.MemberAddedPayload:
		return "member:" + env.TripID + ":" + p.UserID
	case *event.MemberRemovedPayload:
		return "member:" + env.TripID + ":" + p.UserID
	case *event.ChatMessageCreatedPayload:
		return "chat:" + env.TripID + ":" + p.MessageID
	}
	return ""
}

func notificationFor(env event.Envelope) (model.Notification, error) {
	n := model.Notification{
		ID:        env.ID,
		TripID:    env.TripID,
		ActorID:   env.ActorID,
		CreatedAt: env.Timestamp,
	}

	switch p := env.Payload.(type) {
	case *event.TripUpdatedPayload:
		n.Kind = model.NotifyTripUpdated
		if p.Name != nil {
			n.Text = fmt.Sprintf("Trip renamed to %q", *p.Name)
		} else {
			n.Text = "Trip details changed"
		}
	case *event.TripDeletedPayload:
		n.Kind = model.NotifyTripDeleted
		n.Text = "Trip was deleted"
	case *event.MemberAddedPayload:
		n.Kind = model.NotifyMemberJoined
		n.Text = fmt.Sprintf("%s joined as %s", displayName(p.DisplayName, p.UserID), p.Role)
	case *event.MemberRemovedPayload:
		n.Kind = model.NotifyMemberLeft
		n.Text = fmt.Sprintf("%s left the trip", p.UserID)
	case *event.ChatMessageCreatedPayload:
		n.Kind = model.NotifyChatMessage
		n.Text = fmt.Sprintf("New message from %s", p.SenderID)
	case *event.NotificationCreatedPayload:
		n.ID = p.NotificationID
		n.Kind = p.Kind
		n.Text = p.Text
	default:
		return model.Notification{}, fmt.Errorf("no notification for payload %T", env.Payload)
	}
	return n, nil
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
