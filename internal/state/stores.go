package state

import (
	"log/slog"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/router"
)

// Stores groups the domain stores of one client.
type Stores struct {
	Trips         *TripStore
	Members       *MembershipStore
	Chat          *ChatStore
	Notifications *NotificationStore
}

// NewStores creates every store.
func NewStores(c clock.Clock, notificationCapacity int, logger *slog.Logger) *Stores {
	return &Stores{
		Trips:         NewTripStore(c, logger),
		Members:       NewMembershipStore(logger),
		Chat:          NewChatStore(logger),
		Notifications: NewNotificationStore(notificationCapacity, logger),
	}
}

// Register binds every store's reducers.
func (s *Stores) Register(r *router.Router) {
	r.Use(s.Trips, s.Members, s.Chat, s.Notifications)
}
