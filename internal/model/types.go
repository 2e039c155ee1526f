package model

import "time"

// -----------------------------------------------------------------------------
// Revisions
// -----------------------------------------------------------------------------

// Revision orders writes to a single entity. Version is the server's
// monotonic counter; UpdatedAt breaks ties between writes carrying the same
// version (optimistic local writes keep the version they were based on).
type Revision struct {
	Version   int64
	UpdatedAt time.Time
	Pending   bool // Set by an optimistic write until the server confirms it
}

// Newer reports whether r should replace cached.
func (r Revision) Newer(cached Revision) bool {
	if r.Version != cached.Version {
		return r.Version > cached.Version
	}
	return r.UpdatedAt.After(cached.UpdatedAt)
}

// -----------------------------------------------------------------------------
// Trip
// -----------------------------------------------------------------------------

// Trip is the shared resource a realtime channel is scoped to.
type Trip struct {
	ID          string
	Name        string
	Description string
	Destination string
	StartDate   string // YYYY-MM-DD, empty when unset
	EndDate     string
	Deleted     bool
	Rev         Revision
}

// TripPatch lists the trip fields a write touches. Nil fields are left
// unchanged.
type TripPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Destination *string `json:"destination,omitempty"`
	StartDate   *string `json:"startDate,omitempty"`
	EndDate     *string `json:"endDate,omitempty"`
}

// Empty reports whether the patch touches no field.
func (p TripPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Destination == nil &&
		p.StartDate == nil && p.EndDate == nil
}

// ApplyTo writes the present fields onto t.
func (p TripPatch) ApplyTo(t *Trip) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Destination != nil {
		t.Destination = *p.Destination
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		t.EndDate = *p.EndDate
	}
}

// -----------------------------------------------------------------------------
// Membership
// -----------------------------------------------------------------------------

// Member roles.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Member is a user's participation in a trip.
type Member struct {
	TripID      string
	UserID      string
	Role        string
	DisplayName string
	Rev         Revision
}

// -----------------------------------------------------------------------------
// Chat
// -----------------------------------------------------------------------------

// ChatMessage is a single message in a trip's chat.
type ChatMessage struct {
	ID        string
	TripID    string
	SenderID  string
	Body      string
	CreatedAt time.Time
	Edited    bool
	Rev       Revision
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification kinds derived from events. Server-pushed notifications
// carry their own kind.
const (
	NotifyTripUpdated  = "trip_updated"
	NotifyTripDeleted  = "trip_deleted"
	NotifyMemberJoined = "member_joined"
	NotifyMemberLeft   = "member_left"
	NotifyChatMessage  = "chat_message"
)

// Notification is a user-facing entry in the capped notification list.
type Notification struct {
	ID        string
	TripID    string
	Kind      string
	ActorID   string
	Text      string
	CreatedAt time.Time
}
