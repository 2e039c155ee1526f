package event

import (
	"time"

	"github.com/rickgao/tripsync/internal/model"
)

// Type is the closed set of domain event types.
type Type string

const (
	TripUpdated         Type = "trip_updated"
	TripDeleted         Type = "trip_deleted"
	MemberAdded         Type = "member_added"
	MemberUpdated       Type = "member_updated"
	MemberRemoved       Type = "member_removed"
	ChatMessageCreated  Type = "chat_message_created"
	ChatMessageUpdated  Type = "chat_message_updated"
	ChatMessageDeleted  Type = "chat_message_deleted"
	NotificationCreated Type = "notification_created"
)

// payloadFactories fixes the payload type for every event type. A type
// missing here is not a valid event.
var payloadFactories = map[Type]func() Payload{
	TripUpdated:         func() Payload { return &TripUpdatedPayload{} },
	TripDeleted:         func() Payload { return &TripDeletedPayload{} },
	MemberAdded:         func() Payload { return &MemberAddedPayload{} },
	MemberUpdated:       func() Payload { return &MemberUpdatedPayload{} },
	MemberRemoved:       func() Payload { return &MemberRemovedPayload{} },
	ChatMessageCreated:  func() Payload { return &ChatMessageCreatedPayload{} },
	ChatMessageUpdated:  func() Payload { return &ChatMessageUpdatedPayload{} },
	ChatMessageDeleted:  func() Payload { return &ChatMessageDeletedPayload{} },
	NotificationCreated: func() Payload { return &NotificationCreatedPayload{} },
}

// Types returns every known event type.
func Types() []Type {
	return []Type{
		TripUpdated, TripDeleted,
		MemberAdded, MemberUpdated, MemberRemoved,
		ChatMessageCreated, ChatMessageUpdated, ChatMessageDeleted,
		NotificationCreated,
	}
}

// Known reports whether t is a documented event type.
func (t Type) Known() bool {
	_, ok := payloadFactories[t]
	return ok
}

// Control frame types.
const (
	ControlConnected           = "connected"
	ControlPong                = "pong"
	ControlDuplicateConnection = "duplicate_connection"
)

// Metadata carries the event's origin.
type Metadata struct {
	Source        string `json:"source" validate:"required"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Envelope is a validated domain event.
type Envelope struct {
	ID        string
	Type      Type
	TripID    string // Wire name: resourceId
	ActorID   string // Empty for server-originated events
	Timestamp time.Time
	Version   int64
	Metadata  Metadata
	Payload   Payload
}

// Revision returns the ordering key the event's writes carry.
func (e Envelope) Revision() model.Revision {
	return model.Revision{Version: e.Version, UpdatedAt: e.Timestamp}
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	isPayload()
}

// TripUpdatedPayload patches trip fields. At least one field is present.
type TripUpdatedPayload struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=5000"`
	Destination *string `json:"destination,omitempty" validate:"omitempty,max=200"`
	StartDate   *string `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Patch converts the payload to a model patch.
func (p *TripUpdatedPayload) Patch() model.TripPatch {
	return model.TripPatch{
		Name:        p.Name,
		Description: p.Description,
		Destination: p.Destination,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
	}
}

type TripDeletedPayload struct{}

type MemberAddedPayload struct {
	UserID      string `json:"userId" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=owner editor viewer"`
	DisplayName string `json:"displayName,omitempty"`
}

type MemberUpdatedPayload struct {
	UserID      string  `json:"userId" validate:"required"`
	Role        *string `json:"role,omitempty" validate:"omitempty,oneof=owner editor viewer"`
	DisplayName *string `json:"displayName,omitempty"`
}

type MemberRemovedPayload struct {
	UserID string `json:"userId" validate:"required"`
}

type ChatMessageCreatedPayload struct {
	MessageID string    `json:"messageId" validate:"required"`
	SenderID  string    `json:"senderId" validate:"required"`
	Body      string    `json:"body" validate:"required"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

type ChatMessageUpdatedPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Body      string `json:"body" validate:"required"`
}

type ChatMessageDeletedPayload struct {
	MessageID string `json:"messageId" validate:"required"`
}

type NotificationCreatedPayload struct {
	NotificationID string `json:"notificationId" validate:"required"`
	Kind           string `json:"kind" validate:"required"`
	Text           string `json:"text" validate:"required"`
}

func (*TripUpdatedPayload) isPayload()         {}
func (*TripDeletedPayload) isPayload()         {}
func (*MemberAddedPayload) isPayload()         {}
func (*MemberUpdatedPayload) isPayload()       {}
func (*MemberRemovedPayload) isPayload()       {}
func (*ChatMessageCreatedPayload) isPayload()  {}
func (*ChatMessageUpdatedPayload) isPayload()  {}
func (*ChatMessageDeletedPayload) isPayload()  {}
func (*NotificationCreatedPayload) isPayload() {}
