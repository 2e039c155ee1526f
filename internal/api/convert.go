package api

import (
	"time"

	"github.com/rickgao/tripsync/internal/model"
)

// ParseTimestamp parses an ISO 8601 timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return time.Time{}
		}
	}

	return t.UTC()
}

func revision(version int64, updatedAt string) model.Revision {
	return model.Revision{Version: version, UpdatedAt: ParseTimestamp(updatedAt)}
}

// ToModel converts an APITrip to model.Trip.
func (t *APITrip) ToModel() model.Trip {
	return model.Trip{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Destination: t.Destination,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		Deleted:     t.Deleted,
		Rev:         revision(t.Version, t.UpdatedAt),
	}
}

// ToModel converts an APIMember to model.Member.
func (m *APIMember) ToModel(tripID string) model.Member {
	return model.Member{
		TripID:      tripID,
		UserID:      m.UserID,
		Role:        m.Role,
		DisplayName: m.DisplayName,
		Rev:         revision(m.Version, m.UpdatedAt),
	}
}

// ToModel converts an APIMessage to model.ChatMessage.
func (m *APIMessage) ToModel(tripID string) model.ChatMessage {
	return model.ChatMessage{
		ID:        m.ID,
		TripID:    tripID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: ParseTimestamp(m.CreatedAt),
		Edited:    m.Edited,
		Rev:       revision(m.Version, m.UpdatedAt),
	}
}
