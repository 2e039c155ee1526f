package api

import "github.com/rickgao/tripsync/internal/model"

// TripResponse from GET /trips/{id} and PATCH /trips/{id}
type TripResponse struct {
	Trip APITrip `json:"trip"`
}

// APITrip represents a trip from the API.
type APITrip struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Destination string `json:"destination"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Deleted     bool   `json:"deleted"`
	Version     int64  `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
}

// MembersResponse from GET /trips/{id}/members
type MembersResponse struct {
	Members []APIMember `json:"members"`
	Cursor  string      `json:"cursor"`
}

// APIMember represents a trip member from the API.
type APIMember struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Version     int64  `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
}

// MessagesResponse from GET /trips/{id}/messages
type MessagesResponse struct {
	Messages []APIMessage `json:"messages"`
	Cursor   string       `json:"cursor"`
}

// APIMessage represents a chat message from the API.
type APIMessage struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
	Edited    bool   `json:"edited"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updatedAt"`
}

// UpdateTripRequest is the PATCH /trips/{id} body. BaseVersion lets the
// server reject writes based on an outdated trip.
type UpdateTripRequest struct {
	model.TripPatch
	BaseVersion int64 `json:"baseVersion"`
}

// RefreshRequest is the POST /auth/refresh body.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse from POST /auth/refresh
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// ListOptions pages a list request.
type ListOptions struct {
	Limit  int
	Cursor string
}
