package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/tripsync/internal/coordination"
)

// Status is the lifecycle state of a trip connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDuplicate    Status = "duplicate_connection"
)

// Application close codes sent by the server.
const (
	CloseAuthFailed          = 4001
	CloseDuplicateConnection = 4009
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrDisconnected       = errors.New("disconnected")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrConflict           = errors.New("connection already open elsewhere")
	ErrUnknownTrip        = errors.New("unknown trip")
	ErrStaleConnection    = errors.New("connection stale (no messages)")
)

// AuthError reports that the server rejected the session, either at the
// handshake (HTTP 401/403) or by closing with CloseAuthFailed.
type AuthError struct {
	Code   int // HTTP status or close code
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("authentication failed (%d)", e.Code)
	}
	return fmt.Sprintf("authentication failed (%d): %s", e.Code, e.Reason)
}

// TransportError wraps a dial or socket failure.
type TransportError struct {
	StatusCode int // HTTP status of a failed handshake, 0 otherwise
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: handshake status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConflictError reports that another owner holds the trip's channel.
// PostConnect is set when the server evicted an open socket.
type ConflictError struct {
	TripID      string
	Existing    *coordination.Entry
	PostConnect bool
}

func (e *ConflictError) Error() string {
	if e.PostConnect {
		return fmt.Sprintf("trip %s: server reported a duplicate connection", e.TripID)
	}
	if e.Existing != nil {
		return fmt.Sprintf("trip %s: connection owned by %s since %s",
			e.TripID, e.Existing.OwnerID, e.Existing.Timestamp.Format(time.RFC3339))
	}
	return fmt.Sprintf("trip %s: connection owned elsewhere", e.TripID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Callbacks receive Client notifications. They are invoked outside the
// client's locks and may call back into the client.
type Callbacks struct {
	OnMessage func(data []byte)
	OnStatus  func(Status)
	OnError   func(error) // Terminal failures only
	OnOpen    func(reconnected bool)
}

// merge returns c with every non-nil field of update applied.
func (c Callbacks) merge(update Callbacks) Callbacks {
	if update.OnMessage != nil {
		c.OnMessage = update.OnMessage
	}
	if update.OnStatus != nil {
		c.OnStatus = update.OnStatus
	}
	if update.OnError != nil {
		c.OnError = update.OnError
	}
	if update.OnOpen != nil {
		c.OnOpen = update.OnOpen
	}
	return c
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL                  string        // ws:// or wss:// endpoint including auth query
	ConnectTimeout       time.Duration // Dial + handshake budget
	PingInterval         time.Duration // Application ping period
	HealthCheckInterval  time.Duration // Staleness check period
	StaleThreshold       time.Duration // Max silence before the socket is recycled
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:       10 * time.Second,
		PingInterval:         25 * time.Second,
		HealthCheckInterval:  10 * time.Second,
		StaleThreshold:       60 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		WriteTimeout:         5 * time.Second,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	BaseURL string // REST or WS base; the scheme is mapped to ws/wss
	APIKey  string
	OwnerID string // Written into registry entries

	Client ClientConfig // Template; URL is set per trip

	RegistryGrace     time.Duration // Entries younger than this block other owners
	RegistryHeartbeat time.Duration // Re-register period while connected
	DuplicateGrace    time.Duration // Delay before closing an evicted socket
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:            DefaultClientConfig(),
		RegistryGrace:     30 * time.Second,
		RegistryHeartbeat: 10 * time.Second,
		DuplicateGrace:    5 * time.Second,
	}
}

// pingFrame is the application keepalive.
var pingFrame = []byte(`{"type":"ping"}`)
