// Package auth supplies the session (access token and user id) the realtime
// channel authenticates with, and refreshes it when the server rejects it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession is returned when no token is available.
	ErrNoSession = errors.New("auth: no session")

	// ErrRefreshUnsupported is returned by providers without a refresh source.
	ErrRefreshUnsupported = errors.New("auth: session refresh not supported")
)

// Session is an authenticated identity.
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"` // Zero when the token carries no expiry
}

// Valid reports whether s carries both a token and a user id.
func (s Session) Valid() bool {
	return s.Token != "" && s.UserID != ""
}

// ExpiresWithin reports whether the token expires before now+d. Tokens
// without an expiry never do.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// Provider is the auth collaborator consumed by the connection manager.
type Provider interface {
	// Session returns the current session.
	Session(ctx context.Context) (Session, error)

	// RefreshSession obtains a new token and returns the updated session.
	RefreshSession(ctx context.Context) (Session, error)
}

// Claims holds the token fields the client reads.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// ParseToken extracts the subject and expiry from a JWT without verifying
// its signature. The server verifies; the client only needs the identity.
func ParseToken(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// SessionFromToken builds a session for token. userID overrides the token
// subject; when empty the subject is used.
func SessionFromToken(token, refreshToken, userID string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoSession
	}

	s := Session{Token: token, RefreshToken: refreshToken, UserID: userID}
	claims, err := ParseToken(token)
	if err != nil {
		// Opaque tokens are allowed as long as the user id is configured.
		if userID == "" {
			return Session{}, err
		}
		return s, nil
	}

	if s.UserID == "" {
		s.UserID = claims.Subject
	}
	s.ExpiresAt = claims.ExpiresAt
	return s, nil
}

// Static is a Provider with a fixed session.
type Static struct {
	session Session
}

// NewStatic returns a provider that always yields s.
func NewStatic(s Session) *Static {
	return &Static{session: s}
}

func (p *Static) Session(context.Context) (Session, error) {
	if p.session.Token == "" {
		return Session{}, ErrNoSession
	}
	return p.session, nil
}

func (p *Static) RefreshSession(context.Context) (Session, error) {
	return Session{}, ErrRefreshUnsupported
}
