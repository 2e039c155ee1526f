package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/tripsync/internal/auth"
)

// ErrNoRefreshToken is returned by RefreshSession when the current session
// cannot be refreshed.
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshSession exchanges the current refresh token for a new session.
// It has the signature of auth.RefreshFunc.
func (c *Client) RefreshSession(ctx context.Context, current auth.Session) (auth.Session, error) {
	if current.RefreshToken == "" {
		return auth.Session{}, fmt.Errorf("refresh session: %w", ErrNoRefreshToken)
	}

	var resp RefreshResponse
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   RefreshRequest{RefreshToken: current.RefreshToken},
		noAuth: true,
	}, &resp)
	if err != nil {
		return auth.Session{}, fmt.Errorf("refresh session: %w", err)
	}

	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = current.RefreshToken
	}
	userID := resp.UserID
	if userID == "" {
		userID = current.UserID
	}

	sess, err := auth.SessionFromToken(resp.AccessToken, refresh, userID)
	if err != nil {
		return auth.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	c.logger.Info("session refreshed", "user", sess.UserID, "expires_at", sess.ExpiresAt)
	return sess, nil
}
