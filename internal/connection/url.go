package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL returns the realtime endpoint for tripID. http(s) bases are
// mapped to ws(s). The token and API key travel as query parameters since
// browsers cannot set headers on WebSocket handshakes and the server
// accepts both clients the same way.
func BuildURL(base, tripID, token, apiKey string) (string, error) {
	if tripID == "" {
		return "", fmt.Errorf("build url: trip id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("build url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("build url: missing host in %q", base)
	}

	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/realtime/trips/" + url.PathEscape(tripID)
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}

	q := u.Query()
	q.Set("token", token)
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
