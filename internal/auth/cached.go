package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/kv"
)

// SessionKey is the kv key the cached session is stored under.
const SessionKey = "auth:session"

// refreshSkew is how early a token is refreshed before it expires.
const refreshSkew = 30 * time.Second

// RefreshFunc exchanges a refresh token for a new session.
type RefreshFunc func(ctx context.Context, current Session) (Session, error)

// Cached is a Provider that persists its session in a kv store so restarts
// reuse the last refreshed token, and refreshes through a RefreshFunc.
type Cached struct {
	store   kv.Store
	refresh RefreshFunc
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	session Session
	loaded  bool
}

// CachedOption configures a Cached provider.
type CachedOption func(*Cached)

// WithClock sets the clock used for expiry checks.
func WithClock(c clock.Clock) CachedOption {
	return func(p *Cached) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CachedOption {
	return func(p *Cached) { p.logger = l }
}

// NewCached returns a provider seeded with seed. A session already stored
// in store takes precedence over seed when it is newer (later expiry).
func NewCached(store kv.Store, seed Session, refresh RefreshFunc, opts ...CachedOption) *Cached {
	p := &Cached{
		store:   store,
		refresh: refresh,
		clock:   clock.Real(),
		logger:  slog.Default(),
		session: seed,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session returns the cached session, refreshing it first when the token is
// about to expire.
func (p *Cached) Session(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(ctx); err != nil {
		return Session{}, err
	}
	if p.session.Token == "" {
		return Session{}, ErrNoSession
	}

	if p.refresh != nil && p.session.ExpiresWithin(p.clock.Now(), refreshSkew) {
		if err := p.refreshLocked(ctx); err != nil {
			p.logger.Warn("proactive session refresh failed", "error", err)
			// Let the server decide; an expired token surfaces as an auth close.
		}
	}
	return p.session, nil
}

// RefreshSession unconditionally refreshes the session.
func (p *Cached) RefreshSession(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refresh == nil {
		return Session{}, ErrRefreshUnsupported
	}
	if err := p.loadLocked(ctx); err != nil {
		return Session{}, err
	}
	if err := p.refreshLocked(ctx); err != nil {
		return Session{}, err
	}
	return p.session, nil
}

func (p *Cached) refreshLocked(ctx context.Context) error {
	next, err := p.refresh(ctx, p.session)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if next.Token == "" {
		return fmt.Errorf("refresh session: %w", ErrNoSession)
	}
	if next.UserID == "" {
		next.UserID = p.session.UserID
	}
	if next.RefreshToken == "" {
		next.RefreshToken = p.session.RefreshToken
	}
	p.session = next

	if err := p.persistLocked(ctx); err != nil {
		p.logger.Warn("persist refreshed session failed", "error", err)
	}
	p.logger.Info("session refreshed", "user_id", next.UserID, "expires_at", next.ExpiresAt)
	return nil
}

func (p *Cached) loadLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	data, ok, err := p.store.Get(ctx, SessionKey)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	p.loaded = true
	if !ok {
		return nil
	}

	var stored Session
	if err := json.Unmarshal(data, &stored); err != nil {
		p.logger.Warn("discarding unreadable cached session", "error", err)
		return nil
	}
	if p.session.Token == "" || stored.ExpiresAt.After(p.session.ExpiresAt) {
		p.session = stored
	}
	return nil
}

func (p *Cached) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(p.session)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, SessionKey, data)
}
