package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/tripsync/internal/auth"
	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/coordination"
	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/metrics"
)

// Dispatcher delivers validated events to the domain reducers.
// *router.Router satisfies it.
type Dispatcher interface {
	Dispatch(env event.Envelope)
}

// Resyncer refetches a trip's authoritative state after a reconnect.
type Resyncer interface {
	Resync(ctx context.Context, tripID string) error
}

// TripCallbacks receive per-trip notifications from the Manager.
type TripCallbacks struct {
	OnEvent  func(event.Envelope)
	OnStatus func(Status)
	OnError  func(error)
}

func (c TripCallbacks) merge(update TripCallbacks) TripCallbacks {
	if update.OnEvent != nil {
		c.OnEvent = update.OnEvent
	}
	if update.OnStatus != nil {
		c.OnStatus = update.OnStatus
	}
	if update.OnError != nil {
		c.OnError = update.OnError
	}
	return c
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithResyncer refetches trip state after every successful reconnect.
func WithResyncer(r Resyncer) ManagerOption {
	return func(m *Manager) { m.resync = r }
}

// WithManagerClock replaces the real clock for registry timers and
// every client the manager creates.
func WithManagerClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clk }
}

// WithManagerMetrics records connection metrics.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithManagerDialer is passed to every client the manager creates.
func WithManagerDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// WithSessionHook is called with every session the manager connects with,
// including refreshed ones.
func WithSessionHook(fn func(auth.Session)) ManagerOption {
	return func(m *Manager) { m.onSession = fn }
}

// tripConn is the manager's record for one trip.
type tripConn struct {
	tripID string
	connID string
	client Client

	// Guarded by Manager.mu
	cbs       TripCallbacks
	conflict  bool // Pre-connect conflict or post-connect eviction
	evicted   bool
	refreshed bool // Auth refresh spent since the last open
	opened    bool
	heartbeat clock.Timer
	evict     clock.Timer
}

// Manager keeps at most one realtime connection per trip.
type Manager struct {
	cfg        ManagerConfig
	logger     *slog.Logger
	auth       auth.Provider
	registry   coordination.Store
	dispatcher Dispatcher
	resync     Resyncer
	clock      clock.Clock
	metrics    *metrics.Metrics
	dialer     Dialer
	onSession  func(auth.Session)

	// Lifetime context for background registry and resync work.
	ctx    context.Context
	cancel context.CancelFunc

	connecting singleflight.Group

	mu    sync.Mutex
	trips map[string]*tripConn
	owned map[string]struct{} // Trips with a registry entry written by us
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig, provider auth.Provider, registry coordination.Store, dispatcher Dispatcher, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.RegistryGrace = durationOr(cfg.RegistryGrace, 30*time.Second)
	cfg.RegistryHeartbeat = durationOr(cfg.RegistryHeartbeat, 10*time.Second)
	cfg.DuplicateGrace = durationOr(cfg.DuplicateGrace, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:        cfg,
		logger:     logger.With("component", "connection-manager"),
		auth:       provider,
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clock.Real(),
		ctx:        ctx,
		cancel:     cancel,
		trips:      make(map[string]*tripConn),
		owned:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the realtime channel for tripID. Concurrent calls for the
// same trip share one attempt. If the trip is already connected only its
// callbacks are replaced.
func (m *Manager) Connect(ctx context.Context, tripID string, cbs TripCallbacks) error {
	_, err, shared := m.connecting.Do(tripID, func() (any, error) {
		return nil, m.connect(ctx, tripID, cbs)
	})
	if err == nil && shared {
		m.mu.Lock()
		if tc := m.trips[tripID]; tc != nil {
			tc.cbs = cbs
		}
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) connect(ctx context.Context, tripID string, cbs TripCallbacks) error {
	logger := m.logger.With("trip", tripID)

	m.mu.Lock()
	tc := m.trips[tripID]
	if tc != nil && !tc.conflict && tc.client.IsConnected() {
		tc.cbs = cbs
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	sess, err := m.auth.Session(ctx)
	if err != nil || !sess.Valid() {
		m.metrics.Connect("error")
		if err == nil {
			err = auth.ErrNoSession
		}
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if m.onSession != nil {
		m.onSession(sess)
	}

	tc = m.tripConnFor(tripID, cbs)

	existing, err := m.registry.CheckExistingConnection(ctx, tripID)
	if err != nil {
		// The registry is advisory; the server still rejects duplicates.
		logger.Warn("registry check failed", "error", err)
	}
	if existing != nil {
		if existing.OwnerID != m.cfg.OwnerID && existing.Fresh(m.clock.Now(), m.cfg.RegistryGrace) {
			logger.Warn("trip connected elsewhere", "owner", existing.OwnerID, "since", existing.Timestamp)
			m.mu.Lock()
			tc.conflict = true
			m.mu.Unlock()
			m.reportStatus(tc, StatusDuplicate)
			m.metrics.Connect("conflict")
			return &ConflictError{TripID: tripID, Existing: existing}
		}
		if err := m.registry.UnregisterConnection(ctx, tripID); err != nil {
			logger.Warn("clear stale registry entry", "error", err)
		}
	}

	m.mu.Lock()
	evicted := tc.evicted
	stopTimer(&tc.evict)
	m.mu.Unlock()

	// The server already replaced an evicted socket; dial a fresh one so
	// the open path registers it again.
	if evicted {
		logger.Info("replacing evicted connection")
		tc.client.Disconnect()
	}

	m.mu.Lock()
	tc.conflict = false
	tc.evicted = false
	m.mu.Unlock()

	url, err := BuildURL(m.cfg.BaseURL, tripID, sess.Token, m.cfg.APIKey)
	if err != nil {
		m.metrics.Connect("error")
		return err
	}
	tc.client.SetURL(url)

	err = tc.client.Connect(ctx)
	var authErr *AuthError
	if errors.As(err, &authErr) {
		logger.Info("session rejected, refreshing", "code", authErr.Code)
		err = m.reauth(ctx, tc)
	}
	if err != nil {
		m.metrics.Connect("error")
		return err
	}
	m.metrics.Connect("ok")
	return nil
}

// tripConnFor returns the record for tripID, creating its client on first
// use, and installs cbs.
func (m *Manager) tripConnFor(tripID string, cbs TripCallbacks) *tripConn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tc := m.trips[tripID]; tc != nil {
		tc.cbs = cbs
		return tc
	}

	tc := &tripConn{tripID: tripID, connID: uuid.NewString(), cbs: cbs}
	opts := []ClientOption{WithClock(m.clock), WithMetrics(m.metrics, tripID)}
	if m.dialer != nil {
		opts = append(opts, WithDialer(m.dialer))
	}
	tc.client = NewClient(m.cfg.Client, m.logger.With("trip", tripID), Callbacks{
		OnMessage: func(data []byte) { m.onMessage(tc, data) },
		OnStatus:  func(s Status) { m.onStatus(tc, s) },
		OnError:   func(err error) { m.onError(tc, err) },
		OnOpen:    func(reconnected bool) { m.onOpen(tc, reconnected) },
	}, opts...)
	m.trips[tripID] = tc
	return tc
}

// reauth refreshes the session once and reconnects with the new token.
// A second auth failure before a successful open is terminal.
func (m *Manager) reauth(ctx context.Context, tc *tripConn) error {
	m.mu.Lock()
	if tc.refreshed {
		m.mu.Unlock()
		return &AuthError{Code: CloseAuthFailed, Reason: "rejected after session refresh"}
	}
	tc.refreshed = true
	m.mu.Unlock()

	sess, err := m.auth.RefreshSession(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if !sess.Valid() {
		return ErrNotAuthenticated
	}
	if m.onSession != nil {
		m.onSession(sess)
	}

	url, err := BuildURL(m.cfg.BaseURL, tc.tripID, sess.Token, m.cfg.APIKey)
	if err != nil {
		return err
	}
	tc.client.SetURL(url)
	return tc.client.Connect(ctx)
}

// Disconnect closes the trip's channel and removes its registry entry.
func (m *Manager) Disconnect(tripID string) {
	m.disconnect(m.ctx, tripID)
}

func (m *Manager) disconnect(ctx context.Context, tripID string) {
	m.mu.Lock()
	tc := m.trips[tripID]
	delete(m.trips, tripID)
	if tc != nil {
		stopTimer(&tc.heartbeat)
		stopTimer(&tc.evict)
	}
	m.mu.Unlock()

	if tc == nil {
		return
	}
	tc.client.Disconnect()
	m.unregisterOwn(ctx, tc)
	m.metrics.ForgetTrip(tripID)
	m.logger.Info("trip disconnected", "trip", tripID)
}

// Status returns the trip's connection state. Unknown trips are
// disconnected.
func (m *Manager) Status(tripID string) Status {
	m.mu.Lock()
	tc := m.trips[tripID]
	if tc == nil {
		m.mu.Unlock()
		return StatusDisconnected
	}
	conflict := tc.conflict
	m.mu.Unlock()

	if conflict {
		return StatusDuplicate
	}
	return tc.client.Status()
}

// Send writes data on the trip's socket.
func (m *Manager) Send(tripID string, data []byte) error {
	m.mu.Lock()
	tc := m.trips[tripID]
	m.mu.Unlock()

	if tc == nil || !tc.client.Send(data) {
		return ErrNotConnected
	}
	return nil
}

// UpdateCallbacks merges the non-nil fields of cbs into the trip's
// callbacks.
func (m *Manager) UpdateCallbacks(tripID string, cbs TripCallbacks) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc := m.trips[tripID]
	if tc == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTrip, tripID)
	}
	tc.cbs = tc.cbs.merge(cbs)
	return nil
}

// Trips returns the trips the manager holds, sorted.
func (m *Manager) Trips() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	trips := make([]string, 0, len(m.trips))
	for id := range m.trips {
		trips = append(trips, id)
	}
	sort.Strings(trips)
	return trips
}

// Cleanup disconnects every trip and removes this owner's registry
// entries. The manager must not be used afterwards.
func (m *Manager) Cleanup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tripID := range m.Trips() {
		tripID := tripID
		g.Go(func() error {
			m.disconnect(gctx, tripID)
			return nil
		})
	}
	g.Wait()

	err := m.registry.Cleanup(ctx)
	m.cancel()

	m.mu.Lock()
	clear(m.owned)
	m.metrics.SetRegistryEntries(0)
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("registry cleanup: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Client callbacks
// -----------------------------------------------------------------------------

func (m *Manager) onOpen(tc *tripConn, reconnected bool) {
	m.mu.Lock()
	if m.trips[tc.tripID] != tc {
		m.mu.Unlock()
		return
	}
	resync := tc.opened && m.resync != nil
	tc.opened = true
	tc.refreshed = false
	m.mu.Unlock()

	m.register(tc)

	if resync {
		m.logger.Info("resyncing after reconnect", "trip", tc.tripID, "reconnected", reconnected)
		go func() {
			if err := m.resync.Resync(m.ctx, tc.tripID); err != nil {
				m.logger.Warn("resync failed", "trip", tc.tripID, "error", err)
			}
		}()
	}
}

// register writes the registry entry and keeps it fresh while connected.
func (m *Manager) register(tc *tripConn) {
	entry := coordination.Entry{ConnectionID: tc.connID, OwnerID: m.cfg.OwnerID, Timestamp: m.clock.Now()}
	err := m.registry.RegisterConnection(m.ctx, tc.tripID, entry)
	if err != nil {
		m.logger.Warn("register connection", "trip", tc.tripID, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil && m.trips[tc.tripID] == tc {
		m.owned[tc.tripID] = struct{}{}
		m.metrics.SetRegistryEntries(len(m.owned))
	}
	stopTimer(&tc.heartbeat)
	if m.trips[tc.tripID] != tc || tc.evicted {
		return
	}
	tc.heartbeat = m.clock.AfterFunc(m.cfg.RegistryHeartbeat, func() {
		m.mu.Lock()
		live := m.trips[tc.tripID] == tc && !tc.evicted
		m.mu.Unlock()
		if live && tc.client.IsConnected() {
			m.register(tc)
		}
	})
}

func (m *Manager) unregisterOwn(ctx context.Context, tc *tripConn) {
	existing, err := m.registry.CheckExistingConnection(ctx, tc.tripID)
	if err != nil {
		m.logger.Warn("registry check failed", "trip", tc.tripID, "error", err)
		return
	}
	if existing == nil || existing.OwnerID != m.cfg.OwnerID {
		return
	}
	if err := m.registry.UnregisterConnection(ctx, tc.tripID); err != nil {
		m.logger.Warn("unregister connection", "trip", tc.tripID, "error", err)
		return
	}

	m.mu.Lock()
	delete(m.owned, tc.tripID)
	m.metrics.SetRegistryEntries(len(m.owned))
	m.mu.Unlock()
}

func (m *Manager) onMessage(tc *tripConn, data []byte) {
	res := event.Validate(data)
	switch res.Kind {
	case event.KindControl:
		if res.Control == event.ControlDuplicateConnection {
			m.evict(tc)
		}
		return
	case event.KindInvalid:
		m.logger.Warn("dropping invalid frame", "trip", tc.tripID, "reason", res.Reason)
		m.metrics.FrameInvalid()
		return
	}

	env := res.Event
	if env.TripID != tc.tripID {
		m.logger.Warn("dropping event for another trip", "trip", tc.tripID, "event_trip", env.TripID, "type", env.Type)
		m.metrics.FrameInvalid()
		return
	}
	m.metrics.FrameReceived(string(env.Type))

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(env)
	}

	m.mu.Lock()
	onEvent := tc.cbs.OnEvent
	m.mu.Unlock()
	if onEvent != nil {
		onEvent(env)
	}
}

func (m *Manager) onStatus(tc *tripConn, s Status) {
	m.mu.Lock()
	evicted := tc.evicted
	m.mu.Unlock()

	// An evicted trip stays DUPLICATE_CONNECTION until the next Connect.
	// evict reports the transition itself.
	if evicted || s == StatusDuplicate {
		return
	}
	m.reportStatus(tc, s)
}

func (m *Manager) reportStatus(tc *tripConn, s Status) {
	m.metrics.SetConnectionStatus(tc.tripID, string(s))

	m.mu.Lock()
	onStatus := tc.cbs.OnStatus
	m.mu.Unlock()
	if onStatus != nil {
		onStatus(s)
	}
}

func (m *Manager) onError(tc *tripConn, err error) {
	var authErr *AuthError
	switch {
	case errors.Is(err, ErrConflict):
		m.evict(tc)
	case errors.As(err, &authErr):
		go func() {
			if err := m.reauth(m.ctx, tc); err != nil {
				m.fail(tc, err)
			}
		}()
	default:
		m.fail(tc, err)
	}
}

// fail reports a terminal error and releases the registry entry.
func (m *Manager) fail(tc *tripConn, err error) {
	m.logger.Error("connection failed", "trip", tc.tripID, "error", err)

	m.mu.Lock()
	stopTimer(&tc.heartbeat)
	onError := tc.cbs.OnError
	m.mu.Unlock()

	m.unregisterOwn(m.ctx, tc)
	if onError != nil {
		onError(err)
	}
}

// evict handles a server-reported duplicate: the trip reports
// DUPLICATE_CONNECTION at once and the socket closes after DuplicateGrace.
// Evicted trips do not reconnect on their own.
func (m *Manager) evict(tc *tripConn) {
	m.mu.Lock()
	if tc.evicted {
		m.mu.Unlock()
		return
	}
	tc.evicted = true
	tc.conflict = true
	stopTimer(&tc.heartbeat)
	tc.evict = m.clock.AfterFunc(m.cfg.DuplicateGrace, func() {
		m.logger.Info("closing evicted connection", "trip", tc.tripID)
		tc.client.Disconnect()
	})
	onError := tc.cbs.OnError
	m.mu.Unlock()

	m.logger.Warn("connection evicted by server", "trip", tc.tripID, "grace", m.cfg.DuplicateGrace)
	m.metrics.Eviction()
	m.unregisterOwn(m.ctx, tc)
	m.reportStatus(tc, StatusDuplicate)
	if onError != nil {
		onError(&ConflictError{TripID: tc.tripID, PostConnect: true})
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// durationOr returns d, or def when d is not positive.
func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
