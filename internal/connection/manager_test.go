package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tripsync/internal/auth"
	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/coordination"
	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/kv"
	"github.com/rickgao/tripsync/internal/metrics"
)

const tripFrame = `{
	"id": "evt-1",
	"type": "trip_updated",
	"resourceId": "trip-1",
	"actorId": "user-9",
	"timestamp": "2026-03-01T12:00:00Z",
	"version": 4,
	"metadata": {"source": "api"},
	"payload": {"name": "Lisbon"}
}`

// fakeAuth hands out "old" until refreshed, then "new".
type fakeAuth struct {
	mu        sync.Mutex
	token     string
	refreshes int
	err       error
}

func (a *fakeAuth) Session(context.Context) (auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return auth.Session{}, a.err
	}
	return auth.Session{Token: a.token, UserID: "user-1"}, nil
}

func (a *fakeAuth) RefreshSession(context.Context) (auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	a.token = "new"
	return auth.Session{Token: a.token, UserID: "user-1"}, nil
}

func (a *fakeAuth) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}

type dispatchRecorder struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (d *dispatchRecorder) Dispatch(env event.Envelope) {
	d.mu.Lock()
	d.events = append(d.events, env)
	d.mu.Unlock()
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type resyncRecorder struct {
	trips chan string
}

func (r *resyncRecorder) Resync(_ context.Context, tripID string) error {
	r.trips <- tripID
	return nil
}

// tokenServer upgrades only requests carrying an accepted token; others
// get 401. handler runs per accepted socket.
func tokenServer(t *testing.T, accept func(token string) bool, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accept(r.URL.Query().Get("token")) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

type managerHarness struct {
	mgr        *Manager
	clock      *clock.FakeClock
	registry   *coordination.LocalStore
	auth       *fakeAuth
	dispatched *dispatchRecorder
	dials      *atomic.Int32
}

func newManagerHarness(t *testing.T, baseURL string, opts ...ManagerOption) *managerHarness {
	t.Helper()
	h := &managerHarness{
		clock:      clock.Fake(epoch),
		registry:   coordination.NewLocalStore(kv.NewMemory(), "owner-a", nil),
		auth:       &fakeAuth{token: "old"},
		dispatched: &dispatchRecorder{},
		dials:      &atomic.Int32{},
	}

	cfg := DefaultManagerConfig()
	cfg.BaseURL = baseURL
	cfg.OwnerID = "owner-a"

	opts = append([]ManagerOption{
		WithManagerClock(h.clock),
		WithManagerDialer(countingDialer(h.dials)),
	}, opts...)
	h.mgr = NewManager(cfg, h.auth, h.registry, h.dispatched, nil, opts...)
	t.Cleanup(func() { h.mgr.Cleanup(context.Background()) })
	return h
}

// tripRecorder collects per-trip manager callbacks.
type tripRecorder struct {
	events   chan event.Envelope
	statuses chan Status
	errs     chan error
}

func newTripRecorder() *tripRecorder {
	return &tripRecorder{
		events:   make(chan event.Envelope, 16),
		statuses: make(chan Status, 64),
		errs:     make(chan error, 8),
	}
}

func (r *tripRecorder) callbacks() TripCallbacks {
	return TripCallbacks{
		OnEvent:  func(e event.Envelope) { r.events <- e },
		OnStatus: func(s Status) { r.statuses <- s },
		OnError:  func(err error) { r.errs <- err },
	}
}

func (r *tripRecorder) waitStatus(t *testing.T, want Status) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.statuses:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for status %q", want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_ConnectDispatchesEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(tripFrame))
		drain(conn)
	})

	h := newManagerHarness(t, server.URL)
	rec := newTripRecorder()

	if err := h.mgr.Connect(context.Background(), "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := h.mgr.Status("trip-1"); got != StatusConnected {
		t.Errorf("Status() = %q, want connected", got)
	}

	entry, err := h.registry.CheckExistingConnection(context.Background(), "trip-1")
	if err != nil || entry == nil {
		t.Fatalf("registry entry = %v, %v; want registered", entry, err)
	}
	if entry.OwnerID != "owner-a" {
		t.Errorf("entry.OwnerID = %q, want owner-a", entry.OwnerID)
	}

	select {
	case env := <-rec.events:
		if env.Type != event.TripUpdated || env.TripID != "trip-1" {
			t.Errorf("event = %s/%s, want trip_updated/trip-1", env.Type, env.TripID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnEvent not called")
	}
	if got := h.dispatched.count(); got != 1 {
		t.Errorf("dispatched = %d, want 1 (control and invalid frames are not dispatched)", got)
	}

	h.mgr.Disconnect("trip-1")
	if got := h.mgr.Status("trip-1"); got != StatusDisconnected {
		t.Errorf("Status() after Disconnect = %q, want disconnected", got)
	}
	entry, _ = h.registry.CheckExistingConnection(context.Background(), "trip-1")
	if entry != nil {
		t.Errorf("registry entry after Disconnect = %+v, want nil", entry)
	}
}

func TestManager_DropsEventsForOtherTrips(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(tripFrame))
		drain(conn)
	})

	h := newManagerHarness(t, server.URL)
	rec := newTripRecorder()

	if err := h.mgr.Connect(context.Background(), "trip-2", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case env := <-rec.events:
		t.Errorf("unexpected event for %s on trip-2", env.TripID)
	case <-time.After(100 * time.Millisecond):
	}
	if got := h.dispatched.count(); got != 0 {
		t.Errorf("dispatched = %d, want 0", got)
	}
}

func TestManager_RegistryConflict(t *testing.T) {
	tests := []struct {
		name         string
		entry        coordination.Entry
		wantConflict bool
	}{
		{
			name:         "fresh entry from another owner blocks",
			entry:        coordination.Entry{ConnectionID: "c-b", OwnerID: "owner-b", Timestamp: epoch.Add(-10 * time.Second)},
			wantConflict: true,
		},
		{
			name:         "stale entry from another owner is replaced",
			entry:        coordination.Entry{ConnectionID: "c-b", OwnerID: "owner-b", Timestamp: epoch.Add(-31 * time.Second)},
			wantConflict: false,
		},
		{
			name:         "own entry is replaced",
			entry:        coordination.Entry{ConnectionID: "c-old", OwnerID: "owner-a", Timestamp: epoch},
			wantConflict: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockWSServer(t, drain)
			h := newManagerHarness(t, server.URL)
			ctx := context.Background()

			if err := h.registry.RegisterConnection(ctx, "trip-1", tt.entry); err != nil {
				t.Fatalf("seed registry: %v", err)
			}

			rec := newTripRecorder()
			err := h.mgr.Connect(ctx, "trip-1", rec.callbacks())

			if !tt.wantConflict {
				if err != nil {
					t.Fatalf("Connect failed: %v", err)
				}
				entry, _ := h.registry.CheckExistingConnection(ctx, "trip-1")
				if entry == nil || entry.OwnerID != "owner-a" {
					t.Errorf("registry entry = %+v, want owned by owner-a", entry)
				}
				return
			}

			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Connect() error = %v, want ConflictError", err)
			}
			if !errors.Is(err, ErrConflict) {
				t.Error("errors.Is(err, ErrConflict) = false")
			}
			if conflict.Existing == nil || conflict.Existing.OwnerID != "owner-b" {
				t.Errorf("conflict.Existing = %+v, want owner-b", conflict.Existing)
			}
			if got := h.mgr.Status("trip-1"); got != StatusDuplicate {
				t.Errorf("Status() = %q, want duplicate_connection", got)
			}
			rec.waitStatus(t, StatusDuplicate)
			if got := h.dials.Load(); got != 0 {
				t.Errorf("dials = %d, want 0", got)
			}
		})
	}
}

func TestManager_ConcurrentConnectCoalesces(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		drain(conn)
	})
	h := newManagerHarness(t, server.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.mgr.Connect(context.Background(), "trip-1", TripCallbacks{})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Connect() error = %v", err)
		}
	}
	if got := h.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := len(h.mgr.Trips()); got != 1 {
		t.Errorf("Trips() = %d, want 1", got)
	}
}

func TestManager_NotAuthenticated(t *testing.T) {
	h := newManagerHarness(t, "https://api.tripsync.app")
	h.auth.err = auth.ErrNoSession

	err := h.mgr.Connect(context.Background(), "trip-1", TripCallbacks{})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Connect() error = %v, want ErrNotAuthenticated", err)
	}
	if got := h.dials.Load(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestManager_HandshakeAuthRefresh(t *testing.T) {
	server := tokenServer(t, func(tok string) bool { return tok == "new" }, drain)
	h := newManagerHarness(t, server.URL)

	if err := h.mgr.Connect(context.Background(), "trip-1", TripCallbacks{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := h.auth.refreshCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := h.mgr.Status("trip-1"); got != StatusConnected {
		t.Errorf("Status() = %q, want connected", got)
	}
}

func TestManager_AuthRefreshOnlyOnce(t *testing.T) {
	server := tokenServer(t, func(string) bool { return false }, drain)
	h := newManagerHarness(t, server.URL)

	err := h.mgr.Connect(context.Background(), "trip-1", TripCallbacks{})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect() error = %v, want AuthError", err)
	}
	if got := h.auth.refreshCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := h.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestManager_AuthCloseRefreshesAndReconnects(t *testing.T) {
	var sockets atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sockets.Add(1)
		if r.URL.Query().Get("token") == "old" {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseAuthFailed, "token expired"))
		}
		drain(conn)
	}))
	t.Cleanup(server.Close)

	h := newManagerHarness(t, server.URL)
	rec := newTripRecorder()

	if err := h.mgr.Connect(context.Background(), "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rec.waitStatus(t, StatusError)
	rec.waitStatus(t, StatusConnected)

	if got := h.auth.refreshCount(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := sockets.Load(); got != 2 {
		t.Errorf("sockets = %d, want 2", got)
	}
	select {
	case err := <-rec.errs:
		t.Errorf("unexpected OnError: %v", err)
	default:
	}
}

func TestManager_DuplicateEviction(t *testing.T) {
	closed := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"duplicate_connection"}`))
		drain(conn)
		close(closed)
	})

	h := newManagerHarness(t, server.URL)
	rec := newTripRecorder()

	if err := h.mgr.Connect(context.Background(), "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rec.waitStatus(t, StatusDuplicate)
	select {
	case err := <-rec.errs:
		var conflict *ConflictError
		if !errors.As(err, &conflict) || !conflict.PostConnect {
			t.Errorf("OnError = %v, want post-connect ConflictError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not called")
	}

	// The socket stays open during the grace period.
	select {
	case <-closed:
		t.Fatal("socket closed before grace period")
	case <-time.After(50 * time.Millisecond):
	}

	h.clock.Advance(5 * time.Second)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed after grace period")
	}

	if got := h.mgr.Status("trip-1"); got != StatusDuplicate {
		t.Errorf("Status() = %q, want duplicate_connection", got)
	}

	// No automatic reconnect after eviction.
	h.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := h.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_ConnectDuringEvictionGraceRedials(t *testing.T) {
	var sockets atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if sockets.Add(1) == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"duplicate_connection"}`))
		}
		drain(conn)
	})

	h := newManagerHarness(t, server.URL)
	rec := newTripRecorder()
	ctx := context.Background()

	if err := h.mgr.Connect(ctx, "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.waitStatus(t, StatusDuplicate)

	// Reconnect before the grace period runs out.
	if err := h.mgr.Connect(ctx, "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := h.mgr.Status("trip-1"); got != StatusConnected {
		t.Errorf("Status() = %q, want connected", got)
	}
	if got := h.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2 (evicted socket replaced)", got)
	}

	entry, err := h.registry.CheckExistingConnection(ctx, "trip-1")
	if err != nil || entry == nil {
		t.Fatalf("registry entry = %v, %v; want registered", entry, err)
	}
	if entry.OwnerID != "owner-a" {
		t.Errorf("entry.OwnerID = %q, want owner-a", entry.OwnerID)
	}

	// The cancelled eviction timer must not close the new socket.
	h.clock.Advance(30 * time.Second)
	if got := h.mgr.Status("trip-1"); got != StatusConnected {
		t.Errorf("Status() after grace = %q, want connected", got)
	}
	if entry, _ := h.registry.CheckExistingConnection(ctx, "trip-1"); entry == nil {
		t.Error("registry entry missing after grace period")
	}
}

func TestManager_MultiTabConflict(t *testing.T) {
	var sockets atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		sockets.Add(1)
		drain(conn)
	})

	ctx := context.Background()
	hub := coordination.NewHub()
	t.Cleanup(func() { hub.Close() })

	newManager := func(owner string) *Manager {
		store, err := coordination.NewMultiTabStore(ctx, kv.NewMemory(), hub, coordination.MultiTabConfig{
			OwnerID:      owner,
			QueryTimeout: 200 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("NewMultiTabStore(%s) failed: %v", owner, err)
		}
		t.Cleanup(store.Close)

		cfg := DefaultManagerConfig()
		cfg.BaseURL = server.URL
		cfg.OwnerID = owner
		mgr := NewManager(cfg, &fakeAuth{token: "old"}, store, &dispatchRecorder{}, nil)
		t.Cleanup(func() { mgr.Cleanup(context.Background()) })
		return mgr
	}

	a := newManager("owner-a")
	b := newManager("owner-b")

	if err := a.Connect(ctx, "trip-1", TripCallbacks{}); err != nil {
		t.Fatalf("a.Connect failed: %v", err)
	}

	err := b.Connect(ctx, "trip-1", TripCallbacks{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("b.Connect error = %v, want ErrConflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Existing == nil || conflict.Existing.OwnerID != "owner-a" {
		t.Errorf("conflict = %+v, want existing entry owned by owner-a", conflict)
	}
	if got := b.Status("trip-1"); got != StatusDuplicate {
		t.Errorf("b.Status() = %q, want duplicate_connection", got)
	}
	if got := a.Status("trip-1"); got != StatusConnected {
		t.Errorf("a.Status() = %q, want connected", got)
	}
	if got := sockets.Load(); got != 1 {
		t.Errorf("server connections = %d, want 1", got)
	}
}

func TestManager_RegistryHeartbeat(t *testing.T) {
	server := mockWSServer(t, drain)
	h := newManagerHarness(t, server.URL)
	ctx := context.Background()

	if err := h.mgr.Connect(ctx, "trip-1", TripCallbacks{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.clock.Advance(10 * time.Second)

	entry, err := h.registry.CheckExistingConnection(ctx, "trip-1")
	if err != nil || entry == nil {
		t.Fatalf("registry entry = %v, %v", entry, err)
	}
	if want := epoch.Add(10 * time.Second); !entry.Timestamp.Equal(want) {
		t.Errorf("entry.Timestamp = %v, want %v", entry.Timestamp, want)
	}
	if !entry.Fresh(h.clock.Now().Add(25*time.Second), 30*time.Second) {
		t.Error("heartbeat entry should stay fresh within the grace period")
	}
}

func TestManager_ResyncAfterReconnect(t *testing.T) {
	var sockets atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if sockets.Add(1) == 1 {
			conn.UnderlyingConn().Close()
			return
		}
		drain(conn)
	})

	resync := &resyncRecorder{trips: make(chan string, 1)}
	h := newManagerHarness(t, server.URL, WithResyncer(resync))
	rec := newTripRecorder()

	if err := h.mgr.Connect(context.Background(), "trip-1", rec.callbacks()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	rec.waitStatus(t, StatusDisconnected)
	h.clock.Advance(time.Second)
	rec.waitStatus(t, StatusConnected)

	select {
	case trip := <-resync.trips:
		if trip != "trip-1" {
			t.Errorf("resync trip = %q, want trip-1", trip)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resync not triggered after reconnect")
	}
}

func TestManager_UpdateCallbacks(t *testing.T) {
	h := newManagerHarness(t, "https://api.tripsync.app")

	err := h.mgr.UpdateCallbacks("trip-9", TripCallbacks{})
	if !errors.Is(err, ErrUnknownTrip) {
		t.Errorf("UpdateCallbacks() error = %v, want ErrUnknownTrip", err)
	}
}

func TestManager_Cleanup(t *testing.T) {
	server := mockWSServer(t, drain)
	h := newManagerHarness(t, server.URL)
	ctx := context.Background()

	for _, trip := range []string{"trip-1", "trip-2"} {
		if err := h.mgr.Connect(ctx, trip, TripCallbacks{}); err != nil {
			t.Fatalf("Connect(%s) failed: %v", trip, err)
		}
	}
	other := coordination.Entry{ConnectionID: "c-b", OwnerID: "owner-b", Timestamp: epoch}
	h.registry.RegisterConnection(ctx, "trip-3", other)

	if err := h.mgr.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if got := h.mgr.Trips(); len(got) != 0 {
		t.Errorf("Trips() = %v, want none", got)
	}
	for _, trip := range []string{"trip-1", "trip-2"} {
		if e, _ := h.registry.CheckExistingConnection(ctx, trip); e != nil {
			t.Errorf("registry %s = %+v, want removed", trip, e)
		}
	}
	if e, _ := h.registry.CheckExistingConnection(ctx, "trip-3"); e == nil {
		t.Error("entry owned by another instance was removed")
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestManager_RegistryEntriesGauge(t *testing.T) {
	server := mockWSServer(t, drain)
	reg := prometheus.NewRegistry()
	h := newManagerHarness(t, server.URL, WithManagerMetrics(metrics.New(reg)))
	ctx := context.Background()

	for _, trip := range []string{"trip-1", "trip-2"} {
		if err := h.mgr.Connect(ctx, trip, TripCallbacks{}); err != nil {
			t.Fatalf("Connect(%s) failed: %v", trip, err)
		}
	}
	if got := gaugeValue(t, reg, "tripsync_registry_entries"); got != 2 {
		t.Errorf("registry_entries = %v, want 2", got)
	}

	h.mgr.Disconnect("trip-1")
	if got := gaugeValue(t, reg, "tripsync_registry_entries"); got != 1 {
		t.Errorf("registry_entries after Disconnect = %v, want 1", got)
	}

	if err := h.mgr.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if got := gaugeValue(t, reg, "tripsync_registry_entries"); got != 0 {
		t.Errorf("registry_entries after Cleanup = %v, want 0", got)
	}
}

func TestManager_SendNotConnected(t *testing.T) {
	h := newManagerHarness(t, "https://api.tripsync.app")
	if err := h.mgr.Send("trip-1", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}
