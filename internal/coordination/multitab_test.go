package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/kv"
)

func newTab(t *testing.T, hub Broadcaster, owner string, clk clock.Clock, timeout time.Duration) *MultiTabStore {
	t.Helper()
	s, err := NewMultiTabStore(context.Background(), kv.NewMemory(), hub, MultiTabConfig{
		OwnerID:      owner,
		QueryTimeout: timeout,
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("NewMultiTabStore(%s): %v", owner, err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMultiTab_PeerSeesRegisteredEntry(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := newTab(t, hub, "tab-a", nil, 2*time.Second)
	b := newTab(t, hub, "tab-b", nil, 2*time.Second)

	entry := Entry{ConnectionID: "c1", OwnerID: "tab-a", Timestamp: now}
	if err := a.RegisterConnection(ctx, "trip-1", entry); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := b.CheckExistingConnection(ctx, "trip-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got == nil || got.OwnerID != "tab-a" || got.ConnectionID != "c1" {
		t.Errorf("peer entry = %+v, want c1 owned by tab-a", got)
	}
}

func TestMultiTab_QueryAnsweredByOwner(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := newTab(t, hub, "tab-a", nil, 2*time.Second)
	a.RegisterConnection(ctx, "trip-1", Entry{ConnectionID: "c1", OwnerID: "tab-a", Timestamp: now})

	// b joins after the register broadcast, so it must ask.
	b := newTab(t, hub, "tab-b", nil, 2*time.Second)

	got, err := b.CheckExistingConnection(ctx, "trip-1")
	if err != nil || got == nil || got.OwnerID != "tab-a" {
		t.Errorf("queried entry = %+v, %v; want tab-a", got, err)
	}
}

func TestMultiTab_QueryTimesOut(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	clk := clock.Fake(now)
	b := newTab(t, hub, "tab-b", clk, 200*time.Millisecond)
	newTab(t, hub, "tab-silent", nil, time.Second)

	type result struct {
		entry *Entry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		e, err := b.CheckExistingConnection(context.Background(), "trip-9")
		done <- result{e, err}
	}()

	if !clk.BlockUntil(1, time.Second) {
		t.Fatal("query timer never armed")
	}
	clk.Advance(199 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("query returned before its timeout")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(time.Millisecond)
	select {
	case r := <-done:
		if r.err != nil || r.entry != nil {
			t.Errorf("timed out query = %+v, %v; want nil, nil", r.entry, r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("query did not time out")
	}
}

func TestMultiTab_UnregisterAndCleanupForget(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := newTab(t, hub, "tab-a", nil, 50*time.Millisecond)
	b := newTab(t, hub, "tab-b", nil, 50*time.Millisecond)

	a.RegisterConnection(ctx, "trip-1", Entry{ConnectionID: "c1", OwnerID: "tab-a", Timestamp: now})
	a.RegisterConnection(ctx, "trip-2", Entry{ConnectionID: "c2", OwnerID: "tab-a", Timestamp: now})
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.learned) == 2
	})

	a.UnregisterConnection(ctx, "trip-1")
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		_, ok := b.learned["trip-1"]
		return !ok
	})

	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.learned) == 0
	})

	if got, _ := a.CheckExistingConnection(ctx, "trip-2"); got != nil {
		t.Errorf("owner still reports entry after cleanup: %+v", got)
	}
	if got, _ := b.CheckExistingConnection(ctx, "trip-2"); got != nil {
		t.Errorf("peer still reports entry after cleanup: %+v", got)
	}
}

type failingBus struct {
	mu        sync.Mutex
	published int
}

func (f *failingBus) Publish(context.Context, Message) error {
	f.mu.Lock()
	f.published++
	f.mu.Unlock()
	return errors.New("bus down")
}

func (f *failingBus) Subscribe(context.Context, func(Message)) (func(), error) {
	return func() {}, nil
}

func TestMultiTab_PublishFailuresAreSilent(t *testing.T) {
	ctx := context.Background()
	bus := &failingBus{}
	s := newTab(t, bus, "tab-a", nil, time.Second)

	if err := s.RegisterConnection(ctx, "trip-1", Entry{OwnerID: "tab-a", Timestamp: now}); err != nil {
		t.Errorf("Register surfaced broadcast failure: %v", err)
	}
	if got, err := s.CheckExistingConnection(ctx, "trip-2"); err != nil || got != nil {
		t.Errorf("Check = %+v, %v; want nil, nil", got, err)
	}
	if err := s.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup surfaced broadcast failure: %v", err)
	}
}

func TestNewMultiTabStore_RequiresOwner(t *testing.T) {
	_, err := NewMultiTabStore(context.Background(), kv.NewMemory(), NewHub(), MultiTabConfig{})
	if err == nil {
		t.Fatal("expected error without owner id")
	}
}
