package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/kv"
)

// DefaultQueryTimeout bounds how long CheckExistingConnection waits for a
// peer to answer.
const DefaultQueryTimeout = 200 * time.Millisecond

// MultiTabConfig configures a MultiTabStore.
type MultiTabConfig struct {
	OwnerID      string
	QueryTimeout time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// MultiTabStore shares the registry with peer instances over a Broadcaster.
// Each instance writes its own entries to its kv store; peers learn them
// from register broadcasts or by querying.
type MultiTabStore struct {
	store   kv.Store
	bus     Broadcaster
	ownerID string
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	unsubscribe func()

	mu      sync.Mutex
	owned   map[string]Entry // Entries this instance registered
	learned map[string]Entry // Entries announced by peers
	pending map[string]chan Entry
}

// NewMultiTabStore subscribes to bus and returns the store. Close stops
// the subscription.
func NewMultiTabStore(ctx context.Context, store kv.Store, bus Broadcaster, cfg MultiTabConfig) (*MultiTabStore, error) {
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("coordination: owner id is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &MultiTabStore{
		store:   store,
		bus:     bus,
		ownerID: cfg.OwnerID,
		timeout: cfg.QueryTimeout,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("component", "coordination", "mode", "multitab", "owner_id", cfg.OwnerID),
		owned:   make(map[string]Entry),
		learned: make(map[string]Entry),
		pending: make(map[string]chan Entry),
	}

	cancel, err := bus.Subscribe(ctx, s.handle)
	if err != nil {
		return nil, fmt.Errorf("coordination: subscribe: %w", err)
	}
	s.unsubscribe = cancel
	return s, nil
}

func (s *MultiTabStore) RegisterConnection(ctx context.Context, tripID string, entry Entry) error {
	if err := writeEntry(ctx, s.store, tripID, entry); err != nil {
		return err
	}

	s.mu.Lock()
	if entry.OwnerID == s.ownerID {
		s.owned[tripID] = entry
	}
	s.mu.Unlock()

	e := entry
	s.publish(ctx, Message{Kind: KindRegister, TripID: tripID, Entry: &e})
	return nil
}

func (s *MultiTabStore) UnregisterConnection(ctx context.Context, tripID string) error {
	if err := s.store.Delete(ctx, registryKey(tripID)); err != nil {
		return fmt.Errorf("unregister %s: %w", tripID, err)
	}

	s.mu.Lock()
	delete(s.owned, tripID)
	delete(s.learned, tripID)
	s.mu.Unlock()

	s.publish(ctx, Message{Kind: KindUnregister, TripID: tripID})
	return nil
}

// CheckExistingConnection consults the local store, then entries learned
// from peers, then asks peers directly. No answer within the query timeout
// means no existing connection.
func (s *MultiTabStore) CheckExistingConnection(ctx context.Context, tripID string) (*Entry, error) {
	local, err := readEntry(ctx, s.store, tripID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	s.mu.Lock()
	if e, ok := s.learned[tripID]; ok {
		s.mu.Unlock()
		return &e, nil
	}
	queryID := uuid.NewString()
	answer := make(chan Entry, 1)
	s.pending[queryID] = answer
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, queryID)
		s.mu.Unlock()
	}()

	timedOut := make(chan struct{})
	timer := s.clock.AfterFunc(s.timeout, func() { close(timedOut) })
	defer timer.Stop()

	if err := s.bus.Publish(ctx, Message{Kind: KindQuery, From: s.ownerID, TripID: tripID, QueryID: queryID}); err != nil {
		s.logger.Warn("registry query publish failed", "trip", tripID, "error", err)
		return nil, nil
	}

	select {
	case e := <-answer:
		return &e, nil
	case <-timedOut:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cleanup removes this instance's entries and tells peers to forget them.
func (s *MultiTabStore) Cleanup(ctx context.Context) error {
	removed, err := removeOwned(ctx, s.store, s.ownerID)

	s.mu.Lock()
	s.owned = make(map[string]Entry)
	s.mu.Unlock()

	s.publish(ctx, Message{Kind: KindCleanup})
	if len(removed) > 0 {
		s.logger.Info("registry cleaned up", "removed", len(removed))
	}
	return err
}

// Close stops listening to peers.
func (s *MultiTabStore) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// publish stamps and sends msg. Failures are logged only.
func (s *MultiTabStore) publish(ctx context.Context, msg Message) {
	msg.From = s.ownerID
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.logger.Warn("registry broadcast failed", "kind", msg.Kind, "trip", msg.TripID, "error", err)
	}
}

func (s *MultiTabStore) handle(msg Message) {
	if msg.From == s.ownerID {
		return
	}

	switch msg.Kind {
	case KindRegister:
		if msg.Entry == nil || msg.TripID == "" {
			return
		}
		s.mu.Lock()
		s.learned[msg.TripID] = *msg.Entry
		s.mu.Unlock()

	case KindUnregister:
		s.mu.Lock()
		if e, ok := s.learned[msg.TripID]; ok && e.OwnerID == msg.From {
			delete(s.learned, msg.TripID)
		}
		s.mu.Unlock()

	case KindCleanup:
		s.mu.Lock()
		for tripID, e := range s.learned {
			if e.OwnerID == msg.From {
				delete(s.learned, tripID)
			}
		}
		s.mu.Unlock()

	case KindQuery:
		s.mu.Lock()
		e, ok := s.owned[msg.TripID]
		s.mu.Unlock()
		if !ok {
			return
		}
		s.publish(context.Background(), Message{Kind: KindResponse, TripID: msg.TripID, QueryID: msg.QueryID, Entry: &e})

	case KindResponse:
		if msg.Entry == nil {
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[msg.QueryID]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- *msg.Entry:
			default:
			}
		}

	default:
		s.logger.Debug("unknown registry message", "kind", msg.Kind, "from", msg.From)
	}
}
