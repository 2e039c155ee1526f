package coordination

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/tripsync/internal/kv"
)

// LocalStore keeps the registry in a kv store.
type LocalStore struct {
	store   kv.Store
	ownerID string
	logger  *slog.Logger
}

// NewLocalStore creates a registry over store. ownerID identifies the
// entries Cleanup removes.
func NewLocalStore(store kv.Store, ownerID string, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{
		store:   store,
		ownerID: ownerID,
		logger:  logger.With("component", "coordination", "mode", "local"),
	}
}

func (s *LocalStore) RegisterConnection(ctx context.Context, tripID string, entry Entry) error {
	return writeEntry(ctx, s.store, tripID, entry)
}

func (s *LocalStore) UnregisterConnection(ctx context.Context, tripID string) error {
	if err := s.store.Delete(ctx, registryKey(tripID)); err != nil {
		return fmt.Errorf("unregister %s: %w", tripID, err)
	}
	return nil
}

func (s *LocalStore) CheckExistingConnection(ctx context.Context, tripID string) (*Entry, error) {
	return readEntry(ctx, s.store, tripID)
}

func (s *LocalStore) Cleanup(ctx context.Context) error {
	removed, err := removeOwned(ctx, s.store, s.ownerID)
	if len(removed) > 0 {
		s.logger.Info("registry cleaned up", "removed", len(removed))
	}
	return err
}
