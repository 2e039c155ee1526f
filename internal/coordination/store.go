package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/tripsync/internal/kv"
)

// Entry records that an owner holds the live channel for a trip.
type Entry struct {
	ConnectionID string    `json:"connectionId"`
	OwnerID      string    `json:"ownerId"`
	Timestamp    time.Time `json:"timestamp"`
}

// Fresh reports whether the entry is younger than grace at now.
func (e Entry) Fresh(now time.Time, grace time.Duration) bool {
	return now.Sub(e.Timestamp) < grace
}

// Store is the connection registry.
type Store interface {
	// RegisterConnection records entry for tripID, replacing any previous one.
	RegisterConnection(ctx context.Context, tripID string, entry Entry) error

	// UnregisterConnection removes the entry for tripID.
	UnregisterConnection(ctx context.Context, tripID string) error

	// CheckExistingConnection returns the known entry for tripID, or nil.
	CheckExistingConnection(ctx context.Context, tripID string) (*Entry, error)

	// Cleanup removes every entry this instance owns.
	Cleanup(ctx context.Context) error
}

const keyPrefix = "conn:"

func registryKey(tripID string) string {
	return keyPrefix + tripID
}

func readEntry(ctx context.Context, store kv.Store, tripID string) (*Entry, error) {
	data, ok, err := store.Get(ctx, registryKey(tripID))
	if err != nil {
		return nil, fmt.Errorf("read registry entry %s: %w", tripID, err)
	}
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Unreadable entries are treated as absent and overwritten later.
		return nil, nil
	}
	return &e, nil
}

func writeEntry(ctx context.Context, store kv.Store, tripID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode registry entry: %w", err)
	}
	if err := store.Set(ctx, registryKey(tripID), data); err != nil {
		return fmt.Errorf("write registry entry %s: %w", tripID, err)
	}
	return nil
}

// removeOwned deletes every entry owned by ownerID and returns the trips
// it removed.
func removeOwned(ctx context.Context, store kv.Store, ownerID string) ([]string, error) {
	all, err := store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}

	var removed []string
	for key, data := range all {
		var e Entry
		if json.Unmarshal(data, &e) == nil && e.OwnerID != ownerID {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		removed = append(removed, strings.TrimPrefix(key, keyPrefix))
	}
	return removed, nil
}
