package resync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/metrics"
	"github.com/rickgao/tripsync/internal/model"
	"github.com/rickgao/tripsync/internal/state"
)

// Fetcher reads authoritative trip state. *api.Client satisfies it.
type Fetcher interface {
	GetTrip(ctx context.Context, tripID string) (model.Trip, error)
	ListMembers(ctx context.Context, tripID string) ([]model.Member, error)
	ListMessages(ctx context.Context, tripID string, limit int) ([]model.ChatMessage, error)
}

// TripSource lists the trips to refetch periodically.
// *connection.Manager satisfies it.
type TripSource interface {
	Trips() []string
}

// TripsFunc adapts a function to TripSource.
type TripsFunc func() []string

func (f TripsFunc) Trips() []string { return f() }

// Config holds resync configuration.
type Config struct {
	Interval    time.Duration // Periodic refetch interval; 0 disables it (default: 5m)
	Concurrency int           // Max trips refetched at once (default: 4)
	Timeout     time.Duration // Per-trip timeout (default: 15s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     15 * time.Second,
	}
}

// Resyncer refetches trips into the stores.
type Resyncer struct {
	cfg     Config
	fetch   Fetcher
	trips   TripSource
	stores  *state.Stores
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Resyncer.
func New(cfg Config, fetch Fetcher, trips TripSource, stores *state.Stores, m *metrics.Metrics, logger *slog.Logger) *Resyncer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Resyncer{
		cfg:     cfg,
		fetch:   fetch,
		trips:   trips,
		stores:  stores,
		metrics: m,
		clock:   clock.Real(),
		logger:  logger.With("component", "resync"),
	}
}

// Resync fetches the trip, its members and its messages concurrently and
// applies them. Nothing is applied unless all three fetches succeed.
func (r *Resyncer) Resync(ctx context.Context, tripID string) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	asOf := r.clock.Now()
	var (
		trip     model.Trip
		members  []model.Member
		messages []model.ChatMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		trip, err = r.fetch.GetTrip(gctx, tripID)
		return err
	})
	g.Go(func() (err error) {
		members, err = r.fetch.ListMembers(gctx, tripID)
		return err
	})
	g.Go(func() (err error) {
		messages, err = r.fetch.ListMessages(gctx, tripID, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		r.metrics.Resync("error")
		return fmt.Errorf("resync %s: %w", tripID, err)
	}

	updated := r.stores.Trips.Replace(trip)
	r.stores.Members.Replace(tripID, members, asOf)
	r.stores.Chat.Replace(tripID, messages, asOf)

	r.metrics.Resync("ok")
	r.logger.Debug("trip resynced",
		"trip", tripID,
		"trip_updated", updated,
		"members", len(members),
		"messages", len(messages),
	)
	return nil
}

// Start begins the periodic refetch loop. It is a no-op when Interval is 0.
func (r *Resyncer) Start(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("resync loop started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the loop.
func (r *Resyncer) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("resync loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resyncer) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ResyncAll(ctx)
		}
	}
}

// ResyncAll refetches every trip from the TripSource with bounded
// concurrency. Failures are logged and do not stop the cycle.
func (r *Resyncer) ResyncAll(ctx context.Context) {
	start := time.Now()

	trips := r.trips.Trips()
	if len(trips) == 0 {
		r.logger.Debug("no trips to resync")
		return
	}

	var fetched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, tripID := range trips {
		tripID := tripID
		g.Go(func() error {
			if err := r.Resync(gctx, tripID); err != nil {
				r.logger.Warn("failed to resync trip", "trip", tripID, "err", err)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	r.logger.Info("resync cycle complete",
		"trips", len(trips),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}
