// tripsync connects to the realtime channel of one or more trips, keeps the
// local trip, membership, chat and notification state in sync and prints
// every event to the console.
//
// Usage: go run ./cmd/tripsync --config configs/tripsync.example.yaml --trip trip-1 --trip trip-2
//
// Environment variables referenced by the example config:
//
//	TRIPSYNC_API_KEY       - Project API key sent with every request
//	TRIPSYNC_TOKEN         - Access token (JWT) for the realtime channel
//	TRIPSYNC_REFRESH_TOKEN - Refresh token used when the server rejects the access token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/rickgao/tripsync/internal/api"
	"github.com/rickgao/tripsync/internal/auth"
	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/config"
	"github.com/rickgao/tripsync/internal/connection"
	"github.com/rickgao/tripsync/internal/coordination"
	"github.com/rickgao/tripsync/internal/database"
	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/kv"
	"github.com/rickgao/tripsync/internal/metrics"
	"github.com/rickgao/tripsync/internal/model"
	"github.com/rickgao/tripsync/internal/resync"
	"github.com/rickgao/tripsync/internal/router"
	"github.com/rickgao/tripsync/internal/state"
	"github.com/rickgao/tripsync/internal/version"
)

func main() {
	flags := pflag.NewFlagSet("tripsync", pflag.ContinueOnError)
	configPath := flags.String("config", "configs/tripsync.example.yaml", "path to config file")
	trips := flags.StringSlice("trip", nil, "trip id to connect to (repeatable)")
	verbose := flags.Bool("verbose", false, "print full event JSON")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if len(*trips) == 0 {
		logger.Error("no trips given; pass --trip at least once")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	ownerID := cfg.Instance.ID
	if ownerID == "" {
		ownerID = uuid.NewString()
	}
	logger = logger.With("instance", ownerID)

	// Local storage for the token cache and the connection registry
	poolSize := 0
	if cfg.Coordination.StoragePath == ":memory:" {
		poolSize = 1
	}
	store, err := kv.OpenSQLite(kv.SQLiteConfig{
		Path:     cfg.Coordination.StoragePath,
		PoolSize: poolSize,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to open local storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// REST client and session. The client reads its bearer token from the
	// provider, which refreshes through the client.
	var provider *auth.Cached
	apiClient := api.NewClient(cfg.API.RestURL, cfg.API.APIKey,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithToken(func(ctx context.Context) (string, error) {
			s, err := provider.Session(ctx)
			return s.Token, err
		}),
	)

	seed, err := auth.SessionFromToken(cfg.Auth.Token, cfg.Auth.RefreshToken, cfg.Auth.UserID)
	if err != nil && !errors.Is(err, auth.ErrNoSession) {
		logger.Error("invalid auth token", "error", err)
		os.Exit(1)
	}
	provider = auth.NewCached(store, seed, apiClient.RefreshSession, auth.WithLogger(logger))

	// Domain state
	stores := state.NewStores(clock.Real(), cfg.Notifications.Capacity, logger)
	rtr := router.New(logger, m)
	stores.Register(rtr)
	stores.Notifications.OnNotify(func(n model.Notification) {
		fmt.Printf("[NOTIFICATION] %s %s: %s\n", n.TripID, n.Kind, n.Text)
	})

	// Connection registry
	registry, closeRegistry, err := openCoordination(ctx, cfg.Coordination, store, ownerID, logger)
	if err != nil {
		logger.Error("failed to open coordination store", "mode", cfg.Coordination.Mode, "error", err)
		os.Exit(1)
	}
	defer closeRegistry()

	// Connection manager and resync
	var mgr *connection.Manager
	resyncer := resync.New(resync.Config{
		Interval:    cfg.Resync.Interval,
		Concurrency: cfg.Resync.Concurrency,
		Timeout:     cfg.Resync.Timeout,
	}, apiClient, resync.TripsFunc(func() []string { return mgr.Trips() }), stores, m, logger)

	mgr = connection.NewManager(managerConfig(cfg, ownerID), provider, registry, rtr, logger,
		connection.WithResyncer(resyncer),
		connection.WithManagerMetrics(m),
		connection.WithSessionHook(func(s auth.Session) {
			stores.Notifications.SetLocalUser(s.UserID)
		}),
	)

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg.Metrics.Path, reg, mgr, rtr, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Connect every trip; one failure does not stop the others.
	for _, tripID := range *trips {
		tripID := tripID
		if err := resyncer.Resync(ctx, tripID); err != nil {
			logger.Warn("initial fetch failed", "trip", tripID, "error", err)
		}
		err := mgr.Connect(ctx, tripID, connection.TripCallbacks{
			OnEvent: func(env event.Envelope) { printEvent(env, *verbose) },
			OnStatus: func(s connection.Status) {
				logger.Info("connection status", "trip", tripID, "status", s)
			},
			OnError: func(err error) {
				logger.Error("connection failed", "trip", tripID, "error", err)
			},
		})
		if err != nil {
			logger.Error("failed to connect", "trip", tripID, "error", err)
		}
	}

	if err := resyncer.Start(ctx); err != nil {
		logger.Error("failed to start resync", "error", err)
		os.Exit(1)
	}

	logger.Info("tripsync running",
		"trips", len(*trips),
		"mode", cfg.Coordination.Mode,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	resyncer.Stop(shutdownCtx)
	if err := mgr.Cleanup(shutdownCtx); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func managerConfig(cfg *config.Config, ownerID string) connection.ManagerConfig {
	return connection.ManagerConfig{
		BaseURL: cfg.API.WSURL,
		APIKey:  cfg.API.APIKey,
		OwnerID: ownerID,
		Client: connection.ClientConfig{
			ConnectTimeout:       cfg.Connection.ConnectTimeout,
			PingInterval:         cfg.Connection.PingInterval,
			HealthCheckInterval:  cfg.Connection.HealthCheckInterval,
			StaleThreshold:       cfg.Connection.StaleThreshold,
			ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Connection.ReconnectMaxDelay,
			MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
			WriteTimeout:         cfg.Connection.WriteTimeout,
		},
		RegistryGrace:     cfg.Manager.RegistryGrace,
		RegistryHeartbeat: cfg.Manager.RegistryHeartbeat,
		DuplicateGrace:    cfg.Manager.DuplicateGrace,
	}
}

// openCoordination builds the registry for the configured mode. The
// returned func releases the broadcaster and its transport.
func openCoordination(ctx context.Context, cfg config.CoordinationConfig, store kv.Store, ownerID string, logger *slog.Logger) (coordination.Store, func(), error) {
	if cfg.Mode != "multitab" {
		return coordination.NewLocalStore(store, ownerID, logger), func() {}, nil
	}

	var (
		bus      coordination.Broadcaster
		closeBus func()
	)
	switch cfg.Broadcast {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		b, err := coordination.NewRedisBroadcaster(rdb, cfg.Redis.Channel, logger)
		if err != nil {
			rdb.Close()
			return nil, nil, err
		}
		bus, closeBus = b, func() { rdb.Close() }

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres.DB)
		if err != nil {
			return nil, nil, err
		}
		b, err := coordination.NewPostgresBroadcaster(pool, cfg.Postgres.Channel, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		bus, closeBus = b, pool.Close

	default:
		hub := coordination.NewHub()
		bus, closeBus = hub, func() { hub.Close() }
	}

	s, err := coordination.NewMultiTabStore(ctx, store, bus, coordination.MultiTabConfig{
		OwnerID:      ownerID,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		closeBus()
		return nil, nil, err
	}
	return s, func() {
		s.Close()
		closeBus()
	}, nil
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(metricsPath string, reg *prometheus.Registry, mgr *connection.Manager, rtr *router.Router, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status  string                       `json:"status"`
			Version string                       `json:"version"`
			Trips   map[string]connection.Status `json:"trips"`
			Router  router.Stats                 `json:"router"`
		}{
			Status:  "healthy",
			Version: version.String(),
			Trips:   make(map[string]connection.Status),
			Router:  rtr.Stats(),
		}

		connected := 0
		for _, tripID := range mgr.Trips() {
			s := mgr.Status(tripID)
			health.Trips[tripID] = s
			if s == connection.StatusConnected {
				connected++
			}
		}
		switch {
		case len(health.Trips) == 0 || connected == 0:
			health.Status = "unhealthy"
		case connected < len(health.Trips):
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}

func printEvent(env event.Envelope, verbose bool) {
	if verbose {
		data, _ := event.Encode(env)
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(env.Type)), data)
		return
	}
	fmt.Printf("[%s] trip=%s actor=%s version=%d\n",
		strings.ToUpper(string(env.Type)), env.TripID, env.ActorID, env.Version)
}
