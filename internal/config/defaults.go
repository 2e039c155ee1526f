package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://api.tripsync.app/v1"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPingInterval         = 25 * time.Second
	DefaultHealthCheckInterval  = 10 * time.Second
	DefaultStaleThreshold       = 60 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRegistryGrace        = 30 * time.Second
	DefaultRegistryHeartbeat    = 10 * time.Second
	DefaultDuplicateGrace       = 5 * time.Second
	DefaultCoordinationMode     = "local"
	DefaultBroadcast            = "memory"
	DefaultStoragePath          = "tripsync.db"
	DefaultQueryTimeout         = 200 * time.Millisecond
	DefaultRedisChannel         = "tripsync:coordination"
	DefaultPostgresChannel      = "tripsync_coordination"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultResyncInterval       = 5 * time.Minute
	DefaultResyncTimeout        = 15 * time.Second
	DefaultResyncConcurrency    = 4
	DefaultNotificationCapacity = 50
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// ApplyDefaults fills every zero-valued optional field.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = c.API.RestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.HealthCheckInterval == 0 {
		c.Connection.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Connection.StaleThreshold == 0 {
		c.Connection.StaleThreshold = DefaultStaleThreshold
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	// Manager defaults
	if c.Manager.RegistryGrace == 0 {
		c.Manager.RegistryGrace = DefaultRegistryGrace
	}
	if c.Manager.RegistryHeartbeat == 0 {
		c.Manager.RegistryHeartbeat = DefaultRegistryHeartbeat
	}
	if c.Manager.DuplicateGrace == 0 {
		c.Manager.DuplicateGrace = DefaultDuplicateGrace
	}

	// Coordination defaults
	if c.Coordination.Mode == "" {
		c.Coordination.Mode = DefaultCoordinationMode
	}
	if c.Coordination.Broadcast == "" {
		c.Coordination.Broadcast = DefaultBroadcast
	}
	if c.Coordination.StoragePath == "" {
		c.Coordination.StoragePath = DefaultStoragePath
	}
	if c.Coordination.QueryTimeout == 0 {
		c.Coordination.QueryTimeout = DefaultQueryTimeout
	}
	if c.Coordination.Redis.Channel == "" {
		c.Coordination.Redis.Channel = DefaultRedisChannel
	}
	if c.Coordination.Postgres.Channel == "" {
		c.Coordination.Postgres.Channel = DefaultPostgresChannel
	}
	applyDBDefaults(&c.Coordination.Postgres.DB)

	// Resync defaults
	if c.Resync.Interval == 0 {
		c.Resync.Interval = DefaultResyncInterval
	}
	if c.Resync.Timeout == 0 {
		c.Resync.Timeout = DefaultResyncTimeout
	}
	if c.Resync.Concurrency == 0 {
		c.Resync.Concurrency = DefaultResyncConcurrency
	}

	if c.Notifications.Capacity == 0 {
		c.Notifications.Capacity = DefaultNotificationCapacity
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
