package config

import "time"

// Config is the root configuration for a tripsync client instance.
type Config struct {
	Instance      InstanceConfig      `yaml:"instance"`
	API           APIConfig           `yaml:"api"`
	Auth          AuthConfig          `yaml:"auth"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Manager       ManagerConfig       `yaml:"manager"`
	Coordination  CoordinationConfig  `yaml:"coordination"`
	Resync        ResyncConfig        `yaml:"resync"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InstanceConfig identifies this client instance. The ID doubles as the
// owner id written into coordination registry entries; when empty a
// random one is generated at startup.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds trip service endpoints.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"` // Defaults to RestURL with ws/wss scheme
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AuthConfig seeds the auth provider.
type AuthConfig struct {
	Token        string `yaml:"token"`
	RefreshToken string `yaml:"refresh_token"`
	UserID       string `yaml:"user_id"` // Optional; derived from the token subject when empty
}

// ConnectionConfig holds per-socket lifecycle settings.
type ConnectionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	StaleThreshold       time.Duration `yaml:"stale_threshold"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// ManagerConfig holds coordination timings used by the connection manager.
type ManagerConfig struct {
	RegistryGrace     time.Duration `yaml:"registry_grace"`
	RegistryHeartbeat time.Duration `yaml:"registry_heartbeat"`
	DuplicateGrace    time.Duration `yaml:"duplicate_grace"`
}

// CoordinationConfig selects the coordination store implementation.
type CoordinationConfig struct {
	Mode         string         `yaml:"mode"`      // "local" or "multitab"
	Broadcast    string         `yaml:"broadcast"` // "memory", "redis" or "postgres" (multitab only)
	StoragePath  string         `yaml:"storage_path"`
	QueryTimeout time.Duration  `yaml:"query_timeout"`
	Redis        RedisConfig    `yaml:"redis"`
	Postgres     PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds the Redis pub/sub broadcaster settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// PostgresConfig holds the LISTEN/NOTIFY broadcaster settings.
type PostgresConfig struct {
	DB      DBConfig `yaml:"db"`
	Channel string   `yaml:"channel"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ResyncConfig holds the periodic full refetch settings.
type ResyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// NotificationsConfig bounds the in-memory notification list.
type NotificationsConfig struct {
	Capacity int `yaml:"capacity"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
