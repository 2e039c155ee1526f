package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	conn := c.Connection
	if conn.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	if conn.PingInterval <= 0 {
		return errors.New("connection.ping_interval must be > 0")
	}
	if conn.HealthCheckInterval <= 0 {
		return errors.New("connection.health_check_interval must be > 0")
	}
	if conn.StaleThreshold <= conn.PingInterval {
		return fmt.Errorf("connection.stale_threshold (%s) must exceed ping_interval (%s)", conn.StaleThreshold, conn.PingInterval)
	}
	if conn.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if conn.ReconnectMaxDelay < conn.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)", conn.ReconnectMaxDelay, conn.ReconnectBaseDelay)
	}
	if conn.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}

	if c.Manager.RegistryHeartbeat >= c.Manager.RegistryGrace {
		return fmt.Errorf("manager.registry_heartbeat (%s) must be shorter than registry_grace (%s)", c.Manager.RegistryHeartbeat, c.Manager.RegistryGrace)
	}
	if c.Manager.DuplicateGrace < 0 {
		return errors.New("manager.duplicate_grace must be >= 0")
	}

	if err := c.Coordination.validate(); err != nil {
		return err
	}

	if c.Resync.Concurrency < 1 {
		return errors.New("resync.concurrency must be >= 1")
	}
	if c.Notifications.Capacity < 1 {
		return errors.New("notifications.capacity must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (c *CoordinationConfig) validate() error {
	switch c.Mode {
	case "local":
		if c.StoragePath == "" {
			return errors.New("coordination.storage_path is required")
		}
		return nil
	case "multitab":
	default:
		return fmt.Errorf("coordination.mode must be local or multitab, got %q", c.Mode)
	}

	if c.QueryTimeout <= 0 {
		return errors.New("coordination.query_timeout must be > 0")
	}

	switch c.Broadcast {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("coordination.redis.addr is required")
		}
	case "postgres":
		if err := c.Postgres.DB.validate("coordination.postgres.db"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("coordination.broadcast must be memory, redis or postgres, got %q", c.Broadcast)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s has unsupported scheme %q", field, u.Scheme)
}
