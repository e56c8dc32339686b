package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
// Optional sections (database, redis, nats) are only checked when enabled.
func (c *Config) Validate() error {
	if c.Stream.URL != "" {
		if err := validateURL("stream.url", c.Stream.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if err := validateURL("stream.origin", c.Stream.Origin, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if c.Stream.ReconnectDelay <= 0 {
		return errors.New("stream.reconnect_delay must be > 0")
	}
	if c.Stream.HistorySize < 1 {
		return errors.New("stream.history_size must be >= 1")
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	switch c.Agent.Mode {
	case "", "subprocess":
	case "http":
		if c.Agent.URL == "" {
			return errors.New("agent.url is required when agent.mode is http")
		}
	default:
		return fmt.Errorf("agent.mode must be subprocess or http, got %q", c.Agent.Mode)
	}

	switch c.Provider.Kind {
	case "mock":
	case "polygon":
		if c.Provider.PolygonAPIKey == "" {
			return errors.New("provider.polygon_api_key is required for the polygon provider")
		}
	default:
		return fmt.Errorf("provider.kind must be mock or polygon, got %q", c.Provider.Kind)
	}
	if c.Provider.Interval <= 0 {
		return errors.New("provider.interval must be > 0")
	}

	if c.Server.ClientBuffer < 1 {
		return errors.New("server.client_buffer must be >= 1")
	}

	if c.Database.Timescale.Enabled() {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
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
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host, got %q", field, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s has unsupported scheme %q", field, u.Scheme)
}
