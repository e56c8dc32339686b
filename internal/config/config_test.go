package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: dash-1
  environment: staging
stream:
  url: wss://relay.example.com/ws/quotes
  symbols: [aapl, msft]
api:
  rest_url: https://relay.example.com
agent:
  mode: http
  url: http://agent:8000
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "dash-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "dash-1")
	}
	if cfg.Stream.URL != "wss://relay.example.com/ws/quotes" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
	if len(cfg.Stream.Symbols) != 2 || cfg.Stream.Symbols[0] != "aapl" {
		t.Errorf("Stream.Symbols = %v", cfg.Stream.Symbols)
	}
	if cfg.Agent.URL != "http://agent:8000" {
		t.Errorf("Agent.URL = %q", cfg.Agent.URL)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_POLYGON_KEY", "secret123")

	yaml := `
provider:
  kind: polygon
  polygon_api_key: ${TEST_POLYGON_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider.PolygonAPIKey != "secret123" {
		t.Errorf("Provider.PolygonAPIKey = %q, want %q", cfg.Provider.PolygonAPIKey, "secret123")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "QUOTESTREAM_TEST_DOTENV_AGENT"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=http://agent.local:9000\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  url: ${"+key+"}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.URL != "http://agent.local:9000" {
		t.Errorf("Agent.URL = %q, want value from .env", cfg.Agent.URL)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	const key = "QUOTESTREAM_TEST_DOTENV_KEEP"
	t.Setenv(key, "from-env")

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-file\n"), 0o644)
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("instance:\n  id: ${"+key+"}\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instance.ID != "from-env" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "from-env")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: relay-1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Stream.ReconnectDelay != 3*time.Second {
		t.Errorf("Stream.ReconnectDelay = %v, want 3s", cfg.Stream.ReconnectDelay)
	}
	if cfg.Stream.HistorySize != 120 {
		t.Errorf("Stream.HistorySize = %d, want 120", cfg.Stream.HistorySize)
	}
	if cfg.Stream.Path != "/ws/quotes" {
		t.Errorf("Stream.Path = %q, want /ws/quotes", cfg.Stream.Path)
	}
	if cfg.Stream.URLEnv != DefaultStreamURLEnv {
		t.Errorf("Stream.URLEnv = %q, want %q", cfg.Stream.URLEnv, DefaultStreamURLEnv)
	}
	if cfg.Agent.Command != "python" || cfg.Agent.Script != "agent_service.py" {
		t.Errorf("Agent = %+v, want python agent_service.py", cfg.Agent)
	}
	if cfg.Server.HeartbeatInterval != 30*time.Second {
		t.Errorf("Server.HeartbeatInterval = %v, want 30s", cfg.Server.HeartbeatInterval)
	}
	if cfg.Provider.Kind != "mock" || cfg.Provider.Interval != time.Second {
		t.Errorf("Provider = %+v, want mock at 1s", cfg.Provider)
	}
	if len(cfg.Provider.Symbols) != len(DefaultSymbols) {
		t.Errorf("Provider.Symbols = %v, want %v", cfg.Provider.Symbols, DefaultSymbols)
	}
	if cfg.Database.Timescale.Port != 5432 {
		t.Errorf("Database.Timescale.Port = %d, want 5432", cfg.Database.Timescale.Port)
	}
	if cfg.Database.Timescale.Enabled() || cfg.Redis.Enabled() || cfg.NATS.Enabled() {
		t.Error("optional sinks should be disabled by default")
	}
}

func TestPolygonIntervalDefault(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{Kind: "polygon"}}
	cfg.applyDefaults()
	if cfg.Provider.Interval != DefaultPolygonInterval {
		t.Errorf("Provider.Interval = %v, want %v", cfg.Provider.Interval, DefaultPolygonInterval)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad stream scheme",
			mutate:  func(c *Config) { c.Stream.URL = "http://relay/ws/quotes" },
			wantErr: "stream.url",
		},
		{
			name:    "zero history",
			mutate:  func(c *Config) { c.Stream.HistorySize = -1 },
			wantErr: "stream.history_size",
		},
		{
			name:    "http agent without url",
			mutate:  func(c *Config) { c.Agent.Mode = "http" },
			wantErr: "agent.url",
		},
		{
			name:    "unknown agent mode",
			mutate:  func(c *Config) { c.Agent.Mode = "grpc" },
			wantErr: "agent.mode",
		},
		{
			name:    "polygon without key",
			mutate:  func(c *Config) { c.Provider.Kind = "polygon" },
			wantErr: "polygon_api_key",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider.Kind = "iex" },
			wantErr: "provider.kind",
		},
		{
			name: "timescale missing name",
			mutate: func(c *Config) {
				c.Database.Timescale.Host = "localhost"
				c.Database.Timescale.User = "quotes"
			},
			wantErr: "database.timescale.name",
		},
		{
			name: "timescale min exceeds max",
			mutate: func(c *Config) {
				c.Database.Timescale = DBConfig{Host: "h", Name: "n", User: "u", MaxConns: 2, MinConns: 5}
			},
			wantErr: "min_conns",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate_Error(t *testing.T) {
	path := writeTempFile(t, "agent:\n  mode: carrier-pigeon\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
