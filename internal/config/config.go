package config

import "time"

// Config is the root configuration shared by the dashboard and the relay.
// Sections a binary does not use are ignored by it.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Stream   StreamConfig   `yaml:"stream"`
	API      APIConfig      `yaml:"api"`
	Agent    AgentConfig    `yaml:"agent"`
	Health   HealthConfig   `yaml:"health"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Writer   WriterConfig   `yaml:"writer"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"`
}

// StreamConfig holds the quote stream consumer settings.
type StreamConfig struct {
	URL              string        `yaml:"url"`     // Explicit endpoint, wins over everything else
	URLEnv           string        `yaml:"url_env"` // Environment variable consulted when URL is empty
	Origin           string        `yaml:"origin"`  // Page origin, e.g. http://localhost:5173
	Path             string        `yaml:"path"`    // Fixed path appended to Origin
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"` // 0 disables staleness detection
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
	HistorySize      int           `yaml:"history_size"`
	Symbols          []string      `yaml:"symbols"` // Subscribed on startup
	RenderInterval   time.Duration `yaml:"render_interval"`
}

// APIConfig holds the relay REST settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// AgentConfig selects and configures the agent backend.
type AgentConfig struct {
	Mode    string        `yaml:"mode"` // "", "subprocess" or "http"
	URL     string        `yaml:"url"`
	Command string        `yaml:"command"`
	Script  string        `yaml:"script"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`

	ModelVersion string `yaml:"model_version"` // Reported by GET /health/agent
}

// HealthConfig holds banner poll settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig holds the relay HTTP/WebSocket server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ClientBuffer      int           `yaml:"client_buffer"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig selects the upstream quote source for the relay.
type ProviderConfig struct {
	Kind          string        `yaml:"kind"` // "mock" or "polygon"
	Symbols       []string      `yaml:"symbols"`
	Interval      time.Duration `yaml:"interval"`
	PolygonAPIKey string        `yaml:"polygon_api_key"`
	PolygonURL    string        `yaml:"polygon_url"`
}

// DatabaseConfig holds the TimescaleDB connection for the quote tape.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
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

// Enabled reports whether a database host was configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// RedisConfig holds the latest-quote snapshot cache settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// NATSConfig holds the quote republish settings.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ClientID       string        `yaml:"client_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// Enabled reports whether a NATS URL was configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// WriterConfig holds quote tape batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
