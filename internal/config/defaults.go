package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEnvironment       = "development"
	DefaultStreamURLEnv      = "QUOTE_STREAM_URL"
	DefaultStreamOrigin      = "http://localhost:4000"
	DefaultStreamPath        = "/ws/quotes"
	DefaultReconnectDelay    = 3000 * time.Millisecond
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultStreamBuffer      = 1000
	DefaultHistorySize       = 120
	DefaultRenderInterval    = 2 * time.Second
	DefaultRestURL           = "http://localhost:4000"
	DefaultAPITimeout        = 10 * time.Second
	DefaultMaxRetries        = 2
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultAgentCommand      = "python"
	DefaultAgentScript       = "agent_service.py"
	DefaultAgentTimeout      = 60 * time.Second
	DefaultAgentModelVersion = "ppo-default"
	DefaultHealthInterval    = 15 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
	DefaultServerAddr        = ":4000"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultClientBuffer      = 256
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultProviderKind      = "mock"
	DefaultMockInterval      = 1 * time.Second
	DefaultPolygonInterval   = 5 * time.Second
	DefaultPolygonURL        = "https://api.polygon.io"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultRedisKeyPrefix    = "quote:"
	DefaultNATSSubjectPrefix = "market"
	DefaultNATSClientID      = "quote-relay"
	DefaultNATSTimeout       = 5 * time.Second
	DefaultNATSReconnectWait = 2 * time.Second
	DefaultNATSMaxReconnects = -1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultSymbols are streamed by the relay when none are configured.
var DefaultSymbols = []string{"AAPL", "MSFT", "TSLA"}

func (c *Config) applyDefaults() {
	if c.Instance.Environment == "" {
		c.Instance.Environment = DefaultEnvironment
	}

	// Stream defaults
	if c.Stream.URLEnv == "" {
		c.Stream.URLEnv = DefaultStreamURLEnv
	}
	if c.Stream.Origin == "" {
		c.Stream.Origin = DefaultStreamOrigin
	}
	if c.Stream.Path == "" {
		c.Stream.Path = DefaultStreamPath
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBuffer
	}
	if c.Stream.HistorySize == 0 {
		c.Stream.HistorySize = DefaultHistorySize
	}
	if c.Stream.RenderInterval == 0 {
		c.Stream.RenderInterval = DefaultRenderInterval
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Agent defaults
	if c.Agent.Command == "" {
		c.Agent.Command = DefaultAgentCommand
	}
	if c.Agent.Script == "" {
		c.Agent.Script = DefaultAgentScript
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = DefaultAgentTimeout
	}
	if c.Agent.ModelVersion == "" {
		c.Agent.ModelVersion = DefaultAgentModelVersion
	}

	// Health defaults
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.ClientBuffer == 0 {
		c.Server.ClientBuffer = DefaultClientBuffer
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Provider defaults
	if c.Provider.Kind == "" {
		c.Provider.Kind = DefaultProviderKind
	}
	if len(c.Provider.Symbols) == 0 {
		c.Provider.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if c.Provider.Interval == 0 {
		if c.Provider.Kind == "polygon" {
			c.Provider.Interval = DefaultPolygonInterval
		} else {
			c.Provider.Interval = DefaultMockInterval
		}
	}
	if c.Provider.PolygonURL == "" {
		c.Provider.PolygonURL = DefaultPolygonURL
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Redis defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// NATS defaults
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = DefaultNATSClientID
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = DefaultNATSTimeout
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = DefaultNATSReconnectWait
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = DefaultNATSMaxReconnects
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
