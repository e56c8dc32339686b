package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrSuperseded      = errors.New("connection superseded")
	ErrNoEndpoint      = errors.New("no stream endpoint configured")
)

// Status is the connection status exposed to consumers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusConnected    Status = "connected"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Message is a parsed inbound message handed to the MessageHandler.
type Message struct {
	Data       json.RawMessage // A JSON object
	ReceivedAt time.Time
}

// MessageHandler receives every successfully parsed inbound message, in
// arrival order, from a single goroutine.
type MessageHandler interface {
	HandleMessage(msg Message)
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(Message)

func (f MessageHandlerFunc) HandleMessage(msg Message) {
	f(msg)
}

// ErrorReporter receives inbound parse failures for an external sink.
type ErrorReporter func(err error, raw []byte)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:4000/ws/quotes)
	Origin           string        // Optional Origin header
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingTimeout      time.Duration // Max time without ping before considering connection stale (0 = off)
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL            string        // Explicit endpoint; wins when set
	URLEnv         string        // Environment variable consulted next
	Origin         string        // Page origin, used with Path as the fallback
	Path           string        // Fixed stream path, e.g. /ws/quotes
	ReconnectDelay time.Duration // Fixed delay before each reconnect attempt
	Client         ClientConfig  // Per-socket settings; URL is filled in per dial
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		URLEnv:         "QUOTE_STREAM_URL",
		Path:           "/ws/quotes",
		ReconnectDelay: 3000 * time.Millisecond,
		Client:         DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Status              Status
	Connects            int64 // Successful handshakes
	ReconnectsScheduled int64
	Messages            int64 // Parsed messages handed to the handler
	ParseErrors         int64
	Latency             time.Duration
	LastMessageAt       time.Time
}
