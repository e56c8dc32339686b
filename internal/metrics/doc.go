// Package metrics provides Prometheus metrics for monitoring the relay.
//
// Key metrics:
//   - WebSocket connections, disconnects and active clients per endpoint
//   - Messages sent to and dropped for WebSocket clients
//   - Agent inference latency and errors
//
// All recording methods are safe on a nil *Metrics, so components can run
// without instrumentation.
package metrics
