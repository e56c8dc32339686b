// Package connection implements the quote stream Connection Manager.
//
// The Connection Manager:
//   - Owns exactly one WebSocket to the relay at a time
//   - Publishes a status of connected, disconnected or reconnecting
//   - Reconnects forever at a fixed delay after an unexpected close
//   - Parses inbound JSON and hands it to a single MessageHandler
//   - Tracks end-to-end latency from the payload timestamp
package connection
