// Package api provides the REST client for the quote relay.
//
// Endpoints:
//   - POST /stream        subscribe a symbol to a channel (never retried)
//   - GET  /health/live   liveness
//   - GET  /health/ready  readiness with environment and provider summary
//   - GET  /health/agent  agent state
package api
