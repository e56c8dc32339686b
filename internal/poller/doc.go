// Package poller implements the health banner poller.
//
// The poller:
//   - Polls the relay's /health/live, /health/ready and /health/agent
//   - Runs the checks concurrently with a per-check timeout
//   - Publishes the result as a Banner with a single warning line
//   - Treats unreachable services as a warning, never as fatal
package poller
