// Package agent talks to the external RL agent.
//
// The agent is an opaque peer that answers one JSON command with one JSON
// response of the form {"ok": bool, "data": ..., "error": "..."}. Two
// backends implement Commander:
//
//   - ProcessCommander spawns an interpreter per command, writes the command
//     to stdin and parses stdout.
//   - HTTPCommander POSTs the command to a long-running agent worker.
//
// New selects the backend from configuration.
package agent
