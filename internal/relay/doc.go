// Package relay implements the quote-stream relay server.
//
// The relay pulls quotes from a provider, runs them through a
// quote.Aggregator and fans them out to WebSocket clients on /ws/quotes
// (plus any configured Redis, NATS and quote tape sinks). It also serves
// the health endpoints, POST /stream subscriptions and the agent proxy
// endpoints.
//
// WebSocket wire messages:
//
//	{"symbol":"AAPL","price":189.5,"volume":1200,"timestamp":"..."}     quote
//	{"type":"connected","message":"...","timestamp":"..."}               welcome
//	{"type":"heartbeat","timestamp":"...","activeClients":3}             every 30s
package relay
