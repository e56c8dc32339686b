// Package quote aggregates inbound quote messages into per-symbol state.
//
// An Aggregator keeps the latest quote for every symbol seen, a bounded
// arrival-order history per symbol and the most recent quote overall.
// Symbols are canonical upper-case. State for a symbol is created on its
// first message and lives for the life of the process.
//
// Accepted quotes are also handed to registered Sinks, which the relay uses
// for fan-out to Redis, NATS and the quote tape.
package quote
