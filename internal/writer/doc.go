// Package writer implements the quote tape batch writer.
//
// QuoteWriter receives accepted quotes from the aggregator, batches them
// and inserts them into the TimescaleDB quotes hypertable. Writes are
// append-only; a duplicate (symbol, ts) is skipped and counted as a
// conflict.
package writer
