// Package database provides the TimescaleDB connection pool for the quote
// tape.
package database
