// Package model defines shared data types used across the quote stream.
//
// Conventions:
//   - Symbols: upper-case, surrounding whitespace trimmed
//   - Prices: float64 in quote currency units
//   - Timestamps on the wire: ISO 8601 strings with millisecond precision;
//     epoch numbers are accepted on input in s, ms, µs or ns
package model
