// Package store keeps the latest quote per symbol in Redis so that relay
// clients joining mid-stream get an immediate snapshot.
package store
