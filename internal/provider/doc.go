// Package provider implements upstream quote sources for the relay.
//
// A Provider emits model.Quote values on its Quotes channel for every
// subscribed symbol. Two sources exist: Mock, a synthetic sinusoidal walk
// for development, and Polygon, which polls the Polygon.io last-trade
// endpoint.
package provider
