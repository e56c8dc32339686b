// Package publisher republishes accepted quotes to NATS on the subject
// {prefix}.quotes.{SYMBOL}. Delivery is NATS core fire-and-forget.
package publisher
