package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Subscription channels accepted by POST /stream.
const (
	ChannelQuotes = "quotes"
	ChannelTrades = "trades"
)

// TimestampLayout is the wire format for quote timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Quote is one price observation for a symbol. A newer Quote for the same
// symbol supersedes it; Quotes are never mutated.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp string  `json:"timestamp"` // Producer timestamp as sent on the wire

	ReceivedAt time.Time `json:"-"` // Local receipt time
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// FormatTimestamp renders t in the wire format (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Epoch magnitude thresholds used to infer the unit of a numeric timestamp.
const (
	maxEpochSeconds = 1e11 // ~year 5138 in seconds
	maxEpochMillis  = 1e14
	maxEpochMicros  = 1e17
)

// ParseTimestamp decodes a JSON timestamp. Strings are parsed as RFC 3339;
// numbers are epoch values whose unit is inferred from magnitude.
// It returns false for null, empty, or unparseable input.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		return ParseTimestampString(s)
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, false
	}
	return fromEpoch(f)
}

// ParseTimestampString parses an RFC 3339 string or a numeric epoch string.
func ParseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	switch {
	case f < maxEpochSeconds:
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	case f < maxEpochMillis:
		return time.UnixMicro(int64(f * 1e3)), true
	case f < maxEpochMicros:
		return time.UnixMicro(int64(f)), true
	default:
		return time.Unix(0, int64(f)), true
	}
}
