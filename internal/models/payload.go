package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is a permissive view over a decoded JSON object. Venue
// responses are polymorphic (snake/camel key variants, numbers encoded
// as strings, nested result/data envelopes), so readers pick the first
// present key from a fallback list and coerce scalars.
type Payload map[string]any

// AsPayload converts a decoded JSON value into a Payload when it is an
// object.
func AsPayload(v any) (Payload, bool) {
	switch m := v.(type) {
	case map[string]any:
		return Payload(m), true
	case Payload:
		return m, true
	}
	return nil, false
}

// Has reports whether the key is present with a non-nil value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Str returns the first present key coerced to a string. Numeric values
// are formatted without a decimal point when integral.
func (p Payload) Str(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		case json.Number:
			return s.String()
		case float64:
			if s == float64(int64(s)) {
				return strconv.FormatInt(int64(s), 10)
			}
			return strconv.FormatFloat(s, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

// Float returns the first present key coerced to a float64.
func (p Payload) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := coerceFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Int returns the first present key coerced to an int64. Fractional
// values are truncated toward zero.
func (p Payload) Int(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
		}
		if f, ok := coerceFloat(v); ok {
			return int64(f), true
		}
	}
	return 0, false
}

// List returns the first present key as a slice of object payloads.
// Non-object elements are dropped.
func (p Payload) List(keys ...string) []Payload {
	for _, k := range keys {
		raw, ok := p[k].([]any)
		if !ok {
			continue
		}
		out := make([]Payload, 0, len(raw))
		for _, item := range raw {
			if obj, ok := AsPayload(item); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

// Child returns the first present key that holds a nested object.
func (p Payload) Child(keys ...string) Payload {
	for _, k := range keys {
		if obj, ok := AsPayload(p[k]); ok {
			return obj
		}
	}
	return nil
}

// CoerceFloat converts a scalar JSON value (number, json.Number or
// numeric string) to a float64.
func CoerceFloat(v any) (float64, bool) {
	return coerceFloat(v)
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// TopicPage is one page of raw catalog entries. Total is the venue's
// reported catalog size, 0 when unknown.
type TopicPage struct {
	Entries []Payload
	Total   int
}

// PricePoint is the latest traded price for a token with its
// observation time.
type PricePoint struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"` // ms epoch
}

// PollStats summarizes one tick-poll cycle.
type PollStats struct {
	Markets          int `json:"markets"`
	Collected        int `json:"collected"`
	SkippedNoPayload int `json:"skipped_no_payload"`
	SkippedFilters   int `json:"skipped_filters"`
	Errors           int `json:"errors"`
	Alerts           int `json:"alerts"`
}
