// Package jsonpath resolves dotted field paths against decoded JSON values.
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingKey is returned when a path segment is absent or null.
	ErrMissingKey = errors.New("missing key")
	// ErrNotNumber is returned when the leaf cannot be read as a finite number.
	ErrNotNumber = errors.New("value is not a number")
	// ErrNotTime is returned when the leaf matches no known timestamp layout.
	ErrNotTime = errors.New("value is not a timestamp")
)

// aliases maps dotted spellings of irregular API shapes to their literal keys.
// Keys here contain spaces or dots, so they cannot be split naively.
var aliases = map[string][]string{
	"Realtime Currency Exchange Rate.5. Exchange Rate":  {"Realtime Currency Exchange Rate", "5. Exchange Rate"},
	"Realtime Currency Exchange Rate.6. Last Refreshed": {"Realtime Currency Exchange Rate", "6. Last Refreshed"},
	"Realtime Currency Exchange Rate.8. Bid Price":      {"Realtime Currency Exchange Rate", "8. Bid Price"},
	"Realtime Currency Exchange Rate.9. Ask Price":      {"Realtime Currency Exchange Rate", "9. Ask Price"},
	"Global Quote.05. price":                            {"Global Quote", "05. price"},
	"Global Quote.07. latest trading day":               {"Global Quote", "07. latest trading day"},
}

// Split turns a dotted path into lookup keys, consulting the alias table first.
func Split(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if keys, ok := aliases[path]; ok {
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lookup walks doc along keys. Objects are indexed by key, arrays by position.
func Lookup(doc any, keys []string) (any, error) {
	cur := doc
	for i, k := range keys {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[k]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingKey, strings.Join(keys[:i+1], "."))
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(k)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: index %q", ErrMissingKey, strings.Join(keys[:i+1], "."))
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%w: %q is not a container", ErrMissingKey, strings.Join(keys[:i], "."))
		}
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %q is null", ErrMissingKey, strings.Join(keys, "."))
	}
	return cur, nil
}

// Number resolves path in doc and parses the leaf as a float.
// When invert is set the reciprocal is returned.
func Number(doc any, path string, invert bool) (float64, error) {
	keys := Split(path)
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: empty path", ErrMissingKey)
	}
	v, err := Lookup(doc, keys)
	if err != nil {
		return 0, err
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if invert {
		if f == 0 {
			return 0, fmt.Errorf("%s: %w: cannot invert zero", path, ErrNotNumber)
		}
		f = 1 / f
	}
	return f, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumber, x.String())
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumber, x)
		}
		f = p
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumber, f)
	}
	return f, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time resolves path in doc as a timestamp. Strings are tried against the
// known layouts; numbers are unix seconds, or milliseconds when large.
func Time(doc any, path string) (time.Time, error) {
	keys := Split(path)
	if len(keys) == 0 {
		return time.Time{}, fmt.Errorf("%w: empty path", ErrMissingKey)
	}
	v, err := Lookup(doc, keys)
	if err != nil {
		return time.Time{}, err
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
	}
	f, err := toFloat(v)
	if err != nil || f <= 0 {
		return time.Time{}, fmt.Errorf("%s: %w: %v", path, ErrNotTime, v)
	}
	return fromEpoch(int64(f)), nil
}

func fromEpoch(v int64) time.Time {
	if v > 1_000_000_000_000 { // ms
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
