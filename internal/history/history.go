// Package history holds the static historical price record.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the day format used by history.json.
const DateLayout = "2006-01-02"

// ErrEmpty is returned when a series has no usable point.
var ErrEmpty = errors.New("history is empty")

// Point is one historical observation.
type Point struct {
	Date  time.Time
	Price float64
}

type pointJSON struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// UnmarshalJSON accepts a day ("2024-01-31") or an RFC3339 timestamp.
func (p *Point) UnmarshalJSON(b []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}
	p.Date = d
	p.Price = raw.Price
	return nil
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{Date: p.Date.Format(DateLayout), Price: p.Price})
}

// ParseDate parses a day or an RFC3339 timestamp into UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Series is the historical record as loaded; use Sorted for date order.
type Series []Point

// Parse decodes history.json. Points with a non-positive price are dropped.
func Parse(b []byte) (Series, error) {
	var pts []Point
	if err := json.Unmarshal(b, &pts); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	out := make(Series, 0, len(pts))
	for _, p := range pts {
		if p.Price <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Sorted returns a copy ordered by date. Equal dates keep input order.
func (s Series) Sorted() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Latest returns the newest point. For equal dates, later input wins.
func (s Series) Latest() (Point, error) {
	if len(s) == 0 {
		return Point{}, ErrEmpty
	}
	latest := s[0]
	for _, p := range s[1:] {
		if p.Date.After(latest.Date) || p.Date.Equal(latest.Date) {
			latest = p
		}
	}
	return latest, nil
}

// Since returns the sorted points dated on or after from.
func (s Series) Since(from time.Time) Series {
	sorted := s.Sorted()
	i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Date.Before(from) })
	return sorted[i:]
}
