package history

import (
	"encoding/json"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestParse_DropsNonPositiveAndKeepsOrder(t *testing.T) {
	in := `[
		{"date":"2024-02-01","price":23.1},
		{"date":"2024-01-01","price":0},
		{"date":"2024-03-01T00:00:00Z","price":24.9}
	]`
	s, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s) != 2 {
		t.Fatalf("want 2 points, got %d: %+v", len(s), s)
	}
	if !s[0].Date.Equal(day(2024, 2, 1)) || !s[1].Date.Equal(day(2024, 3, 1)) {
		t.Fatalf("unexpected dates: %+v", s)
	}
}

func TestParse_BadDate(t *testing.T) {
	if _, err := Parse([]byte(`[{"date":"01/02/2024","price":1}]`)); err == nil {
		t.Fatal("expected error for bad date")
	}
	if _, err := Parse([]byte(`{"date":"2024-01-01"}`)); err == nil {
		t.Fatal("expected error for non-array document")
	}
}

func TestLatest_NewestWins_EqualDatesLaterInputWins(t *testing.T) {
	s := Series{
		{Date: day(2024, 5, 1), Price: 30},
		{Date: day(2024, 6, 1), Price: 31},
		{Date: day(2024, 4, 1), Price: 29},
		{Date: day(2024, 6, 1), Price: 32},
	}
	got, err := s.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Price != 32 {
		t.Fatalf("want later input to win, got %+v", got)
	}

	if _, err := (Series{}).Latest(); err != ErrEmpty {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
}

func TestSorted_DoesNotMutate(t *testing.T) {
	s := Series{{Date: day(2024, 3, 1), Price: 3}, {Date: day(2024, 1, 1), Price: 1}}
	sorted := s.Sorted()
	if sorted[0].Price != 1 || sorted[1].Price != 3 {
		t.Fatalf("unexpected sort: %+v", sorted)
	}
	if s[0].Price != 3 {
		t.Fatalf("input mutated: %+v", s)
	}
}

func TestSince(t *testing.T) {
	s := Series{
		{Date: day(2024, 3, 1), Price: 3},
		{Date: day(2024, 1, 1), Price: 1},
		{Date: day(2024, 2, 1), Price: 2},
	}
	got := s.Since(day(2024, 2, 1))
	if len(got) != 2 || got[0].Price != 2 || got[1].Price != 3 {
		t.Fatalf("unexpected: %+v", got)
	}
	if len(s.Since(day(2025, 1, 1))) != 0 {
		t.Fatal("want empty slice past the end")
	}
}

func TestPoint_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Point{Date: day(2024, 7, 9), Price: 30.5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"date":"2024-07-09","price":30.5}` {
		t.Fatalf("unexpected json: %s", b)
	}
}
