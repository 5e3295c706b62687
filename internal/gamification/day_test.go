package gamification

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("String() = %q", d.String())
	}
	for _, bad := range []string{"", "2024-13-01", "29/02/2024", "2023-02-29"} {
		if _, err := ParseDay(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseDay(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestDayOf_UsesZone(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	instant := time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)
	if got := DayOf(instant, kst).String(); got != "2024-03-06" {
		t.Errorf("DayOf in KST = %s, want 2024-03-06", got)
	}
	if got := DayOf(instant, nil).String(); got != "2024-03-05" {
		t.Errorf("DayOf with nil zone = %s, want 2024-03-05", got)
	}
}

func TestDayArithmetic(t *testing.T) {
	d := NewDay(2024, 2, 28)
	if d.AddDays(1).String() != "2024-02-29" || d.AddDays(2).String() != "2024-03-01" {
		t.Error("AddDays across leap day")
	}
	if d.DaysUntil(NewDay(2024, 3, 31)) != 32 {
		t.Errorf("DaysUntil = %d, want 32", d.DaysUntil(NewDay(2024, 3, 31)))
	}
	if !d.Before(d.AddDays(1)) || !d.AddDays(1).After(d) || !d.Equal(NewDay(2024, 2, 28)) {
		t.Error("comparison helpers")
	}
	if d.Weekday() != time.Wednesday {
		t.Errorf("Weekday = %v", d.Weekday())
	}
}

func TestDayJSON(t *testing.T) {
	type wrap struct {
		D Day `json:"d"`
	}
	data, err := json.Marshal(wrap{D: NewDay(2024, 1, 9)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"d":"2024-01-09"}` {
		t.Errorf("Marshal = %s", data)
	}

	var w wrap
	if err := json.Unmarshal([]byte(`{"d":"2023-12-31"}`), &w); err != nil {
		t.Fatal(err)
	}
	if w.D.String() != "2023-12-31" {
		t.Errorf("Unmarshal = %s", w.D)
	}

	if err := json.Unmarshal([]byte(`{"d":"nope"}`), &w); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestDayZero(t *testing.T) {
	var d Day
	if !d.IsZero() || d.String() != "" {
		t.Error("zero Day should be empty")
	}
}
