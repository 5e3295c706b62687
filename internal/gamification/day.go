package gamification

import (
	"encoding/json"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day or zone. The zero value is
// the invalid "no day".
type Day struct {
	t time.Time // midnight UTC
}

// DayOf returns the calendar date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDay(y, m, d)
}

// NewDay builds a Day, normalising out-of-range values the way time.Date does.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("%w: invalid date %q", ErrInvalidInput, s)
	}
	return Day{t: t}, nil
}

func (d Day) IsZero() bool { return d.t.IsZero() }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dayLayout)
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }

// DaysUntil returns the number of calendar days from d to o.
func (d Day) DaysUntil(o Day) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Weekday reports the day of the week.
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }

// Start returns midnight of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, dd := d.t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// Date returns the year, month and day of d.
func (d Day) Date() (int, time.Month, int) { return d.t.Date() }

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
