package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the day-resolution layout used for intervals, GitHub search
// qualifiers and the persisted coverage rows.
const DateLayout = "2006-01-02"

// inputDateLayout is the slash form the CLI has always accepted.
const inputDateLayout = "2006/01/02"

// Interval is an inclusive range of calendar days [start, end].
// It is an immutable value; all methods return new values.
type Interval struct {
	start time.Time
	end   time.Time
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or YYYY/MM/DD.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, inputDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, ErrInvalidInterval)
}

// NewInterval builds an interval from two instants, using their calendar days.
func NewInterval(start, end time.Time) (Interval, error) {
	s, e := Day(start), Day(end)
	if s.After(e) {
		return Interval{}, fmt.Errorf("start %s is after end %s: %w", s.Format(DateLayout), e.Format(DateLayout), ErrInvalidInterval)
	}
	return Interval{start: s, end: e}, nil
}

// MustInterval is NewInterval for literals; it panics on malformed input.
func MustInterval(start, end string) Interval {
	iv, err := ParseInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

// ParseInterval parses two date strings into an interval.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Interval{}, err
	}
	return NewInterval(s, e)
}

func (i Interval) Start() time.Time { return i.start }
func (i Interval) End() time.Time   { return i.end }

// IsZero reports whether i is the zero value.
func (i Interval) IsZero() bool { return i.start.IsZero() && i.end.IsZero() }

// Days returns the number of days covered, inclusive.
func (i Interval) Days() int {
	return int(i.end.Sub(i.start).Hours()/24) + 1
}

// Contains reports whether the calendar day of t lies within i.
func (i Interval) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(i.start) && !d.After(i.end)
}

// Overlaps reports whether i and other share at least one day.
func (i Interval) Overlaps(other Interval) bool {
	return !i.start.After(other.end) && !other.start.After(i.end)
}

// Touches reports whether one interval ends the day before the other starts.
func (i Interval) Touches(other Interval) bool {
	return nextDay(i.end).Equal(other.start) || nextDay(other.end).Equal(i.start)
}

// Mergeable reports whether i and other overlap or touch.
func (i Interval) Mergeable(other Interval) bool {
	return i.Overlaps(other) || i.Touches(other)
}

// MergeWith returns the smallest interval spanning both. Callers must check
// Mergeable first; disjoint inputs fail with ErrInvalidInterval.
func (i Interval) MergeWith(other Interval) (Interval, error) {
	if !i.Mergeable(other) {
		return Interval{}, fmt.Errorf("cannot merge %s with %s: %w", i, other, ErrInvalidInterval)
	}
	merged := i
	if other.start.Before(merged.start) {
		merged.start = other.start
	}
	if other.end.After(merged.end) {
		merged.end = other.end
	}
	return merged, nil
}

// Halve splits i into two adjacent halves, the first one taking the extra
// day of an odd length. A single day cannot be halved.
func (i Interval) Halve() (Interval, Interval, bool) {
	days := i.Days()
	if days < 2 {
		return Interval{}, Interval{}, false
	}
	mid := i.start.AddDate(0, 0, (days+1)/2-1)
	return Interval{start: i.start, end: mid}, Interval{start: nextDay(mid), end: i.end}, true
}

// Subtract removes other from i, yielding zero, one or two intervals.
func (i Interval) Subtract(other Interval) []Interval {
	if !i.Overlaps(other) {
		return []Interval{i}
	}
	var out []Interval
	if i.start.Before(other.start) {
		out = append(out, Interval{start: i.start, end: prevDay(other.start)})
	}
	if i.end.After(other.end) {
		out = append(out, Interval{start: nextDay(other.end), end: i.end})
	}
	return out
}

// Equal reports whether both intervals cover the same days.
func (i Interval) Equal(other Interval) bool {
	return i.start.Equal(other.start) && i.end.Equal(other.end)
}

// String renders the interval in GitHub search range syntax.
func (i Interval) String() string {
	return i.start.Format(DateLayout) + ".." + i.end.Format(DateLayout)
}

type intervalJSON struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{Start: i.start.Format(DateLayout), End: i.end.Format(DateLayout)})
}

func (i *Interval) UnmarshalJSON(data []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseInterval(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// MarshalYAML renders the interval the same way as its JSON form.
func (i Interval) MarshalYAML() (interface{}, error) {
	return intervalJSON{Start: i.start.Format(DateLayout), End: i.end.Format(DateLayout)}, nil
}

func nextDay(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
func prevDay(t time.Time) time.Time { return t.AddDate(0, 0, -1) }
