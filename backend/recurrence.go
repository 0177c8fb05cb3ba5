package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Recurrence is the set of weekdays on which a task repeats. Bit i is set
// when the task repeats on time.Weekday(i).
type Recurrence uint8

// EveryDay repeats on all seven weekdays.
const EveryDay Recurrence = 1<<7 - 1

// RecurrenceOf builds a recurrence from weekdays.
func RecurrenceOf(days ...time.Weekday) Recurrence {
	var r Recurrence
	for _, d := range days {
		r = r.With(d)
	}
	return r
}

// Has reports whether the task repeats on d.
func (r Recurrence) Has(d time.Weekday) bool {
	return r&(1<<uint(d)) != 0
}

// With returns r with d added.
func (r Recurrence) With(d time.Weekday) Recurrence {
	return r | 1<<uint(d)
}

// Without returns r with d removed.
func (r Recurrence) Without(d time.Weekday) Recurrence {
	return r &^ (1 << uint(d))
}

// IsZero reports whether the task does not repeat.
func (r Recurrence) IsZero() bool {
	return r&EveryDay == 0
}

// Days returns the weekdays in Sunday-first order.
func (r Recurrence) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// ParseWeekday parses an English weekday name or its two/three letter abbreviation.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] || s == name[:2] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("%w: unknown weekday %q", ErrInvalidArgument, s)
}

// MarshalJSON encodes the set as an array of lower-case weekday names.
func (r Recurrence) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range r.Days() {
		names = append(names, strings.ToLower(d.String()))
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts an array of weekday names or null.
func (r *Recurrence) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out Recurrence
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		out = out.With(d)
	}
	*r = out
	return nil
}
