package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component. It marshals to and
// from JSON as "YYYY-MM-DD".
type Date struct {
	time.Time
}

// NewDate builds a Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date '%s': expected YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

// DaysSince returns the number of whole days from other to d. Negative when d
// is earlier than other.
func (d Date) DaysSince(other Date) int {
	return int(d.Time.Sub(other.Time).Hours() / 24)
}

// SameDay reports whether two dates fall on the same calendar day.
func (d Date) SameDay(other Date) bool {
	return d.Time.Equal(other.Time)
}

// IsWeekend reports whether the date falls on a Saturday or Sunday.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ClockTime is a time of day with second precision. It marshals to and from
// JSON as "HH:MM:SS".
type ClockTime struct {
	Hour   int
	Minute int
	Second int
}

// NewClockTime builds a clock time from hour and minute.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime{Hour: hour, Minute: minute}
}

// MarshalJSON implements json.Marshaler.
func (t ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%02d:%02d:%02d"`, t.Hour, t.Minute, t.Second)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ClockTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = ClockTime{}
		return nil
	}
	parsed, err := time.Parse("15:04:05", s)
	if err != nil {
		parsed, err = time.Parse("15:04", s)
		if err != nil {
			return fmt.Errorf("invalid time '%s': expected HH:MM:SS", s)
		}
	}
	t.Hour, t.Minute, t.Second = parsed.Hour(), parsed.Minute(), parsed.Second()
	return nil
}

// AddHours returns the clock time the given number of fractional hours later,
// wrapping past midnight. Sub-second remainders are rounded to the nearest
// whole second.
func (t ClockTime) AddHours(hours float64) ClockTime {
	total := t.Hour*3600 + t.Minute*60 + t.Second + int(math.Round(hours*3600))
	const day = 24 * 3600
	total %= day
	if total < 0 {
		total += day
	}
	return ClockTime{Hour: total / 3600, Minute: (total % 3600) / 60, Second: total % 60}
}
