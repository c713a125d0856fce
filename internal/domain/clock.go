package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day expressed in minutes since midnight.
// 24:00 (EndOfDay) is allowed so a window can run to the end of the day.
type Clock int

const EndOfDay Clock = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "HH:MM" (or "HH.MM") with an optional ":SS" suffix.
func ParseClock(s string) (Clock, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ".", ":")
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidInput, s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidInput, s)
	}
	c := NewClock(h, m)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidInput, s)
	}
	return c, nil
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= EndOfDay
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Minute)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClockOf returns the wall-clock part of t in its own location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// DateOf truncates t to its calendar date in t's location and returns that
// date as midnight UTC, which is how dates are stored and compared.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "2006-01-02" calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return t, nil
}

const DateLayout = "2006-01-02"

// ParseWeekday maps day tokens such as "mon", "Tuesday" or "3" to a weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday", "0":
		return time.Sunday, nil
	case "mon", "monday", "1":
		return time.Monday, nil
	case "tue", "tues", "tuesday", "2":
		return time.Tuesday, nil
	case "wed", "wednesday", "3":
		return time.Wednesday, nil
	case "thu", "thur", "thurs", "thursday", "4":
		return time.Thursday, nil
	case "fri", "friday", "5":
		return time.Friday, nil
	case "sat", "saturday", "6":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidInput, s)
}
