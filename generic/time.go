package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DAY - Calendar date in the facility's single implicit timezone
// =============================================================================

const DayLayout = "2006-01-02"

type Day struct {
	Time time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar day.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

func Today() Day { return DayOf(time.Now()) }

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, ErrInvalidDate
	}
	return DayOf(t), nil
}

func (d Day) String() string { return d.Time.Format(DayLayout) }
func (d Day) IsZero() bool { return d.Time.IsZero() }
func (d Day) Equal(other Day) bool { return d.Time.Equal(other.Time) }
func (d Day) Before(other Day) bool { return d.Time.Before(other.Time) }
func (d Day) AddDays(n int) Day { return Day{Time: d.Time.AddDate(0, 0, n)} }

// =============================================================================
// CLOCK - Minutes since midnight
// =============================================================================

const MinutesPerDay = 24 * 60

type Clock int

func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidClock
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

func (c Clock) Minutes() int { return int(c) }
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }
