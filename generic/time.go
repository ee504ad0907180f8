package generic

import (
	"time"
)

// =============================================================================
// TIME POINT - Calendar-day date (due dates, billing months, "today")
// =============================================================================

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// TimePoint is a calendar day. Comparisons always look at the date only,
// the time-of-day is normalized to midnight in the point's own location.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func NewTimePointIn(year int, month time.Month, day int, loc *time.Location) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, loc)}
}

// DateOf drops the time-of-day component of t, keeping its location.
func DateOf(t time.Time) TimePoint {
	return TimePoint{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())}
}

// TodayIn returns the current date as observed in loc.
func TodayIn(loc *time.Location) TimePoint {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(time.Now().In(loc))
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.key() < other.key() }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.key() == other.key() }
func (tp TimePoint) After(other TimePoint) bool         { return tp.key() > other.key() }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.key() <= other.key() }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.key() >= other.key() }

// key orders dates by their calendar day regardless of location, so a due
// date stored in UTC compares cleanly against "today" in the school's zone.
func (tp TimePoint) key() int {
	y, m, d := tp.Time.Date()
	return y*10000 + int(m)*100 + d
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }
func EndOfMonth(year int, month time.Month) TimePoint {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return TimePoint{Time: t}
}

// DayInMonth returns the given day of the month, clamped to the month's
// last day (day 31 in February becomes the 28th or 29th).
func DayInMonth(year int, month time.Month, day int) TimePoint {
	last := EndOfMonth(year, month).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewTimePoint(year, month, day)
}
