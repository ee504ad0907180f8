package generic

// =============================================================================
// PERIOD - A span of calendar days (school year, billing month)
// =============================================================================

// Period is an inclusive range of days [Start, End].
//
// Examples:
//   - School year 2025-2026: Aug 18 2025 - Jun 30 2026
//   - Billing month September 2025: Sep 1 - Sep 30
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a period, rejecting an end before its start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// MonthOf returns the calendar month containing tp.
func MonthOf(tp TimePoint) Period {
	return Period{
		Start: StartOfMonth(tp.Year(), tp.Month()),
		End:   EndOfMonth(tp.Year(), tp.Month()),
	}
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Months splits the period into calendar months. The first and last months
// are clipped to the period bounds.
func (p Period) Months() []Period {
	if p.End.Before(p.Start) {
		return nil
	}
	var months []Period
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		m := MonthOf(current)
		if m.Start.Before(p.Start) {
			m.Start = p.Start
		}
		if m.End.After(p.End) {
			m.End = p.End
		}
		months = append(months, m)
		current = StartOfMonth(current.Year(), current.Month()).AddMonths(1)
	}
	return months
}

// Label returns YYYY-MM of the period start, used as the billing month key.
func (p Period) Label() string {
	return p.Start.Time.Format("2006-01")
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
