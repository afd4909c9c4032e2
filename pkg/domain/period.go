package domain

import (
	"fmt"
	"time"
)

// periodLayout is the calendar-date format pay periods are exchanged in.
const periodLayout = "2006-01-02"

// Period is an inclusive pay-period date range. Both bounds are calendar
// dates without a time component; ordering and equality are string-safe
// because the layout is lexicographically sortable.
type Period struct {
	Start string `json:"period_start"`
	End   string `json:"period_end"`
}

// NewPeriod validates both bounds and their ordering.
func NewPeriod(start, end string) (Period, error) {
	s, err := time.Parse(periodLayout, start)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period_start %q: %w", start, err)
	}
	e, err := time.Parse(periodLayout, end)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period_end %q: %w", end, err)
	}
	if e.Before(s) {
		return Period{}, fmt.Errorf("period_end %s precedes period_start %s", end, start)
	}
	return Period{Start: start, End: end}, nil
}

// IsZero reports whether either bound is missing.
func (p Period) IsZero() bool {
	return p.Start == "" || p.End == ""
}

func (p Period) String() string {
	return p.Start + ".." + p.End
}
