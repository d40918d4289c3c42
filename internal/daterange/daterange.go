// Package daterange tiles a date interval into daily, monthly or yearly
// sub-ranges so each upstream query stays under its result ceiling.
package daterange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the date format upstream APIs expect
const Layout = "2006-01-02"

type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

var (
	ErrInvalidGranularity = errors.New("invalid granularity, must be daily, monthly or yearly")
	ErrInvalidRange       = errors.New("start date is after end date")
	ErrInvalidPeriod      = errors.New("period must look like YYYY-MM-DD/YYYY-MM-DD")
)

// Range is an inclusive pair of calendar days
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return Format(r.Start) + "/" + Format(r.End)
}

// ParseGranularity rejects anything but the three known modes
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Daily, Monthly, Yearly:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
	}
}

// Partition returns ordered, gap-free, non-overlapping ranges covering
// [start, end]. Monthly and yearly ranges follow calendar boundaries, with the
// first and last range clipped to the bounds. Times are truncated to days.
func Partition(start, end time.Time, g Granularity) ([]Range, error) {
	start, end = day(start), day(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, Format(start), Format(end))
	}

	var next func(time.Time) time.Time
	switch g {
	case Daily:
		next = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	case Monthly:
		next = func(t time.Time) time.Time { return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC) }
	case Yearly:
		next = func(t time.Time) time.Time { return time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}

	var ranges []Range
	for cur := start; !cur.After(end); {
		n := next(cur)
		last := n.AddDate(0, 0, -1)
		if last.After(end) {
			last = end
		}
		ranges = append(ranges, Range{Start: cur, End: last})
		cur = n
	}
	return ranges, nil
}

// ParsePeriod reads "2015-01-01/2025-12-31"
func ParsePeriod(period string) (time.Time, time.Time, error) {
	from, to, ok := strings.Cut(period, "/")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	start, err := time.Parse(Layout, strings.TrimSpace(from))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	end, err := time.Parse(Layout, strings.TrimSpace(to))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	return start, end, nil
}

// Format renders a day for query parameters
func Format(t time.Time) string {
	return t.Format(Layout)
}

// IterationParams are the task parameters that pick a granularity
type IterationParams struct {
	IterationMode     string `mapstructure:"iteration_mode" json:"iteration_mode,omitempty"`
	UseDailyIteration bool   `mapstructure:"use_daily_iteration" json:"use_daily_iteration,omitempty"`
	NomRegion         string `mapstructure:"nom_region" json:"nom_region,omitempty"`
}

// ModeFromParams picks the granularity: an explicit iteration_mode wins, then
// the legacy daily flag, then a region filter (yearly); monthly otherwise.
// An unknown iteration_mode is an error.
func ModeFromParams(p IterationParams) (Granularity, error) {
	if p.IterationMode != "" {
		return ParseGranularity(p.IterationMode)
	}
	if p.UseDailyIteration {
		return Daily, nil
	}
	if p.NomRegion != "" {
		return Yearly, nil
	}
	return Monthly, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
