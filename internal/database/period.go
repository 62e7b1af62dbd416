package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

const dateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().UTC().Format(dateLayout)
}

// MakePeriodID creates a period string from start and end dates.
// If start == end, returns just the date (e.g., "2026-02-06").
// Otherwise returns a range (e.g., "2026-02-01..2026-02-06").
func MakePeriodID(start, end string) string {
	if start == end {
		return start
	}
	return start + ".." + end
}

// ParsePeriod turns "YYYY-MM-DD" or "YYYY-MM-DD..YYYY-MM-DD" into a half-open
// UTC range [from, to) covering whole days. An empty string means no bounds.
func ParsePeriod(period string) (from, to *time.Time, err error) {
	period = strings.TrimSpace(period)
	if period == "" {
		return nil, nil, nil
	}
	startStr, endStr := period, period
	if strings.Contains(period, "..") {
		parts := strings.SplitN(period, "..", 2)
		startStr, endStr = parts[0], parts[1]
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: period start %q", analytics.ErrInvalidInput, startStr)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: period end %q", analytics.ErrInvalidInput, endStr)
	}
	if end.Before(start) {
		return nil, nil, fmt.Errorf("%w: period %q ends before it starts", analytics.ErrInvalidInput, period)
	}
	end = end.AddDate(0, 0, 1)
	return &start, &end, nil
}

// PeriodFilter builds a filter from a period string and optional accuracy bounds.
func PeriodFilter(period string, minAccuracy, maxAccuracy *float64) (analytics.Filter, error) {
	from, to, err := ParsePeriod(period)
	if err != nil {
		return analytics.Filter{}, err
	}
	f := analytics.Filter{From: from, To: to, MinAccuracy: minAccuracy, MaxAccuracy: maxAccuracy}
	return f, f.Validate()
}

// FormatPeriodDisplay formats a period for human-readable display.
// Single day: "Feb 06, 2026"
// Range: "Feb 01 - Feb 06, 2026"
func FormatPeriodDisplay(period string) string {
	if period == "" {
		return "All time"
	}
	if strings.Contains(period, "..") {
		parts := strings.SplitN(period, "..", 2)
		start, err := time.Parse(dateLayout, parts[0])
		if err != nil {
			return period
		}
		end, err := time.Parse(dateLayout, parts[1])
		if err != nil {
			return period
		}
		return fmt.Sprintf("%s - %s", start.Format("Jan 02"), end.Format("Jan 02, 2006"))
	}

	d, err := time.Parse(dateLayout, period)
	if err != nil {
		return period
	}
	return d.Format("Jan 02, 2006")
}
