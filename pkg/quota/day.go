package quota

import (
	"fmt"
	"time"
)

// DefaultTimezone is the zone whose local midnight resets the daily counters
const DefaultTimezone = "Europe/Sofia"

// dayKeyLayout renders a calendar date as YYYY-MM-DD
const dayKeyLayout = "2006-01-02"

// LoadLocation resolves an IANA timezone name, falling back to DefaultTimezone for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DayKey returns the calendar date of now in loc.
// The server's own timezone plays no part, so counters roll over at local midnight in loc.
func DayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(dayKeyLayout)
}

// NextReset returns the next local midnight in loc after now.
// DST transitions are handled by time.Date normalization, so the result can be 23 or 25 hours away.
func NextReset(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, loc)
}
