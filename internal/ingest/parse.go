package ingest

import (
	"fmt"
	"time"
)

// dateLayouts are tried in order against a scraper-supplied datetime string: full RFC3339
// first, then three bare "local" shapes (seconds, minutes, date only) read in the source's
// timezone.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseEventTime parses raw (in location tz, defaulting to UTC when tz is empty or
// unrecognized) against each of dateLayouts in turn, returning the first match.
func ParseEventTime(raw, tz string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	for _, layout := range dateLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime format %q", raw)
}
