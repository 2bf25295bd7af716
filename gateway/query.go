package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches duration strings like "7d", "2w", "3m", "1y"
var durationPattern = regexp.MustCompile(`^(\d+)([hdwmy])$`)

// ParseDuration parses a duration string like "12h", "7d", "2w", "3m", "1y".
//
// Supported units:
//   - h: hours
//   - d: days
//   - w: weeks (7 days)
//   - m: months (30 days, approximation)
//   - y: years (365 days, approximation)
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration string is empty")
	}

	matches := durationPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format: %s (expected format: <number><unit>, e.g., 12h, 7d, 2w, 3m, 1y)", s)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid number in duration: %s", matches[1])
	}

	day := 24 * time.Hour
	switch matches[2] {
	case "h":
		return time.Duration(num) * time.Hour, nil
	case "d":
		return time.Duration(num) * day, nil
	case "w":
		return time.Duration(num) * 7 * day, nil
	case "m": // months (approximate as 30 days)
		return time.Duration(num) * 30 * day, nil
	case "y": // years (approximate as 365 days)
		return time.Duration(num) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid duration unit: %s (expected h, d, w, m, or y)", matches[2])
}

// SinceTime converts a "since" duration string (e.g., "7d") to the point in
// time that is <duration> before now. An empty string means no bound.
func SinceTime(since string, now time.Time) (*time.Time, error) {
	if since == "" {
		return nil, nil
	}
	duration, err := ParseDuration(since)
	if err != nil {
		return nil, err
	}
	t := now.Add(-duration)
	return &t, nil
}
