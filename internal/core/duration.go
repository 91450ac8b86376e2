package core

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISO8601Duration parses a day-time ISO 8601 duration (P1D, PT30M, P1DT2H).
// Zero durations are rejected.
func ParseISO8601Duration(s string) (time.Duration, error) {
	matches := isoDurationPattern.FindStringSubmatch(s)
	if matches == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q", s)
	}

	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	var d time.Duration
	for i, unit := range units {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration: %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	if matches[4] != "" {
		secs, err := strconv.ParseFloat(matches[4], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration: %q: %w", s, err)
		}
		d += time.Duration(secs * float64(time.Second))
	}

	if d == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q (zero duration)", s)
	}
	return d, nil
}
