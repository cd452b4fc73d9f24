package track

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCutTime accepts plain seconds ("12", "12.5") or clock notation
// ("MM:SS", "HH:MM:SS", either with fractional seconds) and returns the
// offset in seconds. Offsets must be positive.
func ParseCutTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidCutTime)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCutTime, s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		v, err := parseComponent(p, last)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCutTime, s)
		}
		// every component after the first is bounded by its unit
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidCutTime, s)
		}
		total = total*60 + v
	}

	if total <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidCutTime, s)
	}
	return total, nil
}

func parseComponent(p string, allowFraction bool) (float64, error) {
	if p == "" || strings.Trim(p, "0123456789.") != "" {
		return 0, fmt.Errorf("bad component %q", p)
	}
	if !allowFraction {
		n, err := strconv.ParseUint(p, 10, 32)
		return float64(n), err
	}
	return strconv.ParseFloat(p, 64)
}

// formatOffset renders seconds the way ffmpeg's -t and -ss accept them.
func formatOffset(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
