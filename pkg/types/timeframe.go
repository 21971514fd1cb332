package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe converts a timeframe string like "1m", "15m", "4h" or "1d"
// into a duration. An empty string defaults to one minute.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return time.Minute, nil
	}

	value, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", tf, err)
	}

	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe unit in %q", tf)
	}
}
