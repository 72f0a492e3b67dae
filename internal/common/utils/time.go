package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration extends time.ParseDuration with whole days ("7d") and weeks
// ("2w").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if len(s) >= 2 {
		unit := 24 * time.Hour
		switch s[len(s)-1] {
		case 'd':
		case 'w':
			unit *= 7
		default:
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if n, err := strconv.Atoi(s[:len(s)-1]); err == nil {
			return time.Duration(n) * unit, nil
		}
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// FormatDuration formats d in the largest unit that keeps it readable:
//
//	FormatDuration(30 * time.Second) // "30s"
//	FormatDuration(90 * time.Minute) // "90m"
//	FormatDuration(36 * time.Hour)   // "1.5d"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
