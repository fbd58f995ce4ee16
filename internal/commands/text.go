package commands

import (
	"fmt"
	"strings"
	"time"
)

// intervalText renders a duration as its two most significant units, the way
// reminder confirmations and list output phrase waits.
func intervalText(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}
	secs := int64(d / time.Second)
	units := []struct {
		name string
		size int64
	}{
		{"year", 365 * 24 * 3600},
		{"month", 30 * 24 * 3600},
		{"day", 24 * 3600},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}
	var parts []string
	for _, u := range units {
		if n := secs / u.size; n > 0 {
			label := u.name
			if n != 1 {
				label += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
			secs -= n * u.size
		}
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
