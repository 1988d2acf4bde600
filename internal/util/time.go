package util

import (
	"fmt"
	"time"
)

// FormatDuration formats milliseconds as a human-readable duration string.
// Examples: "45s", "2m 34s", "1h 23m"
func FormatDuration(ms int64) string {
	totalSeconds := ms / 1000
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// Uptime formats the time elapsed since start, or "" for a zero start.
func Uptime(start time.Time) string {
	if start.IsZero() {
		return ""
	}
	return FormatDuration(time.Since(start).Milliseconds())
}
