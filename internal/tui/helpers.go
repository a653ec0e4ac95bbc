package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// formatTime renders a timestamp for account details: relative within
// a week, a calendar date after that.
func formatTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d >= 7*24*time.Hour:
		return t.Local().Format("Jan 2, 2006")
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncStr truncates a string to maxLen runes, appending an ellipsis if needed.
func truncStr(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-1]) + "…"
}

// mask hides a secret value behind bullets of the same rune length.
func mask(s string) string {
	return strings.Repeat("•", utf8.RuneCountInString(s))
}
