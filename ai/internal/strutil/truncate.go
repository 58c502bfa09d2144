// Package strutil holds string helpers shared by the ai packages.
package strutil

// Truncate cuts s to at most maxLen runes and marks the cut with "...".
// Multi-byte characters are never split. A non-positive maxLen yields "".
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
