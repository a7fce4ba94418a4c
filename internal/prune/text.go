// Package prune trims outgoing text to Telegram's length limits.
package prune

import (
	"strings"
	"unicode/utf8"
)

const (
	// MessageLimit is the longest text a bot may send.
	MessageLimit = 4096
	// CaptionLimit is the longest media caption.
	CaptionLimit = 1024
	// Marker ends a trimmed text.
	Marker = "…"
)

// Exceeds reports whether s is longer than limit runes.
func Exceeds(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}

// Fit returns s unchanged when it fits in limit runes. Otherwise it keeps
// whole lines while they fit and ends with Marker. A first line that alone
// is too long is cut at a rune boundary.
func Fit(s string, limit int) string {
	if limit <= 0 || !Exceeds(s, limit) {
		return s
	}
	budget := limit - utf8.RuneCountInString(Marker)
	if budget <= 0 {
		return Marker
	}
	prefix := runePrefix(s, budget)
	if cut := strings.LastIndexByte(prefix, '\n'); cut > 0 {
		prefix = prefix[:cut]
	}
	return strings.TrimRight(prefix, " \n") + Marker
}

func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
