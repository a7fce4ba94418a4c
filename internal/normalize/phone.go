package normalize

import (
	"regexp"
	"strings"
)

var phoneCandidate = regexp.MustCompile(`\+?\d[\d\s\-]{6,}\d`)

// Phone returns the E.164-style form of raw, or false when raw is not a
// usable number.
func Phone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	hasPlus := false
	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && digits.Len() == 0:
			hasPlus = true
		}
	}
	d := digits.String()
	if d == "" {
		return "", false
	}
	switch {
	case hasPlus:
		return "+" + d, true
	case strings.HasPrefix(d, "380") && len(d) >= 12:
		return "+" + d, true
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return "+38" + d, true
	case len(d) == 11 && strings.HasPrefix(d, "8"):
		return "+7" + d[1:], true
	case len(d) == 11 && strings.HasPrefix(d, "7"):
		return "+" + d, true
	case len(d) >= 10:
		return "+" + d, true
	}
	return "", false
}

// FindPhone returns the first phone-like substring of text.
func FindPhone(text string) string {
	return phoneCandidate.FindString(text)
}
