package entity

import (
	"regexp"
	"strings"
)

var (
	numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	spaceRuns      = regexp.MustCompile(`\s+`)
)

// NormalizeText trims the value and collapses internal whitespace runs, so
// "Acme  Corp " and "Acme Corp" compare equal across feeds.
func NormalizeText(s string) string {
	return spaceRuns.ReplaceAllString(strings.TrimSpace(s), " ")
}

// CleanNumeric strips currency symbols, thousands separators, and accounting
// negatives ("(12.50)") from a raw numeric field. Returns the cleaned string
// and whether it parses as a number.
func CleanNumeric(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "£", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return "", false
	}
	return s, true
}
