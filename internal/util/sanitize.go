package util

import (
	"regexp"
	"strings"
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// maxLogValue bounds user-provided values written to logs.
const maxLogValue = 256

// SanitizeForLog removes control characters and newlines from user content
// before logging and truncates long values.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = controlChars.ReplaceAllString(s, " ")
	if len(s) > maxLogValue {
		s = s[:maxLogValue] + "..."
	}
	return s
}
