package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	// transcribers often spell numbers out ("five five five one two ...").
	spokenRe = regexp.MustCompile(`(?i)\b(?:(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)[\s,\-]+){6,}(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)\b`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, phone numbers and spoken digit runs of seven or more
// when redaction is enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return spokenRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
}
