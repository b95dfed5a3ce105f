package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	const in = "email a@b.com and phone +62 812 3456 7890"
	tests := []struct {
		name    string
		enabled bool
		in      string
		want    string
	}{
		{"disabled", false, in, in},
		{"email and phone", true, in, "email [REDACTED_EMAIL] and phone +[REDACTED_PHONE]"},
		{"spoken digits", true, "call me on five five five one two three four please", "call me on [REDACTED_NUMBER] please"},
		{"short spoken run kept", true, "I have two or three questions", "I have two or three questions"},
		{"blank", true, "  ", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetEnabled(tt.enabled)
			defer SetEnabled(false)
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}
