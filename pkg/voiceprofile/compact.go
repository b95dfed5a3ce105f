package voiceprofile

import (
	"strings"
	"unicode"
)

// Compact bounds a reply to maxSentences and then maxWords, ending it with
// terminal punctuation. Non-positive limits are ignored.
func Compact(text string, maxWords, maxSentences int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if maxSentences > 0 {
		sentences := splitSentences(text)
		if len(sentences) > maxSentences {
			text = strings.Join(sentences[:maxSentences], " ")
		}
	}
	if maxWords > 0 {
		words := strings.Fields(text)
		if len(words) > maxWords {
			text = strings.Join(words[:maxWords], " ")
		}
	}
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
	if text == "" {
		return ""
	}
	if !isTerminal(lastRune(text)) {
		text += "."
	}
	return text
}

func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		// absorb runs like "?!" and closing quotes
		j := i + 1
		for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

func lastRune(s string) rune {
	r := []rune(s)
	last := r[len(r)-1]
	if isCloser(last) && len(r) > 1 {
		return r[len(r)-2]
	}
	return last
}
