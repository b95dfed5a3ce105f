package voiceprofile

import (
	"strings"
	"unicode"
)

var (
	storyMaxPhrases = []string{
		"story max", "story_max", "storymax", "full story", "very detailed", "in great detail",
		"in full detail", "maximum detail", "max detail", "as long as you can", "epic story",
		"longest story",
	}
	brevityPhrases = []string{
		"brief", "briefly", "short", "shorter", "tl;dr", "tldr", "concise", "quick", "quickly",
		"in a sentence", "one sentence", "in one line", "keep it short", "summarize", "summary",
		"yes or no",
	}
	narrativePhrases = []string{
		"story", "stories", "narrative", "narrate", "roleplay", "role play", "tale", "tales",
		"once upon a time", "bedtime", "fairy tale", "adventure", "legend",
	}
	// a brevity adjective directly before one of these describes the story, not the reply
	narrativeNouns = map[string]bool{
		"story": true, "stories": true, "tale": true, "tales": true, "narrative": true, "adventure": true,
	}
	lengthAdjectives = map[string]bool{"short": true, "brief": true, "quick": true, "shorter": true}
)

type SelectorConfig struct {
	Dynamic   bool
	Strict    bool
	TargetS   float64
	CriticalS float64
	FastS     float64
}

func (c SelectorConfig) withDefaults() SelectorConfig {
	if c.TargetS <= 0 {
		c.TargetS = 4.0
	}
	if c.CriticalS <= 0 {
		c.CriticalS = 7.0
	}
	if c.CriticalS < c.TargetS {
		c.CriticalS = c.TargetS
	}
	if c.FastS <= 0 {
		c.FastS = 1.8
	}
	return c
}

// Selection is the outcome of Select.
type Selection struct {
	Profile  Profile
	Base     Name
	Forced   bool
	Adjusted bool
	Reason   string
	EMA      float64
	HasEMA   bool
}

// Selector picks a profile from message content and recent latency.
type Selector struct {
	set     Set
	cfg     SelectorConfig
	latency *LatencyState
}

func NewSelector(set Set, cfg SelectorConfig, latency *LatencyState) *Selector {
	if set == nil {
		set = DefaultSet()
	}
	if latency == nil {
		latency = NewLatencyState(0.35)
	}
	return &Selector{set: set, cfg: cfg.withDefaults(), latency: latency}
}

func (s *Selector) Set() Set { return s.set }

func (s *Selector) Latency() *LatencyState { return s.latency }

// Select chooses a profile for text. requested may be empty, "auto" or an alias.
func (s *Selector) Select(text, requested string) Selection {
	base, forced := Normalize(requested)
	reason := "requested"
	if !forced {
		base, reason = Infer(text)
	}
	sel := Selection{Base: base, Forced: forced, Reason: reason}

	snap := s.latency.Snapshot()
	sel.EMA, sel.HasEMA = snap.EMA, snap.HasEMA
	chosen := base
	if s.cfg.Dynamic && snap.HasEMA && !(forced && s.cfg.Strict) {
		steps, why := s.shift(snap.EMA, base, forced)
		if steps != 0 {
			chosen = base.Shift(steps)
			if chosen != base {
				sel.Adjusted = true
				sel.Reason = reason + "+" + why
			}
		}
	}
	sel.Profile = s.set.Get(chosen)
	return sel
}

func (s *Selector) shift(ema float64, base Name, forced bool) (int, string) {
	switch {
	case ema >= s.cfg.CriticalS:
		if forced {
			return -1, "latency_critical"
		}
		return -2, "latency_critical"
	case ema >= s.cfg.TargetS:
		return -1, "latency_high"
	case ema <= s.cfg.FastS && !forced && base == Story:
		return 1, "latency_fast"
	}
	return 0, ""
}

// Infer classifies free text, most specific family first.
func Infer(text string) (Name, string) {
	words := tokenize(text)
	if len(words) == 0 {
		return Chat, "default"
	}
	padded := " " + strings.Join(words, " ") + " "
	if containsAny(padded, storyMaxPhrases) {
		return StoryMax, "keyword:story_max"
	}
	if hasBrevityCue(words, padded) {
		return Brief, "keyword:brief"
	}
	if containsAny(padded, narrativePhrases) {
		return Story, "keyword:story"
	}
	return Chat, "default"
}

func hasBrevityCue(words []string, padded string) bool {
	for i, w := range words {
		if !lengthAdjectives[w] {
			continue
		}
		if i+1 < len(words) && narrativeNouns[words[i+1]] {
			continue
		}
		return true
	}
	for _, p := range brevityPhrases {
		if lengthAdjectives[p] {
			continue
		}
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+strings.Join(tokenize(p), " ")+" ") {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == ';' || r == '_')
	})
}
