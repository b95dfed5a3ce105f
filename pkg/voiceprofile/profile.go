package voiceprofile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Name identifies a profile. Names are totally ordered by verbosity.
type Name string

const (
	Brief    Name = "brief"
	Chat     Name = "chat"
	Story    Name = "story"
	StoryMax Name = "story_max"
)

var order = []Name{Brief, Chat, Story, StoryMax}

// Rank returns the position of n on the verbosity scale, or -1.
func (n Name) Rank() int {
	for i, o := range order {
		if o == n {
			return i
		}
	}
	return -1
}

// Shift moves n by steps along the scale, clamping at both ends.
func (n Name) Shift(steps int) Name {
	r := n.Rank()
	if r < 0 {
		return n
	}
	r += steps
	if r < 0 {
		r = 0
	}
	if r >= len(order) {
		r = len(order) - 1
	}
	return order[r]
}

var aliases = map[string]Name{
	"brief":     Brief,
	"short":     Brief,
	"concise":   Brief,
	"chat":      Chat,
	"normal":    Chat,
	"default":   Chat,
	"story":     Story,
	"long":      Story,
	"story_max": StoryMax,
	"story-max": StoryMax,
	"storymax":  StoryMax,
	"max":       StoryMax,
}

// Normalize resolves a requested profile name. "auto" and "" mean no request.
func Normalize(requested string) (Name, bool) {
	key := strings.ToLower(strings.TrimSpace(requested))
	if key == "" || key == "auto" {
		return "", false
	}
	n, ok := aliases[key]
	return n, ok
}

type Profile struct {
	Name         Name    `yaml:"-" json:"name"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	MaxWords     int     `yaml:"max_words" json:"max_words"`
	MaxSentences int     `yaml:"max_sentences" json:"max_sentences"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	StylePrompt  string  `yaml:"style_prompt" json:"style_prompt"`
}

// Set holds one profile per name. It is read-only after load.
type Set map[Name]Profile

func DefaultSet() Set {
	return Set{
		Brief: {
			Name: Brief, MaxTokens: 96, MaxWords: 28, MaxSentences: 2, Temperature: 0.5,
			StylePrompt: "Answer in one or two short spoken sentences. No lists, no markdown.",
		},
		Chat: {
			Name: Chat, MaxTokens: 220, MaxWords: 70, MaxSentences: 4, Temperature: 0.7,
			StylePrompt: "Reply conversationally in a few sentences, as if speaking aloud. No lists, no markdown.",
		},
		Story: {
			Name: Story, MaxTokens: 520, MaxWords: 180, MaxSentences: 9, Temperature: 0.8,
			StylePrompt: "Tell it as a spoken story with a clear beginning, middle and end. Keep sentences easy to say aloud.",
		},
		StoryMax: {
			Name: StoryMax, MaxTokens: 1024, MaxWords: 320, MaxSentences: 16, Temperature: 0.85,
			StylePrompt: "Tell a rich, detailed spoken story. Use vivid but speakable sentences and no markdown.",
		},
	}
}

// Get returns the profile for n, falling back to chat.
func (s Set) Get(n Name) Profile {
	if p, ok := s[n]; ok {
		return p
	}
	return s[Chat]
}

func (s Set) Validate() error {
	for _, n := range order {
		p, ok := s[n]
		if !ok {
			return fmt.Errorf("profile %q missing", n)
		}
		if p.MaxTokens <= 0 || p.MaxWords <= 0 || p.MaxSentences <= 0 {
			return fmt.Errorf("profile %q: limits must be positive", n)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("profile %q: temperature out of range", n)
		}
	}
	return nil
}

// LoadFile overlays profiles from a YAML file onto the defaults.
// Keys are profile names or aliases; omitted fields keep their default.
func LoadFile(path string) (Set, error) {
	set := DefaultSet()
	if strings.TrimSpace(path) == "" {
		return set, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	for key, node := range doc {
		name, ok := Normalize(key)
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", key)
		}
		p := set[name]
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode profile %q: %w", key, err)
		}
		p.Name = name
		set[name] = p
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
