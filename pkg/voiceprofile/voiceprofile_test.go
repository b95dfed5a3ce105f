package voiceprofile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompactSentenceCap(t *testing.T) {
	got := Compact("This is one. This is two. This is three.", 100, 2)
	assert.Equal(t, "This is one. This is two.", got)
}

func TestCompactWithinBudgetIsNoop(t *testing.T) {
	in := "Hi there, how can I help you today?"
	chat := DefaultSet()[Chat]
	assert.Equal(t, in, Compact(in, chat.MaxWords, chat.MaxSentences))
}

func TestCompactWordCapAddsPunctuation(t *testing.T) {
	assert.Equal(t, "one two three.", Compact("one two three, four five", 3, 5))
	assert.Equal(t, "Wait!", Compact("Wait! Then go.", 10, 1))
	assert.Equal(t, "", Compact("   ", 10, 2))
}

func TestCompactBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.SampledFrom([]string{"alpha", "beta.", "gamma!", "delta?", "eps,"}), 0, 80).Draw(t, "words")
		maxWords := rapid.IntRange(1, 40).Draw(t, "maxWords")
		maxSentences := rapid.IntRange(1, 10).Draw(t, "maxSentences")
		out := Compact(strings.Join(words, " "), maxWords, maxSentences)
		if n := len(strings.Fields(out)); n > maxWords {
			t.Fatalf("got %d words, limit %d: %q", n, maxWords, out)
		}
		if n := len(splitSentences(out)); n > maxSentences {
			t.Fatalf("got %d sentences, limit %d: %q", n, maxSentences, out)
		}
		if out != "" && !isTerminal(lastRune(out)) {
			t.Fatalf("missing terminal punctuation: %q", out)
		}
	})
}

func TestInferFamilies(t *testing.T) {
	cases := []struct {
		text string
		want Name
	}{
		{"tell me a short story", Story},
		{"give me the full story please", StoryMax},
		{"explain it very detailed", StoryMax},
		{"tl;dr of the news", Brief},
		{"keep it brief", Brief},
		{"what's a short answer to this", Brief},
		{"let's roleplay a pirate", Story},
		{"let's role-play a pirate", Story},
		{"how are you", Chat},
		{"", Chat},
	}
	for _, tc := range cases {
		got, _ := Infer(tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]Name{
		"long": Story, "max": StoryMax, "story-max": StoryMax, "Concise": Brief, "normal": Chat,
	} {
		got, ok := Normalize(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := Normalize("auto")
	assert.False(t, ok)
	_, ok = Normalize("")
	assert.False(t, ok)
	_, ok = Normalize("huge")
	assert.False(t, ok)
}

func TestShiftClamps(t *testing.T) {
	assert.Equal(t, Brief, Chat.Shift(-2))
	assert.Equal(t, StoryMax, Story.Shift(3))
	assert.Equal(t, Chat, Story.Shift(-1))
}

func TestSelectShortStoryWithoutHistory(t *testing.T) {
	s := NewSelector(nil, SelectorConfig{Dynamic: true}, nil)
	sel := s.Select("tell me a short story", "")
	assert.Equal(t, Story, sel.Profile.Name)
	assert.False(t, sel.Forced)
	assert.False(t, sel.Adjusted)
	assert.False(t, sel.HasEMA)
}

func TestSelectLatencyShifts(t *testing.T) {
	cases := []struct {
		name      string
		ema       float64
		text      string
		requested string
		strict    bool
		want      Name
		adjusted  bool
	}{
		{"critical inferred", 8, "tell me a story", "", false, Brief, true},
		{"critical forced", 8, "", "story_max", false, Story, true},
		{"high", 5, "how are you", "", false, Brief, true},
		{"fast narrative", 1.0, "tell me a story", "", false, StoryMax, true},
		{"fast chat stays", 1.0, "how are you", "", false, Chat, false},
		{"fast forced story stays", 1.0, "", "long", false, Story, false},
		{"strict override", 9, "", "story_max", true, StoryMax, false},
		{"normal", 3, "tell me a story", "", false, Story, false},
		{"clamped at bottom", 8, "brief please", "", false, Brief, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lat := NewLatencyState(0.35)
			lat.Update(tc.ema, 0.5, Chat)
			s := NewSelector(DefaultSet(), SelectorConfig{Dynamic: true, Strict: tc.strict}, lat)
			sel := s.Select(tc.text, tc.requested)
			assert.Equal(t, tc.want, sel.Profile.Name)
			assert.Equal(t, tc.adjusted, sel.Adjusted)
			assert.InDelta(t, tc.ema, sel.EMA, 1e-9)
		})
	}
}

func TestSelectStaticIgnoresLatency(t *testing.T) {
	lat := NewLatencyState(0.35)
	lat.Update(10, 1, Chat)
	s := NewSelector(DefaultSet(), SelectorConfig{Dynamic: false}, lat)
	assert.Equal(t, Chat, s.Select("hello", "").Profile.Name)
}

func TestLatencyEMA(t *testing.T) {
	lat := NewLatencyState(0.35)
	assert.InDelta(t, 5.0, lat.Update(5.0, 1.0, Chat), 1e-9)
	assert.InDelta(t, 6.4, lat.Update(9.0, 2.0, Story), 1e-9)
	snap := lat.Snapshot()
	assert.Equal(t, 2, snap.Samples)
	assert.Equal(t, Story, snap.LastProfile)
	assert.InDelta(t, 2.0, snap.LastFirstTokenS, 1e-9)
}

func TestClampAlpha(t *testing.T) {
	assert.Equal(t, 0.05, ClampAlpha(0))
	assert.Equal(t, 0.9, ClampAlpha(1.5))
	assert.Equal(t, 0.35, ClampAlpha(0.35))
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("short:\n  max_words: 12\nstory-max:\n  temperature: 0.9\n"), 0o644))

	set, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, set[Brief].MaxWords)
	assert.Equal(t, 96, set[Brief].MaxTokens)
	assert.Equal(t, 0.9, set[StoryMax].Temperature)
	assert.Equal(t, StoryMax, set[StoryMax].Name)
}

func TestLoadFileRejectsUnknownAndInvalid(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("novel:\n  max_words: 10\n"), 0o644))
	_, err := LoadFile(unknown)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("chat:\n  max_words: 0\n"), 0o644))
	_, err = LoadFile(invalid)
	assert.Error(t, err)

	set, err := LoadFile("")
	require.NoError(t, err)
	assert.NoError(t, set.Validate())
}
