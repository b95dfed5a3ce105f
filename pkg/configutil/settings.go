package configutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decode validates input against schema and decodes it into out. Errors
// are prefixed with path (e.g. "vendors.tts.settings").
func Decode(path string, input map[string]any, schema Schema, out any) error {
	if err := ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := DecodeSettings(input, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// DecodeSettings decodes a free-form settings map into a typed struct.
// Strings such as "250ms" decode into time.Duration fields.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// ExpandEnv replaces ${VAR} references in every string of a settings map,
// descending into nested maps and lists. YAML maps with non-string keys
// are converted and their non-string keys dropped.
func ExpandEnv(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		return ExpandEnv(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(v)
			}
		}
		return out
	}
	return v
}

func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// BoolValue returns fallback when value is unset.
func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// IntValue returns fallback when value is unset.
func IntValue(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

func normalizeKey(value string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(value))
}
