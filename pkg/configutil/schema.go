package configutil

import (
	"slices"
	"strings"
)

// Schema lists the keys a vendor settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports required keys that are absent or blank and keys
// the schema does not know.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Keys match regardless of
// case, underscores and hyphens, so "api_key", "apiKey" and "API-KEY" are
// the same key.
func ValidateSettings(input map[string]any, schema Schema) error {
	known := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = false
	}
	for _, k := range schema.Required {
		known[normalizeKey(k)] = true
	}
	present := make(map[string]bool, len(input))
	var serr SettingsError
	for k, v := range input {
		nk := normalizeKey(k)
		required, ok := known[nk]
		switch {
		case !ok && !schema.AllowUnknown:
			serr.Unknown = append(serr.Unknown, k)
		case required && isBlank(v):
			continue
		}
		present[nk] = true
	}
	for _, k := range schema.Required {
		if !present[normalizeKey(k)] {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	slices.Sort(serr.Missing)
	slices.Sort(serr.Unknown)
	return &serr
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}
