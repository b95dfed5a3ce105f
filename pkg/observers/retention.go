package observers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PurgeArtifacts removes turn records, timelines and usage files in dir
// older than maxAge. Returns deleted count.
func PurgeArtifacts(dir string, maxAge time.Duration) (int, error) {
	return purgeBefore(dir, time.Now().Add(-maxAge), maxAge)
}

func purgeBefore(dir string, cutoff time.Time, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var removed int
	var errs error
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

// isArtifact matches the files the engine writes: <session>-turn-NNNN.json
// records, <session>.usage.json summaries and <session>.jsonl timelines.
// Anything else an operator drops in the directory is left alone.
func isArtifact(name string) bool {
	switch {
	case strings.HasSuffix(name, ".usage.json"), strings.HasSuffix(name, ".jsonl"):
		return true
	case strings.HasSuffix(name, ".json"):
		return strings.Contains(name, "-turn-")
	}
	return false
}
