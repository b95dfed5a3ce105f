package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes one indented JSON file per closed turn.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// FileName is the record file name for a turn.
func FileName(sessionID string, turnID int64) string {
	return fmt.Sprintf("%s-turn-%04d.json", sanitizeID(sessionID), turnID)
}

func (s *FileSink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(s.dir) == "" {
		return errors.New("file sink: empty directory")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file sink: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(rec.Flatten(), "", "  ")
	if err != nil {
		return fmt.Errorf("file sink: marshal: %w", err)
	}
	path := filepath.Join(s.dir, FileName(rec.SessionID, rec.TurnID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file sink: write: %w", err)
	}
	return os.Rename(tmp, path)
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs error
	for _, s := range m {
		if s == nil {
			continue
		}
		errs = errors.Join(errs, s.Write(ctx, rec))
	}
	return errs
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
