package session

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a session id of the form YYYYMMDD-HHMMSS-<8 hex>.
func NewID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}
