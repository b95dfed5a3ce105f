package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIDFormat(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("x", 3600))
	id := NewID(at)
	assert.Regexp(t, `^20240309-130507-[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewID(at))
}
