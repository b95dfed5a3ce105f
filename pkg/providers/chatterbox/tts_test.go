package chatterbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/pkg/adapters/tts"
	"github.com/harunnryd/parley/pkg/audio"
)

func TestSynthesizeReturnsWAV(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 2000), 22050, 1)
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	s, err := New(Config{BaseURL: srv.URL, VoiceID: "knight"})
	require.NoError(t, err)
	out, err := s.Synthesize(context.Background(), "Hi  there", tts.Options{Exaggeration: 0.7})
	require.NoError(t, err)
	assert.Equal(t, wav, out)
	assert.Equal(t, "Hi there", got.Text)
	assert.Equal(t, 0.7, got.Exaggeration)
	assert.Equal(t, "knight", got.VoiceID)
}

func TestSynthesizeDefaultsExaggeration(t *testing.T) {
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 100), 22050, 1))
	}))
	defer srv.Close()

	s, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "ok", tts.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Exaggeration)
}

func TestSynthesizeRejectsHeaderOnlyAudio(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(audio.WAVHeader(0, 22050, 1, 16))
	}))
	defer srv.Close()

	s, err := New(Config{BaseURL: srv.URL, MaxRetries: 2, Backoff: time.Millisecond})
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "ok", tts.Options{})
	assert.ErrorIs(t, err, audio.ErrShortWAV)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 100), 22050, 1))
	}))
	defer srv.Close()

	s, err := New(Config{BaseURL: srv.URL, MaxRetries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "ok", tts.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSynthesizeEmptyText(t *testing.T) {
	s, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "   ", tts.Options{})
	assert.Error(t, err)
}

func TestClipText(t *testing.T) {
	assert.Equal(t, "short", ClipText(" short ", 100))
	long := strings.Repeat("word ", 10) + "end. " + strings.Repeat("tail ", 20)
	got := ClipText(long, 80)
	assert.True(t, strings.HasSuffix(got, "end. ..."), got)
	noBreak := strings.Repeat("a", 100)
	assert.Equal(t, strings.Repeat("a", 50)+" ...", ClipText(noBreak, 50))
}
