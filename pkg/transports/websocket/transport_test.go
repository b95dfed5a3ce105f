package websocket

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/transports"
)

func dial(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, tr *Transport) frames.Frame {
	t.Helper()
	select {
	case f := <-tr.Recv():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func readEvent(t *testing.T, conn *gws.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(msg, &evt))
	return evt
}

func TestSessionLifecycleAndAudio(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	defer srv.Close()
	conn := dial(t, srv)

	start, ok := next(t, tr).(frames.SystemFrame)
	require.True(t, ok)
	assert.Equal(t, frames.SystemSessionStart, start.Name())
	streamID := start.Meta()[frames.MetaStreamID]
	require.NotEmpty(t, streamID)
	assert.NotEmpty(t, start.Meta()[frames.MetaTraceID])

	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte{1, 0, 2, 0}))
	af, ok := next(t, tr).(frames.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 0, 2, 0}, af.RawPayload())
	assert.Equal(t, 16000, af.Rate())
	assert.Equal(t, streamID, af.StreamID())

	require.NoError(t, conn.WriteJSON(Event{Event: "start", Start: &Start{SampleRate: 8000, Language: "en"}}))
	require.NoError(t, conn.WriteJSON(Event{Event: "media", Media: &Media{Payload: base64.StdEncoding.EncodeToString([]byte{3, 0})}}))
	af, ok = next(t, tr).(frames.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, 8000, af.Rate())
	assert.Equal(t, "en", af.Meta()[frames.MetaLanguage])

	require.NoError(t, conn.WriteJSON(Event{Event: "stop"}))
	end, ok := next(t, tr).(frames.SystemFrame)
	require.True(t, ok)
	assert.Equal(t, frames.SystemSessionEnd, end.Name())
	assert.Equal(t, "completed", end.Meta()[frames.MetaReason])
}

func TestSendAudioClearAndText(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	defer srv.Close()
	conn := dial(t, srv)
	streamID := next(t, tr).Meta()[frames.MetaStreamID]

	require.NoError(t, tr.Send(frames.NewAudioFrame(streamID, 1, []byte{9, 9}, 22050, 1, nil)))
	evt := readEvent(t, conn)
	assert.Equal(t, "media", evt.Event)
	require.NotNil(t, evt.Media)
	assert.Equal(t, 22050, evt.Media.SampleRate)
	payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, payload)

	require.NoError(t, tr.Send(frames.NewControlFrame(streamID, 2, frames.ControlStartInterruption, nil)))
	assert.Equal(t, "clear", readEvent(t, conn).Event)

	require.NoError(t, tr.Send(frames.NewTextFrame(streamID, 3, "hi", map[string]string{frames.MetaSource: "assistant"})))
	evt = readEvent(t, conn)
	assert.Equal(t, "text", evt.Event)
	assert.Equal(t, "assistant", evt.Role)
	assert.Equal(t, "hi", evt.Text)

	assert.NoError(t, tr.Send(frames.NewAudioFrame("unknown", 4, []byte{1}, 22050, 1, nil)))
}

func TestClientDisconnectEndsSession(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	defer srv.Close()
	conn := dial(t, srv)
	next(t, tr)

	require.NoError(t, conn.Close())
	end, ok := next(t, tr).(frames.SystemFrame)
	require.True(t, ok)
	assert.Equal(t, frames.SystemSessionEnd, end.Name())
	assert.Equal(t, "transport_closed", end.Meta()[frames.MetaReason])
}

func TestStopClosesRecv(t *testing.T) {
	tr := New(Config{})
	require.NoError(t, tr.Stop())
	_, ok := <-tr.Recv()
	assert.False(t, ok)
	assert.NoError(t, tr.Stop())
	assert.ErrorIs(t, tr.Send(frames.NewTextFrame("s", 1, "late", nil)), transports.ErrClosed)

	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckOrigin(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"app.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, tr.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, tr.checkOrigin(req))
}
