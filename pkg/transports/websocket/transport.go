// Package websocket serves voice sessions over a websocket carrying 16-bit
// PCM. Inbound audio is either binary messages or JSON "media" events with a
// base64 payload; outbound audio is always a JSON "media" event.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	SampleRate     int      `mapstructure:"sample_rate"`
	Channels       int      `mapstructure:"channels"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SendBuffer     int      `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 1024
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Event is the JSON envelope exchanged with clients.
type Event struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id,omitempty"`
	Start    *Start `json:"start,omitempty"`
	Media    *Media `json:"media,omitempty"`
	Text     string `json:"text,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
}

type Start struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Language   string `json:"language,omitempty"`
}

type Media struct {
	Payload    string `json:"payload"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

var ErrSendBufferFull = errors.New("websocket: send buffer full")

type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger

	recvMu sync.RWMutex
	recvCh chan frames.Frame
	closed bool

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
		},
		logger:   logging.NewComponentLogger(slog.Default(), "websocket_transport"),
		recvCh:   make(chan frames.Frame, 1024),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return map[string]any{"ws_url": "ws://" + addr + t.cfg.WebsocketPath}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()

	t.recvMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	t.recvMu.Unlock()
	return nil
}

// ServeHTTP upgrades one client connection and runs its read loop.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	streamID := uuid.NewString()
	sess := t.attach(streamID, uuid.NewString(), r.RemoteAddr, conn)
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemSessionStart, sess.meta()))

	reason := "transport_closed"
	defer func() {
		meta := sess.meta()
		meta[frames.MetaReason] = reason
		t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemSessionEnd, meta))
		t.detach(streamID)
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.BinaryMessage {
			t.emitAudio(sess, msg)
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonTransportDecode)
			t.logger.Warn("websocket_bad_event",
				slog.String("stream_id", streamID),
				errorsx.Attr(err),
			)
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start != nil {
				sess.configure(*evt.Start)
			}
		case "media":
			if evt.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			t.emitAudio(sess, payload)
		case "stop":
			reason = "completed"
			return
		}
	}
}

func (t *Transport) emitAudio(sess *session, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	rate, ch := sess.format()
	meta := sess.meta()
	meta[frames.MetaEncoding] = "pcm_s16le"
	t.emit(frames.NewAudioFrame(sess.streamID, time.Now().UnixNano(), pcm, rate, ch, meta))
}

func (t *Transport) Send(f frames.Frame) error {
	if t.draining.Load() {
		return transports.ErrClosed
	}
	streamID := transports.StreamID(f)
	sess := t.session(streamID)
	if sess == nil {
		return nil
	}
	switch v := f.(type) {
	case frames.AudioFrame:
		return sess.enqueue(Event{
			Event:    "media",
			StreamID: streamID,
			Media: &Media{
				Payload:    base64.StdEncoding.EncodeToString(v.RawPayload()),
				SampleRate: v.Rate(),
				Channels:   v.Channels(),
			},
		})
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlFlush, frames.ControlCancel, frames.ControlStartInterruption:
			return sess.enqueue(Event{Event: "clear", StreamID: streamID})
		case frames.ControlPlaybackDone:
			return sess.enqueue(Event{Event: "mark", StreamID: streamID, Name: string(v.Code())})
		}
	case frames.TextFrame:
		return sess.enqueue(Event{
			Event:    "text",
			StreamID: streamID,
			Role:     v.Meta()[frames.MetaSource],
			Text:     v.Text(),
		})
	case frames.SystemFrame:
	}
	return nil
}

func (t *Transport) emit(f frames.Frame) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- f:
	default:
		t.logger.Warn("websocket_recv_dropped", slog.String("kind", string(f.Kind())))
	}
}

func (t *Transport) attach(streamID, traceID, remote string, conn *websocket.Conn) *session {
	sess := &session{
		streamID: streamID,
		traceID:  traceID,
		remote:   remote,
		conn:     conn,
		rate:     t.cfg.SampleRate,
		channels: t.cfg.Channels,
		sendCh:   make(chan []byte, t.cfg.SendBuffer),
	}
	t.mu.Lock()
	t.sessions[streamID] = sess
	t.mu.Unlock()
	go sess.loop()
	return sess
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	sess := t.sessions[streamID]
	delete(t.sessions, streamID)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(streamID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[streamID]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	streamID string
	traceID  string
	remote   string
	conn     *websocket.Conn

	mu       sync.Mutex
	rate     int
	channels int
	language string

	sendMu sync.RWMutex
	sendCh chan []byte
	closed bool
}

func (s *session) configure(st Start) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.SampleRate > 0 {
		s.rate = st.SampleRate
	}
	if st.Channels > 0 {
		s.channels = st.Channels
	}
	if st.Language != "" {
		s.language = st.Language
	}
}

func (s *session) format() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.channels
}

func (s *session) meta() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string]string{
		frames.MetaStreamID: s.streamID,
		frames.MetaTraceID:  s.traceID,
		frames.MetaSource:   "transport",
	}
	if s.remote != "" {
		m[frames.MetaRemote] = s.remote
	}
	if s.language != "" {
		m[frames.MetaLanguage] = s.language
	}
	return m
}

func (s *session) enqueue(evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.sendCh <- b:
		return nil
	default:
		return errorsx.Wrap(ErrSendBufferFull, errorsx.ReasonTransportSend)
	}
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *session) close() error {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.sendCh)
	}
	s.sendMu.Unlock()
	return s.conn.Close()
}
