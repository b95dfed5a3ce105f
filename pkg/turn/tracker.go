package turn

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
)

// Sink persists closed turn records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

type TrackerOptions struct {
	SessionID string
	Sink      Sink
	Observer  metrics.Observer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Tracker owns the live turns of one session. Every method is safe for
// concurrent use; operations on unknown or closed turns are no-ops.
type Tracker struct {
	sessionID string
	sink      Sink
	obs       metrics.Observer
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	next int64
	live map[int64]*Record
}

func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	return &Tracker{
		sessionID: opts.SessionID,
		sink:      opts.Sink,
		obs:       opts.Observer,
		logger:    logging.NewComponentLogger(opts.Logger, "turn_tracker"),
		now:       opts.Now,
		live:      make(map[int64]*Record),
	}
}

func (t *Tracker) SessionID() string { return t.sessionID }

// Open allocates a new turn. Any turn still in progress is force-closed as
// interrupted in the same critical section, so at most one turn is live.
func (t *Tracker) Open(ctx context.Context, userText string) int64 {
	t.mu.Lock()
	var superseded []Record
	for _, id := range t.liveIDsLocked() {
		t.live[id].Fields[FieldSuperseded] = true
		if rec, ok := t.closeLocked(id, StatusInterrupted); ok {
			superseded = append(superseded, rec)
		}
	}
	t.next++
	id := t.next
	rec := newRecord(t.sessionID, id, t.now())
	rec.Fields[FieldUserText] = Preview(userText, UserPreviewLen)
	t.live[id] = rec
	t.mu.Unlock()

	for _, old := range superseded {
		t.finish(ctx, old)
	}
	t.logger.Info("turn_opened", slog.String("session_id", t.sessionID), slog.Int64("turn_id", id))
	return id
}

// Mark sets marker m on turn id to the current time.
func (t *Tracker) Mark(id int64, m Marker) bool {
	return t.MarkAt(id, m, t.now())
}

// MarkAt sets marker m on turn id to at.
func (t *Tracker) MarkAt(id int64, m Marker, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.live[id]
	if !ok {
		return false
	}
	rec.Markers[m] = at
	return true
}

// Set stores an arbitrary field on turn id.
func (t *Tracker) Set(id int64, key string, value any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.live[id]
	if !ok {
		return false
	}
	rec.Fields[key] = value
	return true
}

// Get returns a snapshot of a live turn.
func (t *Tracker) Get(id int64) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.live[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// LiveIDs returns the ids of turns still in progress, oldest first.
func (t *Tracker) LiveIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveIDsLocked()
}

func (t *Tracker) liveIDsLocked() []int64 {
	ids := make([]int64, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close finalizes turn id, derives durations, evicts it and persists the
// record. It returns false when the turn is unknown or already closed.
func (t *Tracker) Close(ctx context.Context, id int64, status Status) (Record, bool) {
	if status != StatusCompleted && status != StatusInterrupted {
		return Record{}, false
	}
	t.mu.Lock()
	out, ok := t.closeLocked(id, status)
	t.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	t.finish(ctx, out)
	return out, true
}

func (t *Tracker) closeLocked(id int64, status Status) (Record, bool) {
	rec, ok := t.live[id]
	if !ok {
		return Record{}, false
	}
	delete(t.live, id)
	rec.Status = status
	rec.FlushedAt = t.now()
	rec.derive()
	return rec.clone(), true
}

// finish persists a closed record and reports it. It runs without the lock.
func (t *Tracker) finish(ctx context.Context, rec Record) {
	if t.sink != nil {
		if err := t.sink.Write(ctx, rec); err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonTurnPersist)
			t.logger.Warn("turn_persist_failed",
				slog.String("session_id", t.sessionID),
				slog.Int64("turn_id", rec.TurnID),
				errorsx.Attr(err),
				slog.String("error", err.Error()),
			)
		}
	}
	t.record(rec)
	t.logger.Info("turn_closed",
		slog.String("session_id", t.sessionID),
		slog.Int64("turn_id", rec.TurnID),
		slog.String("status", string(rec.Status)),
	)
}

func (t *Tracker) record(rec Record) {
	fields := make(map[string]any, len(rec.Durations)+2)
	for k, v := range rec.Durations {
		fields[k] = v
	}
	if v, ok := rec.Fields[FieldLLMMode]; ok {
		fields[FieldLLMMode] = v
	}
	if v, ok := rec.Fields[FieldLLMTotal]; ok {
		fields[FieldLLMTotal] = v
	}
	profile, _ := rec.Fields[FieldProfile].(string)
	t.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTurnClosed,
		Time:  rec.FlushedAt,
		Value: float64(rec.TurnID),
		Tags: map[string]string{
			"session_id": rec.SessionID,
			"status":     string(rec.Status),
			"profile":    profile,
			"component":  "turn",
		},
		Fields: fields,
	})
}
