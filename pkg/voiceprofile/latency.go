package voiceprofile

import "sync"

// LatencySnapshot is a consistent view of LatencyState.
type LatencySnapshot struct {
	EMA             float64
	HasEMA          bool
	Samples         int
	LastTotalS      float64
	LastFirstTokenS float64
	LastProfile     Name
}

// LatencyState tracks an exponential moving average of generation latency.
type LatencyState struct {
	mu    sync.RWMutex
	alpha float64
	snap  LatencySnapshot
}

func NewLatencyState(alpha float64) *LatencyState {
	return &LatencyState{alpha: ClampAlpha(alpha)}
}

// ClampAlpha keeps the smoothing factor within [0.05, 0.9].
func ClampAlpha(a float64) float64 {
	switch {
	case a < 0.05:
		return 0.05
	case a > 0.9:
		return 0.9
	default:
		return a
	}
}

// Update folds one turn's total latency into the average and returns it.
func (l *LatencyState) Update(totalS, firstTokenS float64, profile Name) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if totalS < 0 {
		return l.snap.EMA
	}
	if !l.snap.HasEMA {
		l.snap.EMA = totalS
		l.snap.HasEMA = true
	} else {
		l.snap.EMA = l.alpha*totalS + (1-l.alpha)*l.snap.EMA
	}
	l.snap.Samples++
	l.snap.LastTotalS = totalS
	l.snap.LastFirstTokenS = firstTokenS
	l.snap.LastProfile = profile
	return l.snap.EMA
}

func (l *LatencyState) Snapshot() LatencySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *LatencyState) Alpha() float64 { return l.alpha }
