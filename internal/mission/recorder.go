package mission

import (
	"sync"

	"github.com/outland-robotics/missiond/internal/interp"
)

// DefaultHistoryDepth bounds the tick history when no depth is
// configured.
const DefaultHistoryDepth = 1024

// HistoryQuery selects a window of the recorded tick history. Either
// LowerBound or PastTicks narrows the lower edge; zero values mean
// "from the oldest retained tick". UpperBound of zero means "through
// the newest tick".
type HistoryQuery struct {
	UpperBound int64 `json:"upper_bound,omitempty"`
	LowerBound int64 `json:"lower_bound,omitempty"`
	PastTicks  int   `json:"past_ticks,omitempty"`
}

// Recorder keeps the bounded ring buffer of per-tick snapshots. One
// record is appended per external tick; the oldest entries are evicted
// once the configured depth is exceeded.
type Recorder struct {
	mu      sync.Mutex
	depth   int
	history []*interp.TickRecord
}

// NewRecorder creates a recorder retaining up to depth ticks.
// Non-positive depths fall back to DefaultHistoryDepth.
func NewRecorder(depth int) *Recorder {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &Recorder{depth: depth}
}

// Append stores one tick record, evicting the oldest entry when the
// buffer is full.
func (r *Recorder) Append(rec *interp.TickRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, rec)
	if len(r.history) > r.depth {
		r.history = r.history[len(r.history)-r.depth:]
	}
}

// Len returns the number of retained records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Window returns the retained records matching the query, oldest
// first.
func (r *Recorder) Window(q HistoryQuery) []*interp.TickRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	lower := q.LowerBound
	if q.PastTicks > 0 {
		upper := q.UpperBound
		if upper == 0 && len(r.history) > 0 {
			upper = r.history[len(r.history)-1].Number
		}
		fromPast := upper - int64(q.PastTicks) + 1
		if fromPast > lower {
			lower = fromPast
		}
	}

	var out []*interp.TickRecord
	for _, rec := range r.history {
		if rec.Number < lower {
			continue
		}
		if q.UpperBound > 0 && rec.Number > q.UpperBound {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Reset drops all retained history; used on restart and unload.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}
