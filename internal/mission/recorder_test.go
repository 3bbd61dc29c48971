package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outland-robotics/missiond/internal/interp"
)

func record(n int64) *interp.TickRecord {
	return &interp.TickRecord{Number: n, Root: interp.Running}
}

func fillRecorder(r *Recorder, from, to int64) {
	for n := from; n <= to; n++ {
		r.Append(record(n))
	}
}

func TestRecorderEvictsOldestBeyondDepth(t *testing.T) {
	r := NewRecorder(3)
	fillRecorder(r, 1, 5)

	require.Equal(t, 3, r.Len())
	window := r.Window(HistoryQuery{})
	require.Len(t, window, 3)
	assert.Equal(t, int64(3), window[0].Number)
	assert.Equal(t, int64(5), window[2].Number)
}

func TestRecorderWindowBounds(t *testing.T) {
	r := NewRecorder(100)
	fillRecorder(r, 1, 10)

	window := r.Window(HistoryQuery{LowerBound: 4, UpperBound: 7})
	require.Len(t, window, 4)
	assert.Equal(t, int64(4), window[0].Number)
	assert.Equal(t, int64(7), window[3].Number)
}

func TestRecorderWindowPastTicks(t *testing.T) {
	r := NewRecorder(100)
	fillRecorder(r, 1, 10)

	// Last three ticks.
	window := r.Window(HistoryQuery{PastTicks: 3})
	require.Len(t, window, 3)
	assert.Equal(t, int64(8), window[0].Number)

	// Three ticks ending at an explicit upper bound.
	window = r.Window(HistoryQuery{UpperBound: 6, PastTicks: 3})
	require.Len(t, window, 3)
	assert.Equal(t, int64(4), window[0].Number)
	assert.Equal(t, int64(6), window[2].Number)

	// The stricter of PastTicks and LowerBound wins.
	window = r.Window(HistoryQuery{LowerBound: 9, PastTicks: 5})
	require.Len(t, window, 2)
	assert.Equal(t, int64(9), window[0].Number)
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder(10)
	fillRecorder(r, 1, 4)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Window(HistoryQuery{}))
}

func TestRecorderNonPositiveDepthFallsBack(t *testing.T) {
	r := NewRecorder(0)
	fillRecorder(r, 1, 5)
	assert.Equal(t, 5, r.Len())
}
