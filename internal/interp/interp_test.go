package interp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// fakeClock drives mission time deterministically.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// scriptNode plays a scripted result sequence and records its tick and
// stop calls, optionally into a shared ordered log.
type scriptNode struct {
	base
	results []Result

	idx   int
	ticks int
	stops int
	log   *[]string
}

func newScriptNode(id int64, name string, results ...Result) *scriptNode {
	return &scriptNode{base: base{id: id, name: name}, results: results}
}

func (n *scriptNode) Tick(t *Tick, scope *bb.Scope) Result {
	n.ticks++
	if n.log != nil {
		*n.log = append(*n.log, "tick:"+n.name)
	}
	i := n.idx
	if i >= len(n.results) {
		i = len(n.results) - 1
	}
	r := n.results[i]
	n.idx++
	return r
}

func (n *scriptNode) Stop(ctx context.Context) {
	n.stops++
	n.idx = 0
	if n.log != nil {
		*n.log = append(*n.log, "stop:"+n.name)
	}
}

func newTestScheduler(clock *fakeClock, root Node, nodes ...Node) *Scheduler {
	byID := map[int64]Node{root.ID(): root}
	for _, n := range nodes {
		byID[n.ID()] = n
	}
	return NewScheduler(root, byID, WithClock(clock.Now))
}

// fakeBoard is an in-memory QuestionBoard whose answers tests control.
type fakeBoard struct {
	nextID    int
	questions map[types.ID]*fakeQuestion
	asked     []types.ID
	retired   []types.ID
	abandoned []types.ID
}

type fakeQuestion struct {
	answered bool
	code     int64
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{questions: make(map[types.ID]*fakeQuestion)}
}

func (b *fakeBoard) Ask(nodeID int64, text string, options []tree.PromptOption, severity string) types.ID {
	b.nextID++
	id := types.ID(fmt.Sprintf("q-%d", b.nextID))
	b.questions[id] = &fakeQuestion{}
	b.asked = append(b.asked, id)
	return id
}

func (b *fakeBoard) Poll(id types.ID) (int64, QuestionState) {
	q, ok := b.questions[id]
	if !ok {
		return 0, QuestionAbandoned
	}
	if q.answered {
		return q.code, QuestionAnswered
	}
	return 0, QuestionPending
}

func (b *fakeBoard) Abandon(id types.ID) {
	delete(b.questions, id)
	b.abandoned = append(b.abandoned, id)
}

func (b *fakeBoard) Retire(id types.ID) {
	delete(b.questions, id)
	b.retired = append(b.retired, id)
}

func (b *fakeBoard) answer(id types.ID, code int64) {
	if q, ok := b.questions[id]; ok {
		q.answered = true
		q.code = code
	}
}

// compileAndBuild compiles a spec tree and builds its runtime graph.
func compileAndBuild(t *testing.T, root *tree.NodeSpec, deps Deps) (*tree.Compiled, Node, map[int64]Node) {
	t.Helper()
	compiled, failed := tree.Compile(root, nil)
	require.Empty(t, failed)
	node, byID, err := Build(compiled, deps)
	require.NoError(t, err)
	return compiled, node, byID
}

func constSource(v bb.Value) *tree.ValueSource {
	return &tree.ValueSource{Const: &v}
}

func tickN(s *Scheduler, leases *lease.Set, n int) (Result, *TickRecord) {
	var r Result
	var rec *TickRecord
	for i := 0; i < n; i++ {
		r, rec = s.Tick(context.Background(), leases)
	}
	return r, rec
}

func TestSequenceRunsChildrenInOrder(t *testing.T) {
	clock := newFakeClock()
	root := &tree.NodeSpec{
		Name: "seq",
		Kind: tree.KindSequence,
		Children: []*tree.NodeSpec{
			{Name: "set", Kind: tree.KindSetBlackboard, Key: "phase", Value: constSource(bb.IntValue(1))},
			{Name: "nap", Kind: tree.KindSleep, Duration: tree.Duration(2 * time.Second)},
			{Name: "done", Kind: tree.KindConstantResult, Result: "success"},
		},
	}
	_, node, byID := compileAndBuild(t, root, Deps{})
	s := NewScheduler(node, byID, WithClock(clock.Now))
	leases := lease.NewSet()

	// Tick 1: set succeeds, sleep starts running.
	r, rec := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	assert.Equal(t, int64(1), rec.Number)

	v, _, ok := s.RootScope().Read("phase")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int)

	// Still asleep.
	clock.Advance(time.Second)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)

	// Sleep elapses; the final leaf runs in the same tick.
	clock.Advance(time.Second)
	r, rec = s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, int64(3), rec.Number)
}

func TestSequenceResumeDoesNotRerunEarlierChildren(t *testing.T) {
	clock := newFakeClock()
	first := newScriptNode(1, "first", Success)
	second := newScriptNode(2, "second", Running, Success)
	seq := &sequenceNode{base: base{id: 3, name: "seq"}, children: []Node{first, second}}
	s := newTestScheduler(clock, seq, first, second)
	leases := lease.NewSet()

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)

	// The finished first child is not revisited on resume.
	assert.Equal(t, 1, first.ticks)
	assert.Equal(t, 2, second.ticks)
}

func TestSequenceAlwaysRestartRerunsFromFirstChild(t *testing.T) {
	clock := newFakeClock()
	first := newScriptNode(1, "first", Success)
	second := newScriptNode(2, "second", Running, Success)
	seq := &sequenceNode{base: base{id: 3, name: "seq"}, children: []Node{first, second}, alwaysRestart: true}
	s := newTestScheduler(clock, seq, first, second)
	leases := lease.NewSet()

	tickN(s, leases, 2)
	assert.Equal(t, 2, first.ticks)
}

func TestSelectorSkipsFailuresAndCatchesNothingOnError(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	a := newScriptNode(1, "a", Failure)
	b := newScriptNode(2, "b", Success)
	sel := &selectorNode{base: base{id: 3, name: "sel"}, children: []Node{a, b}}
	s := newTestScheduler(clock, sel, a, b)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)

	// An ERROR child short-circuits the selector rather than being
	// treated as one more failure.
	c := newScriptNode(4, "c", Error)
	d := newScriptNode(5, "d", Success)
	sel2 := &selectorNode{base: base{id: 6, name: "sel2"}, children: []Node{c, d}}
	s2 := newTestScheduler(clock, sel2, c, d)

	r, _ = s2.Tick(context.Background(), leases)
	assert.Equal(t, Error, r)
	assert.Equal(t, 0, d.ticks)
}

func TestSwitchAlwaysRestartStopsOldChildBeforeNewChildTicks(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()
	var log []string

	a := newScriptNode(1, "A", Running)
	a.log = &log
	b := newScriptNode(2, "B", Running)
	b.log = &log

	sw := &switchNode{
		base:          base{id: 3, name: "switch"},
		pivot:         &tree.Operand{FromBlackboard: "pivot"},
		caseValues:    []int64{1, 2},
		cases:         []Node{a, b},
		alwaysRestart: true,
	}
	s := newTestScheduler(clock, sw, a, b)
	s.RootScope().Define("pivot", bb.IntValue(1), 0)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	assert.Equal(t, []string{"tick:A"}, log)

	// Pivot flips between ticks: A must be stopped before B ever ticks.
	require.NoError(t, s.RootScope().Write("pivot", bb.IntValue(2), 1))
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	assert.Equal(t, []string{"tick:A", "stop:A", "tick:B"}, log)
	assert.Equal(t, 1, a.stops)
}

func TestSwitchWithoutMatchOrDefaultFails(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	a := newScriptNode(1, "A", Success)
	sw := &switchNode{
		base:       base{id: 2, name: "switch"},
		pivot:      &tree.Operand{Const: &bb.Value{Kind: bb.KindInt, Int: 9}},
		caseValues: []int64{1},
		cases:      []Node{a},
	}
	s := newTestScheduler(clock, sw, a)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Failure, r)
	assert.Equal(t, 0, a.ticks)
}

func TestSwitchMissingPivotIsError(t *testing.T) {
	clock := newFakeClock()
	a := newScriptNode(1, "A", Success)
	sw := &switchNode{
		base:       base{id: 2, name: "switch"},
		pivot:      &tree.Operand{FromBlackboard: "nowhere"},
		caseValues: []int64{1},
		cases:      []Node{a},
	}
	s := newTestScheduler(clock, sw, a)

	r, _ := s.Tick(context.Background(), lease.NewSet())
	assert.Equal(t, Error, r)
}

func TestRepeatCountsCompleteRuns(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "child", Success)
	rep := &repeatNode{base: base{id: 2, name: "repeat"}, child: child, maxStarts: 3}
	s := newTestScheduler(clock, rep, child)

	r, _ := tickN(s, leases, 2)
	assert.Equal(t, Running, r)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 3, child.ticks)
}

func TestRepeatRespectChildFailure(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "child", Success, Failure)
	rep := &repeatNode{base: base{id: 2, name: "repeat"}, child: child, maxStarts: 5, respectChildFailure: true}
	s := newTestScheduler(clock, rep, child)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Failure, r)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "flaky", Failure)
	retry := &retryNode{base: base{id: 2, name: "retry"}, child: child, maxAttempts: 3}
	s := newTestScheduler(clock, retry, child)

	r, _ := tickN(s, leases, 2)
	assert.Equal(t, Running, r)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Failure, r)
	// Exactly max_attempts child invocations, no more.
	assert.Equal(t, 3, child.ticks)
}

func TestRetrySucceedsOnLaterAttempt(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "flaky", Failure, Success)
	retry := &retryNode{base: base{id: 2, name: "retry"}, child: child, maxAttempts: 3}
	s := newTestScheduler(clock, retry, child)

	r, _ := tickN(s, leases, 2)
	assert.Equal(t, Success, r)
	assert.Equal(t, 2, child.ticks)
}

func TestParallelSecondaryGetsFinalTickThenOneStop(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	primary := newScriptNode(1, "primary", Running, Success)
	secondary := newScriptNode(2, "secondary", Running)
	par := &parallelNode{base: base{id: 3, name: "par"}, primary: primary, secondary: secondary}
	s := newTestScheduler(clock, par, primary, secondary)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)

	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 2, secondary.ticks)
	assert.Equal(t, 1, secondary.stops)

	// The end-of-tick sweep and the next tick must not stop it again.
	primary.idx = 0
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)
	assert.Equal(t, 1, secondary.stops)
}

func TestParallelSecondaryFinishingEarlyIsNotRestarted(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	primary := newScriptNode(1, "primary", Running, Running, Success)
	secondary := newScriptNode(2, "secondary", Success)
	par := &parallelNode{base: base{id: 3, name: "par"}, primary: primary, secondary: secondary}
	s := newTestScheduler(clock, par, primary, secondary)

	tickN(s, leases, 3)
	assert.Equal(t, 1, secondary.ticks)
	assert.Equal(t, 0, secondary.stops)
}

func TestForDurationStopsChildAndRunsFallbackOnExpiry(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "slow", Running)
	fallback := newScriptNode(2, "fallback", Success)
	fd := &forDurationNode{base: base{id: 3, name: "for"}, child: child, fallback: fallback, duration: 3 * time.Second}
	s := newTestScheduler(clock, fd, child, fallback)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Running, r)

	clock.Advance(4 * time.Second)
	r, _ = s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 1, child.stops)
	assert.Equal(t, 1, fallback.ticks)
}

func TestForDurationWithoutFallbackFailsOnExpiry(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "slow", Running)
	fd := &forDurationNode{base: base{id: 2, name: "for"}, child: child, duration: time.Second}
	s := newTestScheduler(clock, fd, child)

	s.Tick(context.Background(), leases)
	clock.Advance(2 * time.Second)
	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Failure, r)
}

func TestForDurationChildFinishingInTimeSkipsFallback(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	child := newScriptNode(1, "quick", Success)
	fallback := newScriptNode(2, "fallback", Success)
	fd := &forDurationNode{base: base{id: 3, name: "for"}, child: child, fallback: fallback, duration: time.Minute}
	s := newTestScheduler(clock, fd, child, fallback)

	r, _ := s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 0, fallback.ticks)
}

func TestDefineBlackboardScopesBindings(t *testing.T) {
	clock := newFakeClock()
	root := &tree.NodeSpec{
		Name: "scoped",
		Kind: tree.KindDefineBlackboard,
		Bindings: []tree.ParameterBinding{
			{Name: "speed", Value: *constSource(bb.FloatValue(0.5))},
		},
		Children: []*tree.NodeSpec{
			{Name: "bump", Kind: tree.KindSetBlackboard, Key: "speed", Value: constSource(bb.FloatValue(0.9))},
		},
	}
	_, node, byID := compileAndBuild(t, root, Deps{})
	s := NewScheduler(node, byID, WithClock(clock.Now))

	r, _ := s.Tick(context.Background(), lease.NewSet())
	assert.Equal(t, Success, r)

	// The inner write targeted the scoped binding; nothing leaked out.
	assert.False(t, s.RootScope().Defined("speed"))
}

func TestSchedulerStopsUnreachedRunningNodes(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	running := newScriptNode(1, "running", Running)
	gate := newScriptNode(2, "gate", Success, Failure)
	// Selector: while gate succeeds, running is never reached; once the
	// gate fails, running becomes the active branch.
	sel := &selectorNode{base: base{id: 3, name: "sel"}, children: []Node{gate, running}, alwaysRestart: true}
	s := newTestScheduler(clock, sel, gate, running)

	s.Tick(context.Background(), leases)
	assert.Equal(t, 0, running.ticks)

	// Gate fails; running starts.
	s.Tick(context.Background(), leases)
	assert.Equal(t, 1, running.ticks)

	// Gate succeeds again; running was RUNNING last tick and is not
	// reached, so the sweep must stop it exactly once.
	gate.results = []Result{Success}
	gate.idx = 0
	s.Tick(context.Background(), leases)
	assert.Equal(t, 1, running.stops)

	// Not running anymore: no further stops.
	s.Tick(context.Background(), leases)
	assert.Equal(t, 1, running.stops)
}

func TestSchedulerStopAllStopsEveryRunningNode(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	primary := newScriptNode(1, "primary", Running)
	secondary := newScriptNode(2, "secondary", Running)
	par := &parallelNode{base: base{id: 3, name: "par"}, primary: primary, secondary: secondary}
	s := newTestScheduler(clock, par, primary, secondary)

	s.Tick(context.Background(), leases)
	s.StopAll(context.Background())
	assert.Equal(t, 1, primary.stops)
	assert.Equal(t, 1, secondary.stops)

	// StopAll cleared the running set.
	s.StopAll(context.Background())
	assert.Equal(t, 1, primary.stops)
}

func TestTickRunsNodeAtMostOncePerTick(t *testing.T) {
	clock := newFakeClock()
	leases := lease.NewSet()

	shared := newScriptNode(1, "shared", Success)
	seq := &sequenceNode{base: base{id: 2, name: "seq"}, children: []Node{shared, shared}}
	s := newTestScheduler(clock, seq, shared)

	r, rec := s.Tick(context.Background(), leases)
	assert.Equal(t, Success, r)
	assert.Equal(t, 1, shared.ticks)
	assert.Len(t, rec.NodeResults, 2)
}
