package interp

import (
	"context"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// Node is the runtime face of one compiled instance. Implementations
// form a closed union: one per known tree.Kind, constructed by Build.
//
// Tick and Stop are called exclusively from the single-threaded
// scheduler; implementations hold per-activation state without locks.
type Node interface {
	// ID returns the compiled instance ID.
	ID() int64

	// Name returns the node's display name.
	Name() string

	// Tick advances the node by one step within the current external
	// tick. A node is ticked at most once per external tick.
	Tick(t *Tick, scope *bb.Scope) Result

	// Stop resets per-activation state. The scheduler calls it for any
	// node that was RUNNING on tick N and is not reached on tick N+1,
	// and for every running node on mission stop/restart. Delegated
	// nodes forward the call out of process.
	Stop(ctx context.Context)
}

// QuestionState is the lifecycle phase of an operator question as seen
// by a Prompt node.
type QuestionState string

const (
	QuestionPending   QuestionState = "pending"
	QuestionAnswered  QuestionState = "answered"
	QuestionAbandoned QuestionState = "abandoned"
)

// QuestionBoard is the interpreter's view of the question/answer
// subsystem. The mission package implements it; keeping it an interface
// here avoids a dependency cycle and lets tests use fakes.
type QuestionBoard interface {
	// Ask registers a pending question owned by the given node instance
	// and returns its ID.
	Ask(nodeID int64, text string, options []tree.PromptOption, severity string) types.ID

	// Poll reports the question's state and, when answered, the
	// accepted option code.
	Poll(id types.ID) (code int64, state QuestionState)

	// Abandon marks an unanswered question as timed out.
	Abandon(id types.ID)

	// Retire removes the question; called when the owning node
	// completes or the mission is reset.
	Retire(id types.ID)
}

// Tick is the context of one external tick: the tick counter, the
// mission clock reading, the leases supplied at Play/Restart, and the
// per-tick bookkeeping that feeds the state recorder and the Stop
// contract.
type Tick struct {
	// Ctx carries cancellation and tracing for collaborator calls made
	// within this tick.
	Ctx context.Context

	// Number is the mission tick counter, monotonically increasing
	// across the mission's lifetime.
	Number int64

	// Now is the mission clock reading for this tick. All intra-tick
	// time comparisons (ForDuration, Sleep, Prompt timeout) use it so a
	// tick observes one consistent instant.
	Now time.Time

	// Leases is the lease set supplied by the active Play/Restart.
	Leases *lease.Set

	// Results collects exactly one result per reached instance.
	Results map[int64]Result

	reached map[int64]bool
	stopped map[int64]bool

	// prevRunning is the set of instances that reported RUNNING on the
	// previous tick, used to honor the stop-before-re-tick contract
	// when a branch switches away mid-tick.
	prevRunning map[int64]bool
}

// Run ticks a node, marking it reached and recording its result. If the
// node was already reached this tick its recorded result is returned
// instead of ticking it again; one tick per instance per cycle is an
// invariant, not a suggestion.
func (t *Tick) Run(n Node, scope *bb.Scope) Result {
	id := n.ID()
	if t.reached[id] {
		return t.Results[id]
	}
	t.reached[id] = true
	r := n.Tick(t, scope)
	t.Results[id] = r
	return r
}

// StopIfRunning issues a Stop to a node that was RUNNING on the
// previous tick, before a sibling takes its place this tick. The
// end-of-tick sweep skips nodes stopped here.
func (t *Tick) StopIfRunning(n Node) {
	id := n.ID()
	if t.stopped[id] || !t.prevRunning[id] {
		return
	}
	t.stopped[id] = true
	n.Stop(t.Ctx)
}

// ForceStop issues a Stop regardless of the previous tick's state, for
// nodes that started RUNNING within this very tick and will not be
// reached again (a SimpleParallel secondary on its final opportunity).
func (t *Tick) ForceStop(n Node) {
	id := n.ID()
	if t.stopped[id] {
		return
	}
	t.stopped[id] = true
	n.Stop(t.Ctx)
}

// base carries the identity every node shares.
type base struct {
	id   int64
	name string
}

func (b *base) ID() int64 {
	return b.id
}

func (b *base) Name() string {
	return b.name
}

// resolveOperand evaluates a compiled operand against the scope chain.
// Constants were baked at compile time; blackboard references resolve
// here. The bool is false when a blackboard reference is undefined.
func resolveOperand(op *tree.Operand, scope *bb.Scope) (bb.Value, bool) {
	if op == nil {
		return bb.Value{}, false
	}
	if op.Const != nil {
		return *op.Const, true
	}
	v, _, ok := scope.Read(op.FromBlackboard)
	return v, ok
}
