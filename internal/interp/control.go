package interp

import (
	"context"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/tree"
)

// sequenceNode ticks children in order, stopping on the first
// non-SUCCESS result. Exhausting the list is SUCCESS.
type sequenceNode struct {
	base
	children      []Node
	alwaysRestart bool

	active int
	resume bool
}

func (n *sequenceNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.alwaysRestart || !n.resume {
		n.active = 0
	}
	for n.active < len(n.children) {
		r := t.Run(n.children[n.active], scope)
		if r == Running {
			n.resume = true
			return Running
		}
		if r != Success {
			n.reset()
			return r
		}
		n.active++
	}
	n.reset()
	return Success
}

func (n *sequenceNode) Stop(ctx context.Context) {
	n.reset()
}

func (n *sequenceNode) reset() {
	n.active = 0
	n.resume = false
}

// selectorNode ticks children in order, stopping on the first
// non-FAILURE result. Exhausting the list is FAILURE. ERROR is not
// caught: it short-circuits like SUCCESS and RUNNING do.
type selectorNode struct {
	base
	children      []Node
	alwaysRestart bool

	active int
	resume bool
}

func (n *selectorNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.alwaysRestart || !n.resume {
		n.active = 0
	}
	for n.active < len(n.children) {
		r := t.Run(n.children[n.active], scope)
		if r == Running {
			n.resume = true
			return Running
		}
		if r != Failure {
			n.reset()
			return r
		}
		n.active++
	}
	n.reset()
	return Failure
}

func (n *selectorNode) Stop(ctx context.Context) {
	n.reset()
}

func (n *selectorNode) reset() {
	n.active = 0
	n.resume = false
}

// switchNode routes to the case child matching the pivot value. The
// pivot is evaluated at first tick, or every tick when always_restart
// is set; when re-evaluation selects a different child, the previously
// active child is stopped before the new one's first tick.
type switchNode struct {
	base
	pivot         *tree.Operand
	caseValues    []int64
	cases         []Node
	defaultChild  Node
	alwaysRestart bool

	active    Node
	evaluated bool
}

func (n *switchNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.alwaysRestart || !n.evaluated {
		next, ok := n.selectChild(scope)
		if !ok {
			n.resetSwitch()
			return Error
		}
		if n.evaluated && n.active != nil && next != n.active {
			t.StopIfRunning(n.active)
		}
		n.active = next
		n.evaluated = true
	}
	if n.active == nil {
		// No matching case and no default.
		n.resetSwitch()
		return Failure
	}
	r := t.Run(n.active, scope)
	if r != Running {
		n.resetSwitch()
	}
	return r
}

func (n *switchNode) selectChild(scope *bb.Scope) (Node, bool) {
	v, ok := resolveOperand(n.pivot, scope)
	if !ok {
		return nil, false
	}
	pivot := v.AsInt()
	for i, cv := range n.caseValues {
		if cv == pivot {
			return n.cases[i], true
		}
	}
	return n.defaultChild, true
}

func (n *switchNode) Stop(ctx context.Context) {
	n.resetSwitch()
}

func (n *switchNode) resetSwitch() {
	n.active = nil
	n.evaluated = false
}

// repeatNode runs its child up to max_starts complete runs. Child
// failures abort the repeat only when respect_child_failure is set;
// otherwise the next start proceeds.
type repeatNode struct {
	base
	child               Node
	maxStarts           int
	respectChildFailure bool

	starts int
}

func (n *repeatNode) Tick(t *Tick, scope *bb.Scope) Result {
	r := t.Run(n.child, scope)
	if r == Running {
		return Running
	}
	if r == Error {
		n.starts = 0
		return Error
	}
	if r == Failure && n.respectChildFailure {
		n.starts = 0
		return Failure
	}
	n.starts++
	if n.starts >= n.maxStarts {
		n.starts = 0
		return Success
	}
	return Running
}

func (n *repeatNode) Stop(ctx context.Context) {
	n.starts = 0
}

// retryNode re-invokes its child on FAILURE, up to max_attempts,
// returning SUCCESS on the first child success.
type retryNode struct {
	base
	child       Node
	maxAttempts int

	attempts int
}

func (n *retryNode) Tick(t *Tick, scope *bb.Scope) Result {
	r := t.Run(n.child, scope)
	switch r {
	case Running:
		return Running
	case Success:
		n.attempts = 0
		return Success
	case Error:
		n.attempts = 0
		return Error
	default:
		n.attempts++
		if n.attempts >= n.maxAttempts {
			n.attempts = 0
			return Failure
		}
		return Running
	}
}

func (n *retryNode) Stop(ctx context.Context) {
	n.attempts = 0
}

// parallelNode ticks primary and, while primary runs, secondary within
// the same external tick. The overall result is primary's terminal
// result; a still-running secondary gets exactly one final tick
// opportunity once primary finishes, then a Stop.
type parallelNode struct {
	base
	primary   Node
	secondary Node

	secondaryDone bool
}

func (n *parallelNode) Tick(t *Tick, scope *bb.Scope) Result {
	r := t.Run(n.primary, scope)
	if r == Running {
		if !n.secondaryDone {
			rs := t.Run(n.secondary, scope)
			if rs != Running {
				n.secondaryDone = true
			}
		}
		return Running
	}

	// Primary finished: final tick opportunity for the secondary.
	if !n.secondaryDone {
		rs := t.Run(n.secondary, scope)
		if rs == Running {
			t.ForceStop(n.secondary)
		}
	}
	n.secondaryDone = false
	return r
}

func (n *parallelNode) Stop(ctx context.Context) {
	n.secondaryDone = false
}

// forDurationNode gives its child a time budget anchored at the child's
// first start; on expiry the child is stopped and the optional fallback
// runs instead, its result becoming this node's result.
type forDurationNode struct {
	base
	child    Node
	fallback Node
	duration time.Duration

	anchor  *time.Time
	expired bool
}

func (n *forDurationNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.anchor == nil {
		now := t.Now
		n.anchor = &now
	}

	if !n.expired {
		if t.Now.Sub(*n.anchor) >= n.duration {
			n.expired = true
			t.StopIfRunning(n.child)
		} else {
			r := t.Run(n.child, scope)
			if r != Running {
				n.resetTimer()
			}
			return r
		}
	}

	if n.fallback == nil {
		n.resetTimer()
		return Failure
	}
	r := t.Run(n.fallback, scope)
	if r != Running {
		n.resetTimer()
	}
	return r
}

func (n *forDurationNode) Stop(ctx context.Context) {
	n.resetTimer()
}

func (n *forDurationNode) resetTimer() {
	n.anchor = nil
	n.expired = false
}

// defineBlackboardNode pushes a child scope with its declared bindings
// for the duration of one child activation and pops it when the child
// completes, discarding every binding made inside.
type defineBlackboardNode struct {
	base
	bindings []tree.ResolvedBinding
	child    Node

	scope *bb.Scope
}

func (n *defineBlackboardNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.scope == nil {
		n.scope = bb.NewScope(scope)
		for _, binding := range n.bindings {
			v, ok := resolveOperand(&binding.Operand, scope)
			if !ok {
				n.scope = nil
				return Error
			}
			n.scope.Define(binding.Name, v, t.Number)
		}
	}
	r := t.Run(n.child, n.scope)
	if r != Running {
		n.scope = nil
	}
	return r
}

func (n *defineBlackboardNode) Stop(ctx context.Context) {
	n.scope = nil
}
