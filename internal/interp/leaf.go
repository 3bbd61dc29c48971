package interp

import (
	"context"
	"log/slog"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/remote"
	"github.com/outland-robotics/missiond/internal/robot"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// setBlackboardNode writes a value into the blackboard. The write goes
// to the nearest enclosing scope defining the key; an undefined key is
// defined in the current scope, matching operator expectations for
// top-level mission variables.
type setBlackboardNode struct {
	base
	key   string
	value *tree.Operand
}

func (n *setBlackboardNode) Tick(t *Tick, scope *bb.Scope) Result {
	v, ok := resolveOperand(n.value, scope)
	if !ok {
		return Error
	}
	if err := scope.Write(n.key, v, t.Number); err != nil {
		scope.Define(n.key, v, t.Number)
	}
	return Success
}

func (n *setBlackboardNode) Stop(ctx context.Context) {}

// constantResultNode returns a fixed result every tick.
type constantResultNode struct {
	base
	result Result
}

func (n *constantResultNode) Tick(t *Tick, scope *bb.Scope) Result {
	return n.result
}

func (n *constantResultNode) Stop(ctx context.Context) {}

// sleepNode reports RUNNING until the configured duration has elapsed
// on the mission clock since its first tick of the activation. The
// duration may also come from a blackboard value (seconds), read once
// at activation.
type sleepNode struct {
	base
	duration time.Duration
	source   *tree.Operand

	anchor  *time.Time
	elapsed time.Duration
}

func (n *sleepNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.anchor == nil {
		now := t.Now
		n.anchor = &now
		n.elapsed = n.duration
		if n.source != nil {
			v, ok := resolveOperand(n.source, scope)
			if !ok {
				n.anchor = nil
				return Error
			}
			n.elapsed = time.Duration(v.AsFloat() * float64(time.Second))
		}
	}
	if t.Now.Sub(*n.anchor) >= n.elapsed {
		n.anchor = nil
		return Success
	}
	return Running
}

func (n *sleepNode) Stop(ctx context.Context) {
	n.anchor = nil
}

// conditionNode compares a blackboard value against a right-hand value.
// Its read policy decides how staleness, measured against the tick the
// activation started on, maps onto a result: RUN_UNTIL_FRESH keeps the
// node RUNNING until a newer write lands, FAIL turns a stale read into
// FAILURE, READ_ANYWAY ignores age.
type conditionNode struct {
	base
	key    string
	lhs    *tree.Operand
	rhs    *tree.Operand
	op     tree.CompareOp
	policy bb.ReadPolicy

	startTick int64
	active    bool
}

func (n *conditionNode) Tick(t *Tick, scope *bb.Scope) Result {
	if !n.active {
		n.active = true
		n.startTick = t.Number
	}

	var left bb.Value
	if n.key != "" {
		v, staleness := scope.ReadWithPolicy(n.key, n.startTick)
		switch staleness {
		case bb.Missing:
			n.reset()
			return Error
		case bb.Stale:
			switch n.policy {
			case bb.RunUntilFresh:
				return Running
			case bb.FailOnStale:
				n.reset()
				return Failure
			}
		}
		left = v
	} else {
		v, ok := resolveOperand(n.lhs, scope)
		if !ok {
			n.reset()
			return Error
		}
		left = v
	}

	right, ok := resolveOperand(n.rhs, scope)
	if !ok {
		n.reset()
		return Error
	}

	n.reset()
	if compareValues(left, right, n.op) {
		return Success
	}
	return Failure
}

func (n *conditionNode) Stop(ctx context.Context) {
	n.reset()
}

func (n *conditionNode) reset() {
	n.active = false
	n.startTick = 0
}

// compareValues applies op across the value union. Ordering operators
// use numeric widening for numbers and lexicographic order for strings;
// anything else only supports equality.
func compareValues(a, b bb.Value, op tree.CompareOp) bool {
	switch op {
	case tree.OpEqual:
		return a.Equal(b)
	case tree.OpNotEqual:
		return !a.Equal(b)
	}
	if a.Kind == bb.KindString && b.Kind == bb.KindString {
		switch op {
		case tree.OpLessThan:
			return a.Str < b.Str
		case tree.OpLessEqual:
			return a.Str <= b.Str
		case tree.OpGreaterThan:
			return a.Str > b.Str
		case tree.OpGreaterEqual:
			return a.Str >= b.Str
		}
		return false
	}
	af, bf := a.AsFloat(), b.AsFloat()
	switch op {
	case tree.OpLessThan:
		return af < bf
	case tree.OpLessEqual:
		return af <= bf
	case tree.OpGreaterThan:
		return af > bf
	case tree.OpGreaterEqual:
		return af >= bf
	default:
		return false
	}
}

// retainLeaseNode re-validates the mission's leases through the
// external lease owner every tick. It reports RUNNING while every
// declared resource is confirmed retained, FAILURE the moment any is
// rejected, and ERROR when the owner is unreachable. Long-running
// missions park one of these under a SimpleParallel secondary to guard
// exclusive control of physical resources.
type retainLeaseNode struct {
	base
	resources []string
	verifier  lease.Verifier
	logger    *slog.Logger
}

func (n *retainLeaseNode) Tick(t *Tick, scope *bb.Scope) Result {
	for _, resource := range n.resources {
		l, ok := t.Leases.Get(resource)
		if !ok {
			n.logger.WarnContext(t.Ctx, "retain_lease missing resource lease",
				"node", n.name,
				"resource", resource,
			)
			return Failure
		}
		retained, err := n.verifier.VerifyLease(t.Ctx, l)
		if err != nil {
			n.logger.ErrorContext(t.Ctx, "lease verification failed",
				"node", n.name,
				"resource", resource,
				"error", err,
			)
			return Error
		}
		if !retained {
			return Failure
		}
	}
	return Running
}

func (n *retainLeaseNode) Stop(ctx context.Context) {}

// remoteNode delegates its tick logic to an externally hosted
// implementation through the session manager. The session was
// established at mission load; Stop is forwarded out of process.
type remoteNode struct {
	base
	manager *remote.Manager
	inputs  []tree.InputDecl
	logger  *slog.Logger
}

func (n *remoteNode) Tick(t *Tick, scope *bb.Scope) Result {
	inputs := make(map[string]bb.Value, len(n.inputs))
	for _, in := range n.inputs {
		v, _, ok := scope.Read(in.Key)
		if !ok {
			n.logger.ErrorContext(t.Ctx, "remote node input missing from blackboard",
				"node", n.name,
				"input", in.Name,
				"key", in.Key,
			)
			return Error
		}
		inputs[in.Name] = v
	}

	status, err := n.manager.Tick(t.Ctx, n.id, t.Leases, inputs)
	if err != nil {
		n.logger.ErrorContext(t.Ctx, "remote node tick failed",
			"node", n.name,
			"error", err,
		)
		return Error
	}
	switch status {
	case remote.TickSuccess:
		return Success
	case remote.TickFailure:
		return Failure
	default:
		return Running
	}
}

func (n *remoteNode) Stop(ctx context.Context) {
	if err := n.manager.Stop(ctx, n.id); err != nil {
		n.logger.WarnContext(ctx, "remote node stop failed",
			"node", n.name,
			"error", err,
		)
	}
}

// robotCommandNode issues an action through the command collaborator on
// activation and polls its feedback each tick until terminal.
type robotCommandNode struct {
	base
	issuer robot.CommandIssuer
	action map[string]any
	logger *slog.Logger

	commandID string
}

func (n *robotCommandNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.commandID == "" {
		id, err := n.issuer.IssueCommand(t.Ctx, n.action)
		if err != nil {
			n.logger.ErrorContext(t.Ctx, "robot command issue failed",
				"node", n.name,
				"error", err,
			)
			return Error
		}
		n.commandID = id
	}

	status, err := n.issuer.CommandFeedback(t.Ctx, n.commandID)
	if err != nil {
		n.commandID = ""
		return Error
	}
	switch status {
	case robot.CommandSucceeded:
		n.commandID = ""
		return Success
	case robot.CommandFailed, robot.CommandOverridden, robot.CommandTimedOut:
		n.commandID = ""
		return Failure
	default:
		return Running
	}
}

func (n *robotCommandNode) Stop(ctx context.Context) {
	n.commandID = ""
}

// navigateToNode asks the routing collaborator for a destination and
// reads its feedback each tick; blocked routes stay RUNNING because the
// router retries around obstructions on its own.
type navigateToNode struct {
	base
	router      robot.Router
	destination string
	logger      *slog.Logger

	routeID string
}

func (n *navigateToNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.routeID == "" {
		id, err := n.router.NavigateTo(t.Ctx, n.destination)
		if err != nil {
			n.logger.ErrorContext(t.Ctx, "navigation request failed",
				"node", n.name,
				"destination", n.destination,
				"error", err,
			)
			return Error
		}
		n.routeID = id
	}

	status, err := n.router.RouteFeedback(t.Ctx, n.routeID)
	if err != nil {
		n.routeID = ""
		return Error
	}
	switch status {
	case robot.RouteSucceeded:
		n.routeID = ""
		return Success
	case robot.RouteFailed:
		n.routeID = ""
		return Failure
	default:
		return Running
	}
}

func (n *navigateToNode) Stop(ctx context.Context) {
	n.routeID = ""
}

// promptNode registers an operator question on activation and reports
// RUNNING until it is answered. The accepted code is published to the
// blackboard and the optional child runs with it; on timeout the
// question is abandoned and the default child runs instead. Unless
// always_reprompt is set, an answer is remembered across activations.
type promptNode struct {
	base
	text           string
	options        []tree.PromptOption
	severity       string
	key            string
	timeout        time.Duration
	alwaysReprompt bool
	child          Node
	defaultChild   Node
	board          QuestionBoard

	questionID   types.ID
	askedAt      *time.Time
	answered     bool
	acceptedCode int64
	timedOut     bool
}

func (n *promptNode) Tick(t *Tick, scope *bb.Scope) Result {
	if n.answered && !n.alwaysReprompt {
		return n.proceed(t, scope)
	}

	if n.questionID.IsZero() && !n.timedOut {
		n.questionID = n.board.Ask(n.id, n.text, n.options, n.severity)
		now := t.Now
		n.askedAt = &now
	}

	if !n.timedOut {
		code, state := n.board.Poll(n.questionID)
		switch state {
		case QuestionAnswered:
			n.answered = true
			n.acceptedCode = code
			n.board.Retire(n.questionID)
			n.questionID = ""
			return n.proceed(t, scope)
		case QuestionAbandoned:
			n.timedOut = true
		default:
			if n.timeout > 0 && t.Now.Sub(*n.askedAt) >= n.timeout {
				n.board.Abandon(n.questionID)
				n.questionID = ""
				n.timedOut = true
			} else {
				return Running
			}
		}
	}

	// Timed out: tree-defined default behavior.
	if n.defaultChild == nil {
		n.resetActivation()
		return Failure
	}
	r := t.Run(n.defaultChild, scope)
	if r != Running {
		n.resetActivation()
	}
	return r
}

// proceed publishes the accepted code and runs the child, if any.
func (n *promptNode) proceed(t *Tick, scope *bb.Scope) Result {
	key := n.key
	if key == "" {
		key = "answer"
	}
	if err := scope.Write(key, bb.IntValue(n.acceptedCode), t.Number); err != nil {
		scope.Define(key, bb.IntValue(n.acceptedCode), t.Number)
	}
	if n.child == nil {
		n.resetActivation()
		return Success
	}
	r := t.Run(n.child, scope)
	if r != Running {
		n.resetActivation()
	}
	return r
}

func (n *promptNode) Stop(ctx context.Context) {
	if !n.questionID.IsZero() {
		n.board.Retire(n.questionID)
	}
	n.resetActivation()
	if n.alwaysReprompt {
		n.answered = false
	}
}

// resetActivation clears per-activation state. The remembered answer
// survives unless always_reprompt asks otherwise.
func (n *promptNode) resetActivation() {
	n.questionID = ""
	n.askedAt = nil
	n.timedOut = false
	if n.alwaysReprompt {
		n.answered = false
	}
}
