package interp

import (
	"fmt"
	"log/slog"

	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/remote"
	"github.com/outland-robotics/missiond/internal/robot"
	"github.com/outland-robotics/missiond/internal/tree"
)

// Deps are the collaborators node implementations need. Only the kinds
// actually present in a tree require their collaborator; Build reports
// an error when a tree needs one that was not provided.
type Deps struct {
	Remote    *remote.Manager
	Verifier  lease.Verifier
	Commands  robot.CommandIssuer
	Router    robot.Router
	Questions QuestionBoard
	Logger    *slog.Logger
}

// Build constructs the runtime node graph for a compiled tree. Each
// call produces fresh execution state, which is how Restart resets
// every instance's remembered child index and attempt counters.
func Build(compiled *tree.Compiled, deps Deps) (Node, map[int64]Node, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	b := &builder{deps: deps, byID: make(map[int64]Node)}
	root, err := b.build(compiled.Root)
	if err != nil {
		return nil, nil, err
	}
	return root, b.byID, nil
}

type builder struct {
	deps Deps
	byID map[int64]Node
}

func (b *builder) build(inst *tree.Instance) (Node, error) {
	if inst == nil {
		return nil, fmt.Errorf("cannot build nil instance")
	}

	var n Node
	var err error
	switch inst.Kind {
	case tree.KindSequence:
		children, cerr := b.buildAll(inst.Children)
		if cerr != nil {
			return nil, cerr
		}
		n = &sequenceNode{base: baseOf(inst), children: children, alwaysRestart: inst.AlwaysRestart}

	case tree.KindSelector:
		children, cerr := b.buildAll(inst.Children)
		if cerr != nil {
			return nil, cerr
		}
		n = &selectorNode{base: baseOf(inst), children: children, alwaysRestart: inst.AlwaysRestart}

	case tree.KindSwitch:
		cases, cerr := b.buildAll(inst.Children)
		if cerr != nil {
			return nil, cerr
		}
		var def Node
		if inst.Default != nil {
			if def, err = b.build(inst.Default); err != nil {
				return nil, err
			}
		}
		n = &switchNode{
			base:          baseOf(inst),
			pivot:         inst.Pivot,
			caseValues:    inst.CaseValues,
			cases:         cases,
			defaultChild:  def,
			alwaysRestart: inst.AlwaysRestart,
		}

	case tree.KindRepeat:
		child, cerr := b.build(inst.Child)
		if cerr != nil {
			return nil, cerr
		}
		n = &repeatNode{
			base:                baseOf(inst),
			child:               child,
			maxStarts:           inst.MaxStarts,
			respectChildFailure: inst.RespectChildFailure,
		}

	case tree.KindRetry:
		child, cerr := b.build(inst.Child)
		if cerr != nil {
			return nil, cerr
		}
		n = &retryNode{base: baseOf(inst), child: child, maxAttempts: inst.MaxAttempts}

	case tree.KindSimpleParallel:
		primary, perr := b.build(inst.Primary)
		if perr != nil {
			return nil, perr
		}
		secondary, serr := b.build(inst.Secondary)
		if serr != nil {
			return nil, serr
		}
		n = &parallelNode{base: baseOf(inst), primary: primary, secondary: secondary}

	case tree.KindForDuration:
		child, cerr := b.build(inst.Child)
		if cerr != nil {
			return nil, cerr
		}
		var fallback Node
		if inst.Fallback != nil {
			if fallback, err = b.build(inst.Fallback); err != nil {
				return nil, err
			}
		}
		n = &forDurationNode{base: baseOf(inst), child: child, fallback: fallback, duration: inst.Duration}

	case tree.KindDefineBlackboard:
		child, cerr := b.build(inst.Child)
		if cerr != nil {
			return nil, cerr
		}
		n = &defineBlackboardNode{base: baseOf(inst), bindings: inst.Bindings, child: child}

	case tree.KindSetBlackboard:
		n = &setBlackboardNode{base: baseOf(inst), key: inst.Key, value: inst.Value}

	case tree.KindConstantResult:
		n = &constantResultNode{base: baseOf(inst), result: resultFromName(inst.Result)}

	case tree.KindSleep:
		n = &sleepNode{base: baseOf(inst), duration: inst.Duration, source: inst.Value}

	case tree.KindCondition:
		n = &conditionNode{
			base:   baseOf(inst),
			key:    inst.Key,
			lhs:    inst.Value,
			rhs:    inst.Rhs,
			op:     inst.Op,
			policy: inst.Policy,
		}

	case tree.KindPrompt:
		if b.deps.Questions == nil {
			return nil, fmt.Errorf("node %q: prompt requires a question board", inst.Name)
		}
		var child, def Node
		if inst.Child != nil {
			if child, err = b.build(inst.Child); err != nil {
				return nil, err
			}
		}
		if inst.Default != nil {
			if def, err = b.build(inst.Default); err != nil {
				return nil, err
			}
		}
		n = &promptNode{
			base:           baseOf(inst),
			text:           inst.Text,
			options:        inst.Options,
			severity:       inst.Severity,
			key:            inst.Key,
			timeout:        inst.Timeout,
			alwaysReprompt: inst.AlwaysReprompt,
			child:          child,
			defaultChild:   def,
			board:          b.deps.Questions,
		}

	case tree.KindRetainLease:
		if b.deps.Verifier == nil {
			return nil, fmt.Errorf("node %q: retain_lease requires a lease verifier", inst.Name)
		}
		n = &retainLeaseNode{
			base:      baseOf(inst),
			resources: inst.LeaseResources,
			verifier:  b.deps.Verifier,
			logger:    b.deps.Logger,
		}

	case tree.KindRemote:
		if b.deps.Remote == nil {
			return nil, fmt.Errorf("node %q: remote requires a delegation client", inst.Name)
		}
		n = &remoteNode{
			base:    baseOf(inst),
			manager: b.deps.Remote,
			inputs:  inst.Inputs,
			logger:  b.deps.Logger,
		}

	case tree.KindRobotCommand:
		if b.deps.Commands == nil {
			return nil, fmt.Errorf("node %q: robot_command requires a command issuer", inst.Name)
		}
		n = &robotCommandNode{
			base:   baseOf(inst),
			issuer: b.deps.Commands,
			action: inst.Action,
			logger: b.deps.Logger,
		}

	case tree.KindNavigateTo:
		if b.deps.Router == nil {
			return nil, fmt.Errorf("node %q: navigate_to requires a router", inst.Name)
		}
		n = &navigateToNode{
			base:        baseOf(inst),
			router:      b.deps.Router,
			destination: inst.Destination,
			logger:      b.deps.Logger,
		}

	default:
		// Compile validates kinds; this path guards against schemas
		// newer than this interpreter.
		return nil, fmt.Errorf("node %q: unrecognized kind %q", inst.Name, inst.Kind)
	}

	b.byID[inst.ID] = n
	return n, nil
}

func (b *builder) buildAll(insts []*tree.Instance) ([]Node, error) {
	out := make([]Node, 0, len(insts))
	for _, inst := range insts {
		n, err := b.build(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func baseOf(inst *tree.Instance) base {
	return base{id: inst.ID, name: inst.Name}
}
