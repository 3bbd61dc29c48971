package tree

import (
	"fmt"
	"sort"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
)

// Operand is a compile-time-resolved ValueSource. Constants and
// parameter references are baked into a concrete value; blackboard
// references stay late-bound and are resolved against the scope chain
// on every read.
type Operand struct {
	Const          *bb.Value `json:"const,omitempty"`
	FromBlackboard string    `json:"from_blackboard,omitempty"`
}

// ResolvedBinding is a name bound to a resolved operand, used for
// DefineBlackboard initial bindings.
type ResolvedBinding struct {
	Name    string  `json:"name"`
	Operand Operand `json:"operand"`
}

// Instance is one compiled occurrence of a NodeSpec in the expanded
// tree. Every reference expansion yields fresh instances with new IDs,
// so shared subtrees never alias execution state. Per-kind knobs are
// fully resolved: parameter references and field overrides have been
// baked in.
//
// The interpreter owns per-instance execution state; an Instance itself
// is immutable after Compile returns.
type Instance struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	UserData map[string]any `json:"user_data,omitempty"`

	AlwaysRestart       bool          `json:"always_restart,omitempty"`
	MaxStarts           int           `json:"max_starts,omitempty"`
	RespectChildFailure bool          `json:"respect_child_failure,omitempty"`
	MaxAttempts         int           `json:"max_attempts,omitempty"`
	Duration            time.Duration `json:"duration,omitempty"`
	Timeout             time.Duration `json:"timeout,omitempty"`
	Result              string        `json:"result,omitempty"`

	Key    string        `json:"key,omitempty"`
	Value  *Operand      `json:"value,omitempty"`
	Rhs    *Operand      `json:"rhs,omitempty"`
	Op     CompareOp     `json:"op,omitempty"`
	Policy bb.ReadPolicy `json:"policy,omitempty"`

	Pivot      *Operand `json:"pivot,omitempty"`
	CaseValues []int64  `json:"case_values,omitempty"`

	Bindings []ResolvedBinding `json:"bindings,omitempty"`

	Text           string         `json:"text,omitempty"`
	Options        []PromptOption `json:"options,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	AlwaysReprompt bool           `json:"always_reprompt,omitempty"`

	LeaseResources []string `json:"lease_resources,omitempty"`

	Service string      `json:"service,omitempty"`
	Inputs  []InputDecl `json:"inputs,omitempty"`

	Action      map[string]any `json:"action,omitempty"`
	Destination string         `json:"destination,omitempty"`

	// Structural links into the arena.
	Children  []*Instance `json:"-"`
	Child     *Instance   `json:"-"`
	Fallback  *Instance   `json:"-"`
	Primary   *Instance   `json:"-"`
	Secondary *Instance   `json:"-"`
	Default   *Instance   `json:"-"`
}

// AllChildren returns every child instance in structural order. The
// order is deterministic and matches tick visitation order within the
// parent.
func (in *Instance) AllChildren() []*Instance {
	var out []*Instance
	out = append(out, in.Children...)
	if in.Primary != nil {
		out = append(out, in.Primary)
	}
	if in.Secondary != nil {
		out = append(out, in.Secondary)
	}
	if in.Child != nil {
		out = append(out, in.Child)
	}
	if in.Default != nil {
		out = append(out, in.Default)
	}
	if in.Fallback != nil {
		out = append(out, in.Fallback)
	}
	return out
}

// Compiled is the output of a successful Compile: the expanded instance
// arena, the introspection tree, and the aggregated lease requirements.
type Compiled struct {
	Root  *Instance
	Arena []*Instance
	Info  *NodeInfo

	// LeaseResources is the union of every node's declared lease needs,
	// sorted. Play/Restart requests must cover all of them.
	LeaseResources []string

	// RemoteInstances lists every delegated-kind instance; sessions are
	// established for each of these at load time.
	RemoteInstances []*Instance
}

// Compile expands the submitted root spec against the reference table
// into a fresh instance arena. It returns either a fully compiled tree
// or a list of FailedNode records; it never installs a partial tree.
func Compile(root *NodeSpec, refs map[string]*NodeSpec) (*Compiled, []FailedNode) {
	if root == nil {
		return nil, []FailedNode{{NodeName: "<root>", Error: "mission tree has no root node"}}
	}

	c := &compiler{
		refs:   refs,
		nextID: 1,
		leases: make(map[string]struct{}),
	}

	if failed := c.checkReferenceGraph(root); len(failed) > 0 {
		return nil, failed
	}

	rootInst := c.expand(root, map[string]bb.Value{})
	if len(c.failed) > 0 {
		return nil, c.failed
	}

	compiled := &Compiled{
		Root:            rootInst,
		Arena:           c.arena,
		Info:            buildInfo(rootInst),
		RemoteInstances: c.remotes,
	}
	for name := range c.leases {
		compiled.LeaseResources = append(compiled.LeaseResources, name)
	}
	sort.Strings(compiled.LeaseResources)
	return compiled, nil
}

type compiler struct {
	refs    map[string]*NodeSpec
	nextID  int64
	failed  []FailedNode
	arena   []*Instance
	remotes []*Instance
	leases  map[string]struct{}
}

func (c *compiler) fail(spec *NodeSpec, format string, args ...any) {
	name := spec.Name
	if name == "" {
		name = "<unnamed>"
	}
	c.failed = append(c.failed, FailedNode{
		NodeName: name,
		Error:    fmt.Sprintf(format, args...),
		Kind:     spec.Kind,
	})
}

// checkReferenceGraph verifies that every reference resolves and that
// following references never recurses into itself. Detection runs over
// the reference graph, not the expanded tree, so a cycle is caught even
// when expansion would diverge.
func (c *compiler) checkReferenceGraph(root *NodeSpec) []FailedNode {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var failed []FailedNode

	var visitSpec func(spec *NodeSpec)
	var visitRef func(id string, from *NodeSpec)

	visitSpec = func(spec *NodeSpec) {
		if spec == nil {
			return
		}
		if spec.isReference() {
			visitRef(spec.Reference, spec)
			return
		}
		for _, child := range spec.structuralChildren() {
			visitSpec(child)
		}
	}

	visitRef = func(id string, from *NodeSpec) {
		switch color[id] {
		case gray:
			failed = append(failed, FailedNode{
				NodeName: from.Name,
				Error:    fmt.Sprintf("reference cycle through %q", id),
			})
			return
		case black:
			return
		}
		target, ok := c.refs[id]
		if !ok {
			failed = append(failed, FailedNode{
				NodeName: from.Name,
				Error:    fmt.Sprintf("unresolved node reference %q", id),
			})
			return
		}
		color[id] = gray
		visitSpec(target)
		color[id] = black
	}

	visitSpec(root)
	return failed
}

// resolve bakes a ValueSource into an Operand using the parameter
// environment visible at this tree position. Parameter references that
// miss the environment are compile errors.
func (c *compiler) resolve(spec *NodeSpec, src ValueSource, env map[string]bb.Value) (Operand, bool) {
	if src.setCount() != 1 {
		c.fail(spec, "value must set exactly one of const, from_blackboard, from_parameter")
		return Operand{}, false
	}
	switch {
	case src.Const != nil:
		if !src.Const.Kind.IsValid() {
			c.fail(spec, "constant has invalid kind %q", src.Const.Kind)
			return Operand{}, false
		}
		v := *src.Const
		return Operand{Const: &v}, true
	case src.FromParameter != "":
		v, ok := env[src.FromParameter]
		if !ok {
			c.fail(spec, "unresolved parameter %q", src.FromParameter)
			return Operand{}, false
		}
		return Operand{Const: &v}, true
	default:
		return Operand{FromBlackboard: src.FromBlackboard}, true
	}
}

// resolveConst is resolve restricted to sources that must be known at
// compile time (parameter bindings, field overrides).
func (c *compiler) resolveConst(spec *NodeSpec, src ValueSource, env map[string]bb.Value) (bb.Value, bool) {
	op, ok := c.resolve(spec, src, env)
	if !ok {
		return bb.Value{}, false
	}
	if op.Const == nil {
		c.fail(spec, "value must be a constant or parameter, not a blackboard reference")
		return bb.Value{}, false
	}
	return *op.Const, true
}

// childEnv extends env with this node's own parameter bindings, if any.
// Bindings resolve against the enclosing environment, so a subtree call
// can forward its caller's parameters downward.
func (c *compiler) childEnv(spec *NodeSpec, env map[string]bb.Value) map[string]bb.Value {
	if len(spec.ParameterValues) == 0 {
		return env
	}
	next := make(map[string]bb.Value, len(env)+len(spec.ParameterValues))
	for k, v := range env {
		next[k] = v
	}
	for _, pb := range spec.ParameterValues {
		v, ok := c.resolveConst(spec, pb.Value, env)
		if !ok {
			continue
		}
		next[pb.Name] = v
	}
	return next
}

// expand compiles one spec occurrence into a fresh instance subtree.
func (c *compiler) expand(spec *NodeSpec, env map[string]bb.Value) *Instance {
	if spec == nil {
		return nil
	}

	if spec.isReference() {
		if spec.Kind != "" {
			c.fail(spec, "node sets both an implementation kind and a reference")
			return nil
		}
		target := c.refs[spec.Reference]
		if target == nil {
			// Already recorded by checkReferenceGraph; keep compiling to
			// gather further errors.
			return nil
		}
		callEnv := c.bindReferenceParams(spec, target, env)
		inst := c.expand(target, callEnv)
		if inst == nil {
			return nil
		}
		if spec.Name != "" {
			inst.Name = spec.Name
		}
		c.applyOverrides(spec, inst, env)
		return inst
	}

	if !spec.Kind.IsValid() {
		c.fail(spec, "unrecognized node kind %q", spec.Kind)
		return nil
	}

	inst := &Instance{
		ID:       c.nextID,
		Name:     spec.Name,
		Kind:     spec.Kind,
		UserData: spec.UserData,

		AlwaysRestart:       spec.AlwaysRestart,
		MaxStarts:           spec.MaxStarts,
		RespectChildFailure: spec.RespectChildFailure,
		MaxAttempts:         spec.MaxAttempts,
		Duration:            spec.Duration.Std(),
		Timeout:             spec.Timeout.Std(),
		Result:              spec.Result,
		Key:                 spec.Key,
		Op:                  spec.Op,
		Policy:              spec.Policy,
		Text:                spec.Text,
		Options:             spec.Options,
		Severity:            spec.Severity,
		AlwaysReprompt:      spec.AlwaysReprompt,
		LeaseResources:      spec.LeaseResources,
		Service:             spec.Service,
		Inputs:              spec.Inputs,
		Action:              spec.Action,
		Destination:         spec.Destination,
	}
	c.nextID++
	c.arena = append(c.arena, inst)

	env = c.childEnv(spec, env)

	if spec.Value != nil {
		if op, ok := c.resolve(spec, *spec.Value, env); ok {
			inst.Value = &op
		}
	}
	if spec.Rhs != nil {
		if op, ok := c.resolve(spec, *spec.Rhs, env); ok {
			inst.Rhs = &op
		}
	}
	if spec.Pivot != nil {
		if op, ok := c.resolve(spec, *spec.Pivot, env); ok {
			inst.Pivot = &op
		}
	}
	for _, binding := range spec.Bindings {
		op, ok := c.resolve(spec, binding.Value, env)
		if !ok {
			continue
		}
		inst.Bindings = append(inst.Bindings, ResolvedBinding{Name: binding.Name, Operand: op})
	}

	c.expandChildren(spec, inst, env)
	c.validateInstance(spec, inst)

	for _, name := range inst.LeaseResources {
		c.leases[name] = struct{}{}
	}
	if inst.Kind == KindRemote {
		c.remotes = append(c.remotes, inst)
	}
	return inst
}

// bindReferenceParams builds the environment a referenced subtree is
// expanded under: every parameter the target declares must be bound by
// the occurrence's parameter_values.
func (c *compiler) bindReferenceParams(occ, target *NodeSpec, env map[string]bb.Value) map[string]bb.Value {
	supplied := make(map[string]bb.Value, len(occ.ParameterValues))
	for _, pb := range occ.ParameterValues {
		v, ok := c.resolveConst(occ, pb.Value, env)
		if !ok {
			continue
		}
		supplied[pb.Name] = v
	}

	callEnv := make(map[string]bb.Value, len(target.Parameters))
	for _, decl := range target.Parameters {
		v, ok := supplied[decl.Name]
		if !ok {
			c.fail(occ, "reference %q does not bind declared parameter %q", occ.Reference, decl.Name)
			continue
		}
		if decl.Kind.IsValid() && v.Kind != decl.Kind {
			c.fail(occ, "parameter %q expects kind %s, got %s", decl.Name, decl.Kind, v.Kind)
			continue
		}
		callEnv[decl.Name] = v
	}
	return callEnv
}

// applyOverrides rebinds scalar knobs on an expanded reference root.
func (c *compiler) applyOverrides(occ *NodeSpec, inst *Instance, env map[string]bb.Value) {
	for _, ov := range occ.Overrides {
		v, ok := c.resolveConst(occ, ov.Value, env)
		if !ok {
			continue
		}
		switch ov.Field {
		case "duration":
			inst.Duration = valueToDuration(v)
		case "timeout":
			inst.Timeout = valueToDuration(v)
		case "max_attempts":
			inst.MaxAttempts = int(v.AsInt())
		case "max_starts":
			inst.MaxStarts = int(v.AsInt())
		default:
			c.fail(occ, "override targets unknown field %q", ov.Field)
		}
	}
}

// valueToDuration interprets a numeric value as seconds.
func valueToDuration(v bb.Value) time.Duration {
	return time.Duration(v.AsFloat() * float64(time.Second))
}

func (c *compiler) expandChildren(spec *NodeSpec, inst *Instance, env map[string]bb.Value) {
	for _, child := range spec.Children {
		if ci := c.expand(child, env); ci != nil {
			inst.Children = append(inst.Children, ci)
		}
	}
	if spec.Primary != nil {
		inst.Primary = c.expand(spec.Primary, env)
	}
	if spec.Secondary != nil {
		inst.Secondary = c.expand(spec.Secondary, env)
	}
	for _, cs := range spec.Cases {
		ci := c.expand(cs.Child, env)
		if ci != nil {
			inst.Children = append(inst.Children, ci)
			inst.CaseValues = append(inst.CaseValues, cs.Value)
		}
	}
	if spec.Default != nil {
		inst.Default = c.expand(spec.Default, env)
	}
	if spec.Fallback != nil {
		inst.Fallback = c.expand(spec.Fallback, env)
	}
	if spec.DefaultChild != nil {
		inst.Default = c.expand(spec.DefaultChild, env)
	}

	// Single-child kinds take their child from the Children list.
	switch spec.Kind {
	case KindRepeat, KindRetry, KindForDuration, KindDefineBlackboard, KindPrompt:
		if len(inst.Children) > 0 {
			inst.Child = inst.Children[0]
			inst.Children = nil
		}
	}
}

// validateInstance enforces per-kind structural rules. Degenerate
// shapes (an empty Sequence, a Switch without cases) are compile
// errors, not silently tolerated runtime surprises.
func (c *compiler) validateInstance(spec *NodeSpec, inst *Instance) {
	switch inst.Kind {
	case KindSequence, KindSelector:
		if len(inst.Children) == 0 {
			c.fail(spec, "%s requires at least one child", inst.Kind)
		}
	case KindSwitch:
		if inst.Pivot == nil {
			c.fail(spec, "switch requires a pivot value")
		}
		if len(inst.CaseValues) == 0 {
			c.fail(spec, "switch requires at least one case")
		}
	case KindRepeat:
		if inst.Child == nil {
			c.fail(spec, "repeat requires a child")
		}
		if inst.MaxStarts < 1 {
			c.fail(spec, "repeat requires max_starts >= 1")
		}
	case KindRetry:
		if inst.Child == nil {
			c.fail(spec, "retry requires a child")
		}
		if inst.MaxAttempts < 1 {
			c.fail(spec, "retry requires max_attempts >= 1")
		}
	case KindSimpleParallel:
		if inst.Primary == nil || inst.Secondary == nil {
			c.fail(spec, "simple_parallel requires primary and secondary children")
		}
	case KindForDuration:
		if inst.Child == nil {
			c.fail(spec, "for_duration requires a child")
		}
		if inst.Duration <= 0 {
			c.fail(spec, "for_duration requires a positive duration")
		}
	case KindDefineBlackboard:
		if inst.Child == nil {
			c.fail(spec, "define_blackboard requires a child")
		}
		if len(inst.Bindings) == 0 {
			c.fail(spec, "define_blackboard requires at least one binding")
		}
	case KindSetBlackboard:
		if inst.Key == "" || inst.Value == nil {
			c.fail(spec, "set_blackboard requires key and value")
		}
	case KindConstantResult:
		switch inst.Result {
		case "success", "failure", "error", "running":
		default:
			c.fail(spec, "constant_result requires result in {success, failure, error, running}, got %q", inst.Result)
		}
	case KindSleep:
		if inst.Duration < 0 {
			c.fail(spec, "sleep duration must not be negative")
		}
	case KindCondition:
		if inst.Key == "" && inst.Value == nil {
			c.fail(spec, "condition requires a left-hand value")
		}
		if inst.Rhs == nil {
			c.fail(spec, "condition requires a right-hand value")
		}
		if inst.Op == "" {
			inst.Op = OpEqual
		} else if !inst.Op.IsValid() {
			c.fail(spec, "condition has unknown operator %q", inst.Op)
		}
		if inst.Policy == "" {
			inst.Policy = bb.ReadAnyway
		} else if !inst.Policy.IsValid() {
			c.fail(spec, "condition has unknown read policy %q", inst.Policy)
		}
	case KindPrompt:
		if inst.Text == "" {
			c.fail(spec, "prompt requires question text")
		}
		if len(inst.Options) == 0 {
			c.fail(spec, "prompt requires at least one answer option")
		}
	case KindRetainLease:
		if len(inst.LeaseResources) == 0 {
			c.fail(spec, "retain_lease requires at least one resource")
		}
	case KindRemote:
		if inst.Service == "" {
			c.fail(spec, "remote requires a service name")
		}
	case KindRobotCommand:
		if len(inst.Action) == 0 {
			c.fail(spec, "robot_command requires an action description")
		}
	case KindNavigateTo:
		if inst.Destination == "" {
			c.fail(spec, "navigate_to requires a destination")
		}
	}
}
