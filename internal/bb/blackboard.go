package bb

import (
	"fmt"
)

// ReadPolicy governs how a reader reacts to a blackboard value that has
// not been rewritten since some reference tick.
type ReadPolicy string

const (
	// ReadAnyway accepts the stored value regardless of its age.
	ReadAnyway ReadPolicy = "read_anyway"

	// RunUntilFresh makes the reading node report RUNNING until a write
	// newer than the reference tick lands.
	RunUntilFresh ReadPolicy = "run_until_fresh"

	// FailOnStale makes the reading node report FAILURE immediately when
	// the stored value is older than the reference tick.
	FailOnStale ReadPolicy = "fail"
)

// IsValid checks if the ReadPolicy is a known policy.
func (p ReadPolicy) IsValid() bool {
	switch p {
	case ReadAnyway, RunUntilFresh, FailOnStale:
		return true
	default:
		return false
	}
}

// Entry is one binding in a scope: the value plus the mission tick at
// which it was last written.
type Entry struct {
	Value         Value `json:"value"`
	LastWriteTick int64 `json:"last_write_tick"`
}

// Scope is one frame of the blackboard scope chain. A node that
// introduces a scope (DefineBlackboard) pushes one for the duration of
// its child's execution; popping simply discards the frame, so bindings
// in the child scope can never leak into an ancestor.
//
// Scopes are owned by the single-threaded tick loop and are not safe
// for concurrent use; the mission service serializes all access.
type Scope struct {
	parent   *Scope
	bindings map[string]Entry
}

// NewScope creates a scope chained under parent. A nil parent creates
// the mission root scope.
func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:   parent,
		bindings: make(map[string]Entry),
	}
}

// Parent returns the enclosing scope, or nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Define creates (or overwrites) a binding in this scope, shadowing any
// same-named binding in an ancestor.
func (s *Scope) Define(name string, v Value, tick int64) {
	s.bindings[name] = Entry{Value: v, LastWriteTick: tick}
}

// Write stores a value into the nearest enclosing scope where name is
// already defined. Writing an undefined name is an error: definitions
// are established at compile time (DefineBlackboard / mission root),
// never implicitly by a writer.
func (s *Scope) Write(name string, v Value, tick int64) error {
	for scope := s; scope != nil; scope = scope.parent {
		if _, ok := scope.bindings[name]; ok {
			scope.bindings[name] = Entry{Value: v, LastWriteTick: tick}
			return nil
		}
	}
	return fmt.Errorf("blackboard variable %q is not defined in any enclosing scope", name)
}

// Read resolves name against the scope chain, innermost first.
// The second return is the tick of the last write; ok is false when the
// name is not defined anywhere in the chain.
func (s *Scope) Read(name string) (Value, int64, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if e, ok := scope.bindings[name]; ok {
			return e.Value, e.LastWriteTick, true
		}
	}
	return Value{}, 0, false
}

// Defined reports whether name resolves anywhere in the scope chain.
func (s *Scope) Defined(name string) bool {
	_, _, ok := s.Read(name)
	return ok
}

// Staleness is the outcome of a policy-governed read.
type Staleness int

const (
	// Fresh means the value was written at or after the reference tick.
	Fresh Staleness = iota
	// Stale means the value predates the reference tick.
	Stale
	// Missing means the name is not defined in the chain.
	Missing
)

// ReadWithPolicy resolves name and classifies its freshness against
// sinceTick. The policy itself does not change what is returned; it is
// carried back so the calling node can map Stale onto RUNNING or
// FAILURE per its configuration.
func (s *Scope) ReadWithPolicy(name string, sinceTick int64) (Value, Staleness) {
	v, wrote, ok := s.Read(name)
	if !ok {
		return Value{}, Missing
	}
	if wrote < sinceTick {
		return v, Stale
	}
	return v, Fresh
}

// Snapshot flattens the visible bindings of the chain into a plain map,
// innermost shadowing outermost. Used by the state recorder and by
// delegated-node input marshaling.
func (s *Scope) Snapshot() map[string]Entry {
	out := make(map[string]Entry)
	var walk func(*Scope)
	walk = func(scope *Scope) {
		if scope == nil {
			return
		}
		// Ancestors first so inner frames overwrite.
		walk(scope.parent)
		for name, e := range scope.bindings {
			out[name] = e
		}
	}
	walk(s)
	return out
}
