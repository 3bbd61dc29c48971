// Package interp implements the mission tick scheduler: the
// single-threaded, cooperative interpreter that walks the compiled node
// tree once per external tick and applies each node kind's control-flow
// semantics.
package interp

// Result is the per-tick outcome of one node instance. Exactly one is
// recorded per instance per tick in which it is reached.
type Result string

const (
	// Running means the node has more work and must be ticked again.
	Running Result = "running"

	// Success means the node completed and its branch succeeded.
	Success Result = "success"

	// Failure means the node completed and its branch logically failed.
	Failure Result = "failure"

	// Error means an operational fault (lost session, collaborator
	// fault), distinct from a logical Failure. Error is not catchable
	// by Selector; it propagates to the mission root.
	Error Result = "error"
)

// String returns the string representation of the result.
func (r Result) String() string {
	return string(r)
}

// Terminal reports whether the result ends the node's current
// activation.
func (r Result) Terminal() bool {
	return r != Running
}

// resultFromName maps a constant_result spec value onto a Result.
// Compile validates the name, so unknown names cannot reach here.
func resultFromName(name string) Result {
	switch name {
	case "success":
		return Success
	case "failure":
		return Failure
	case "error":
		return Error
	default:
		return Running
	}
}
