package tree

import (
	"fmt"
	"strings"
)

// FailedNode records one node that could not be compiled or validated.
// LoadMission surfaces these to the caller; a non-empty list means no
// tree was installed.
type FailedNode struct {
	NodeName string `json:"node_name"`
	Error    string `json:"error"`
	Kind     Kind   `json:"kind,omitempty"`
}

// String renders the record for logs.
func (f FailedNode) String() string {
	if f.Kind != "" {
		return fmt.Sprintf("%s (%s): %s", f.NodeName, f.Kind, f.Error)
	}
	return fmt.Sprintf("%s: %s", f.NodeName, f.Error)
}

// CompileError aggregates every FailedNode from one Compile call into a
// single error value for callers that want an error instead of records.
type CompileError struct {
	Failed []FailedNode
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("tree compilation failed: %s", strings.Join(msgs, "; "))
}
