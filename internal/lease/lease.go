// Package lease tracks the opaque lease tokens that grant a mission
// temporary exclusive use of named physical robot resources.
//
// Ownership and arbitration live in an external lease service; the
// interpreter only forwards tokens into node and session calls, checks
// that a Play/Restart request covers every resource the compiled tree
// declares, and re-validates held tokens through a Verifier when a
// RetainLease node asks it to.
package lease

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Lease is an opaque token for one named resource. Epoch and Sequence
// are minted by the external lease service; the interpreter treats them
// as payload and never compares them itself.
type Lease struct {
	Resource string `json:"resource"`
	Epoch    string `json:"epoch"`
	Sequence []int  `json:"sequence,omitempty"`
}

// Set is a collection of leases indexed by resource name.
type Set struct {
	leases map[string]Lease
}

// NewSet builds a Set from the supplied leases. Later duplicates for
// the same resource replace earlier ones.
func NewSet(leases ...Lease) *Set {
	s := &Set{leases: make(map[string]Lease, len(leases))}
	for _, l := range leases {
		s.leases[l.Resource] = l
	}
	return s
}

// Get returns the lease held for resource, if any.
func (s *Set) Get(resource string) (Lease, bool) {
	l, ok := s.leases[resource]
	return l, ok
}

// Resources returns the held resource names in sorted order.
func (s *Set) Resources() []string {
	out := make([]string, 0, len(s.leases))
	for name := range s.leases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every held lease in resource-name order.
func (s *Set) All() []Lease {
	out := make([]Lease, 0, len(s.leases))
	for _, name := range s.Resources() {
		out = append(out, s.leases[name])
	}
	return out
}

// Len returns the number of held leases.
func (s *Set) Len() int {
	return len(s.leases)
}

// Missing returns the subset of required resource names that the set
// does not cover, in sorted order.
func (s *Set) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := s.leases[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Verifier is the contract of the external lease-owning collaborator:
// given a resource name and the token this mission holds, report
// whether the token is still the authoritative holder.
type Verifier interface {
	VerifyLease(ctx context.Context, l Lease) (bool, error)
}

// RequirementError is returned when a Play/Restart request does not
// cover the union of lease resources the compiled tree declares.
type RequirementError struct {
	MissingResources []string
}

// Error implements the error interface.
func (e *RequirementError) Error() string {
	return fmt.Sprintf("missing leases for resources: %s", strings.Join(e.MissingResources, ", "))
}

// Coordinator aggregates the lease-resource requirements declared by
// every node and delegated session in a compiled tree and validates
// incoming lease sets against that union.
type Coordinator struct {
	required map[string]struct{}
}

// NewCoordinator creates an empty coordinator. Requirements are added
// during tree compilation.
func NewCoordinator() *Coordinator {
	return &Coordinator{required: make(map[string]struct{})}
}

// Require records that the mission needs a lease on resource.
// Duplicate requirements collapse.
func (c *Coordinator) Require(resources ...string) {
	for _, r := range resources {
		if r == "" {
			continue
		}
		c.required[r] = struct{}{}
	}
}

// Required returns the aggregated resource names in sorted order.
func (c *Coordinator) Required() []string {
	out := make([]string, 0, len(c.required))
	for name := range c.required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that the supplied set is a superset of the aggregated
// requirements. Returns a RequirementError naming every uncovered
// resource, or nil when the set suffices.
func (c *Coordinator) Validate(s *Set) error {
	missing := s.Missing(c.Required())
	if len(missing) > 0 {
		return &RequirementError{MissingResources: missing}
	}
	return nil
}
