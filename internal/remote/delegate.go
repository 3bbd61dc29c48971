// Package remote implements the client side of the node-delegation
// protocol: the four-call session lifecycle through which externally
// hosted node implementations execute on behalf of the interpreter.
//
// The transport is a collaborator behind the Delegate interface;
// protocol-level failures (missing leases, missing inputs, invalid
// session) are typed response fields, never transport errors.
package remote

import (
	"context"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/types"
)

// TickStatus is the remote node's report for one tick.
type TickStatus string

const (
	TickRunning TickStatus = "running"
	TickSuccess TickStatus = "success"
	TickFailure TickStatus = "failure"
)

// EstablishResponse is the delegate's answer to EstablishSession.
// A populated MissingLeases or MissingInputs list means the session was
// not created and loading the owning node must fail.
type EstablishResponse struct {
	SessionID     types.ID `json:"session_id"`
	MissingLeases []string `json:"missing_leases,omitempty"`
	MissingInputs []string `json:"missing_inputs,omitempty"`
}

// TickResponse is the delegate's answer to a session Tick.
// InvalidSession signals the remote process no longer knows the session
// (for example after a restart); the client re-establishes and retries
// once before surfacing an error.
type TickResponse struct {
	Status         TickStatus `json:"status,omitempty"`
	InvalidSession bool       `json:"invalid_session,omitempty"`
	MissingLeases  []string   `json:"missing_leases,omitempty"`
	MissingInputs  []string   `json:"missing_inputs,omitempty"`
}

// Delegate is the transport contract to one or more externally hosted
// node services, keyed by service name. Implementations are external to
// the interpreter core; tests use fakes.
type Delegate interface {
	// EstablishSession registers a session for one node instance.
	// Called exactly once per delegated instance at mission load.
	EstablishSession(ctx context.Context, service string, inputs []string, leases []lease.Lease) (EstablishResponse, error)

	// TickSession advances the remote node by one tick.
	TickSession(ctx context.Context, service string, sessionID types.ID, leases []lease.Lease, inputs map[string]bb.Value) (TickResponse, error)

	// StopSession notifies the remote node it was running and is no
	// longer reached, per the scheduler's Stop contract.
	StopSession(ctx context.Context, service string, sessionID types.ID) error

	// TeardownSession releases remote resources. Called exactly once
	// per successful EstablishSession, even on abnormal termination.
	TeardownSession(ctx context.Context, service string, sessionID types.ID) error
}
