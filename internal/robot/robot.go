// Package robot declares the contracts of the external robot-platform
// collaborators the interpreter calls into. Locomotion, docking and
// route computation are explicitly out of interpreter scope; the
// interpreter only issues requests and reads status enums back.
package robot

import (
	"context"
)

// CommandStatus is the feedback shape of the command-issuing
// collaborator, keyed by the command ID it returned.
type CommandStatus string

const (
	CommandProcessing CommandStatus = "processing"
	CommandSucceeded  CommandStatus = "succeeded"
	CommandFailed     CommandStatus = "failed"
	CommandOverridden CommandStatus = "overridden"
	CommandTimedOut   CommandStatus = "timed_out"
)

// Terminal reports whether the status ends the command's lifecycle.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandSucceeded, CommandFailed, CommandOverridden, CommandTimedOut:
		return true
	default:
		return false
	}
}

// CommandIssuer accepts an opaque action description and returns a
// command identifier; feedback is polled separately by that identifier.
type CommandIssuer interface {
	IssueCommand(ctx context.Context, action map[string]any) (commandID string, err error)
	CommandFeedback(ctx context.Context, commandID string) (CommandStatus, error)
}

// RouteStatus is the feedback shape of the route/localization
// collaborator. The interpreter never computes routes; it only reads
// this status.
type RouteStatus string

const (
	RouteInProgress RouteStatus = "in_progress"
	RouteBlocked    RouteStatus = "blocked"
	RouteSucceeded  RouteStatus = "succeeded"
	RouteFailed     RouteStatus = "failed"
)

// Terminal reports whether the status ends the navigation attempt.
func (s RouteStatus) Terminal() bool {
	return s == RouteSucceeded || s == RouteFailed
}

// Router accepts a destination description and reports navigation
// feedback for it on subsequent polls.
type Router interface {
	NavigateTo(ctx context.Context, destination string) (routeID string, err error)
	RouteFeedback(ctx context.Context, routeID string) (RouteStatus, error)
}
