package mission

import (
	"time"

	"github.com/outland-robotics/missiond/internal/interp"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// Status is the mission's lifecycle status.
type Status string

const (
	// StatusNone means a mission is loaded but has never been played.
	StatusNone Status = "none"

	// StatusRunning means the tick loop is advancing the tree.
	StatusRunning Status = "running"

	// StatusPaused means ticking is suspended; node state is untouched.
	StatusPaused Status = "paused"

	// StatusSuccess, StatusFailure and StatusError are the root's
	// terminal results.
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"

	// StatusStopped means the mission was explicitly stopped.
	StatusStopped Status = "stopped"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status ends the current run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusError, StatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates the status machine:
// NONE -> RUNNING; RUNNING <-> PAUSED;
// RUNNING -> SUCCESS | FAILURE | ERROR;
// RUNNING | PAUSED -> STOPPED.
// Restart is handled separately because it resets state wholesale.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusNone:
		return target == StatusRunning
	case StatusRunning:
		switch target {
		case StatusPaused, StatusSuccess, StatusFailure, StatusError, StatusStopped:
			return true
		}
		return false
	case StatusPaused:
		return target == StatusRunning || target == StatusStopped
	default:
		return false
	}
}

// Definition is a submitted mission: the root spec plus the shared
// subtree reference table. GetMission returns it verbatim.
type Definition struct {
	Name       string                    `json:"name" yaml:"name"`
	Root       *tree.NodeSpec            `json:"root" yaml:"root"`
	References map[string]*tree.NodeSpec `json:"references,omitempty" yaml:"references,omitempty"`
}

// PlaySettings tunes one Play/Restart request.
type PlaySettings struct {
	// TickInterval is the period of the background tick loop. Zero
	// falls back to the service default.
	TickInterval time.Duration `json:"tick_interval,omitempty"`

	// Manual disables the background loop; the caller drives ticks via
	// Service.Tick. Used by tests and embedding drivers.
	Manual bool `json:"manual,omitempty"`
}

// PlayRequest carries everything a Play/Restart needs: the deadline at
// which the mission auto-pauses, the leases granting resource access,
// and the loop settings.
type PlayRequest struct {
	PauseDeadline time.Time     `json:"pause_deadline"`
	Leases        []lease.Lease `json:"leases,omitempty"`
	Settings      PlaySettings  `json:"settings"`
}

// State is the client-facing snapshot returned by GetState.
type State struct {
	MissionID types.ID `json:"mission_id"`
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	// TickCounter is the number of completed ticks.
	TickCounter int64 `json:"tick_counter"`

	History           []*interp.TickRecord `json:"history,omitempty"`
	PendingQuestions  []*Question          `json:"pending_questions,omitempty"`
	ResolvedQuestions []*Question          `json:"resolved_questions,omitempty"`
}

// Mission is one loaded mission instance with an unambiguous lifecycle:
// Load creates it, tick/Pause/Stop mutate it, a new Load or explicit
// unload destroys it. Keeping it an explicit object (not ambient
// package state) lets multiple mission lifetimes coexist in one test
// process without interference.
type Mission struct {
	ID         types.ID
	Definition *Definition
	Compiled   *tree.Compiled

	status    Status
	sched     *interp.Scheduler
	questions *Board
	recorder  *Recorder
	leases    *lease.Set

	coordinator *lease.Coordinator

	pauseDeadline time.Time
	sessionsLive  bool
}

// Status returns the mission's current status. Callers must hold the
// service lock.
func (m *Mission) Status() Status {
	return m.status
}
