package interp

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
)

// TickRecord is the scheduler's report for one external tick, consumed
// by the mission state recorder.
type TickRecord struct {
	Number      int64            `json:"number"`
	Timestamp   time.Time        `json:"timestamp"`
	Root        Result           `json:"root"`
	NodeResults map[int64]Result `json:"node_results"`
}

// Scheduler drives one compiled mission tree. Each call to Tick
// performs exactly one synchronous top-down walk of the currently
// relevant subtree and applies the Stop contract to nodes that fell out
// of reach.
//
// The scheduler is single-threaded by contract: the mission service
// serializes Tick, StopAll, and state access.
type Scheduler struct {
	root      Node
	byID      map[int64]Node
	rootScope *bb.Scope
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     func() time.Time

	tickCount int64
	running   map[int64]bool
}

// SchedulerOption is a functional option for configuring the Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger configures the scheduler to use the specified structured
// logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTracer configures the scheduler to create a span per tick.
func WithTracer(tracer trace.Tracer) SchedulerOption {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithClock overrides the mission clock, letting tests drive
// ForDuration and Sleep deterministically.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// NewScheduler creates a scheduler over a built node graph. The root
// scope is fresh; Restart builds a new scheduler to reset all state.
func NewScheduler(root Node, byID map[int64]Node, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		root:      root,
		byID:      byID,
		rootScope: bb.NewScope(nil),
		logger:    slog.Default(),
		clock:     time.Now,
		running:   make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RootScope exposes the mission root blackboard scope for read-only
// inspection (state queries, tests).
func (s *Scheduler) RootScope() *bb.Scope {
	return s.rootScope
}

// TickCount returns the number of completed ticks.
func (s *Scheduler) TickCount() int64 {
	return s.tickCount
}

// Tick performs one complete synchronous walk and returns the root
// result plus the per-node record for the history buffer.
func (s *Scheduler) Tick(ctx context.Context, leases *lease.Set) (Result, *TickRecord) {
	s.tickCount++

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "mission.tick",
			trace.WithAttributes(
				attribute.Int64("mission.tick", s.tickCount),
			),
		)
		defer span.End()
	}

	t := &Tick{
		Ctx:         ctx,
		Number:      s.tickCount,
		Now:         s.clock(),
		Leases:      leases,
		Results:     make(map[int64]Result),
		reached:     make(map[int64]bool),
		stopped:     make(map[int64]bool),
		prevRunning: s.running,
	}

	result := t.Run(s.root, s.rootScope)

	// Stop contract sweep: anything RUNNING last tick that was neither
	// reached nor already stopped this tick gets its Stop now, before
	// it can ever be ticked again.
	for id := range s.running {
		if t.reached[id] || t.stopped[id] {
			continue
		}
		if n, ok := s.byID[id]; ok {
			s.logger.DebugContext(ctx, "stopping unreached node",
				"node_instance_id", id,
				"node", n.Name(),
			)
			n.Stop(ctx)
		}
	}

	next := make(map[int64]bool)
	for id, r := range t.Results {
		if r == Running && !t.stopped[id] {
			next[id] = true
		}
	}
	s.running = next

	if span != nil {
		span.SetAttributes(attribute.String("mission.tick.result", result.String()))
	}

	return result, &TickRecord{
		Number:      s.tickCount,
		Timestamp:   t.Now,
		Root:        result,
		NodeResults: t.Results,
	}
}

// StopAll issues Stop to every node that was RUNNING on the last tick.
// Called on mission stop and restart so remote sessions and internal
// counters are cleanly reset before any future tick.
func (s *Scheduler) StopAll(ctx context.Context) {
	for id := range s.running {
		if n, ok := s.byID[id]; ok {
			n.Stop(ctx)
		}
	}
	s.running = make(map[int64]bool)
}
