package mission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/outland-robotics/missiond/internal/interp"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/remote"
	"github.com/outland-robotics/missiond/internal/robot"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// DefaultTickInterval is the background loop period when a Play request
// does not set one.
const DefaultTickInterval = 100 * time.Millisecond

// Dependencies are the external collaborators the service wires into
// every loaded mission.
type Dependencies struct {
	// Delegate is the transport to remote mission services. Required
	// only for trees containing delegated nodes.
	Delegate remote.Delegate

	// Verifier checks lease validity for RetainLease nodes.
	Verifier lease.Verifier

	// Commands issues robot commands for RobotCommand nodes.
	Commands robot.CommandIssuer

	// Router drives navigation for NavigateTo nodes.
	Router robot.Router
}

// Service owns the single loaded mission and serializes every lifecycle
// operation against the tick loop. It is safe for concurrent use.
type Service struct {
	deps   Dependencies
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
	events *EventBus

	historyDepth int
	tickInterval time.Duration

	mu      sync.Mutex
	current *Mission
	remote  *remote.Manager

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// ServiceOption is a functional option for configuring the Service.
type ServiceOption func(*Service)

// WithLogger configures the service to use the specified structured
// logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer configures the service to trace ticks and lifecycle
// operations.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithClock overrides the mission clock for deterministic tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithHistoryDepth bounds the per-mission tick history buffer.
func WithHistoryDepth(depth int) ServiceOption {
	return func(s *Service) {
		s.historyDepth = depth
	}
}

// WithTickInterval sets the default background tick period.
func WithTickInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// NewService creates a mission service with no mission loaded.
func NewService(deps Dependencies, opts ...ServiceOption) *Service {
	s := &Service{
		deps:         deps,
		logger:       slog.Default(),
		clock:        time.Now,
		events:       NewEventBus(),
		historyDepth: DefaultHistoryDepth,
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the bus carrying mission lifecycle events.
func (s *Service) Events() *EventBus {
	return s.events
}

// Load compiles and installs a mission, replacing any previously loaded
// one. Remote sessions are established here for every delegated node
// instance, using the supplied leases; a delegate reporting missing
// leases or inputs fails the load with a FailedNode naming the missing
// resource. Installation is all or nothing: on any failure the
// previously loaded mission stays untouched.
func (s *Service) Load(ctx context.Context, def *Definition, leases []lease.Lease) (types.ID, []tree.FailedNode, error) {
	if def == nil || def.Root == nil {
		return "", nil, NewError(ErrCompile, "mission definition has no root")
	}

	compiled, failed := tree.Compile(def.Root, def.References)
	if len(failed) > 0 {
		return "", failed, NewError(ErrCompile, "mission tree failed to compile").
			WithContext("failed_nodes", len(failed))
	}

	leaseSet := lease.NewSet(leases...)

	// Sessions for the incoming mission are established on a fresh
	// manager so a partial failure never disturbs the current mission.
	mgr := remote.NewManager(s.deps.Delegate, remote.WithLogger(s.logger))
	var estFailed []tree.FailedNode
	for _, inst := range compiled.RemoteInstances {
		inputs := make([]string, 0, len(inst.Inputs))
		for _, in := range inst.Inputs {
			inputs = append(inputs, in.Name)
		}
		if err := mgr.Establish(ctx, inst.ID, inst.Service, inputs, leaseSet); err != nil {
			estFailed = append(estFailed, tree.FailedNode{
				NodeName: inst.Name,
				Kind:     inst.Kind,
				Error:    err.Error(),
			})
		}
	}
	if len(estFailed) > 0 {
		if err := mgr.TeardownAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "teardown after failed load", "error", err)
		}
		return "", estFailed, NewError(ErrValidate, "remote session establishment failed").
			WithContext("failed_nodes", len(estFailed))
	}

	names := make(map[int64]string, len(compiled.Arena))
	for _, inst := range compiled.Arena {
		names[inst.ID] = inst.Name
	}
	board := NewBoard(func(id int64) string { return names[id] })

	m := &Mission{
		ID:         types.NewID(),
		Definition: def,
		Compiled:   compiled,
		status:     StatusNone,
		questions:  board,
		recorder:   NewRecorder(s.historyDepth),
	}
	m.coordinator = lease.NewCoordinator()
	m.coordinator.Require(compiled.LeaseResources...)

	board.Observe(func(q *Question) {
		s.events.Publish(Event{
			Type:      EventQuestionAsked,
			MissionID: m.ID,
			Timestamp: s.clock(),
			Payload:   q,
		})
	})

	root, byID, err := interp.Build(compiled, interp.Deps{
		Remote:    mgr,
		Verifier:  s.deps.Verifier,
		Commands:  s.deps.Commands,
		Router:    s.deps.Router,
		Questions: board,
		Logger:    s.logger,
	})
	if err != nil {
		if terr := mgr.TeardownAll(ctx); terr != nil {
			s.logger.WarnContext(ctx, "teardown after failed build", "error", terr)
		}
		return "", nil, WrapError(ErrValidate, "mission tree could not be instantiated", err)
	}
	m.sched = s.newScheduler(root, byID)
	m.leases = leaseSet

	s.mu.Lock()
	s.stopLoopLocked()
	old := s.current
	oldMgr := s.remote
	s.current = m
	s.remote = mgr
	s.mu.Unlock()

	if old != nil {
		old.sched.StopAll(ctx)
		if oldMgr != nil {
			if err := oldMgr.TeardownAll(ctx); err != nil {
				s.logger.WarnContext(ctx, "teardown of replaced mission", "error", err)
			}
		}
	}

	s.logger.InfoContext(ctx, "mission loaded",
		"mission_id", m.ID,
		"name", def.Name,
		"nodes", len(compiled.Arena),
		"lease_resources", compiled.LeaseResources,
	)
	s.events.Publish(Event{Type: EventLoaded, MissionID: m.ID, Timestamp: s.clock()})
	return m.ID, nil, nil
}

// Play starts or resumes ticking. The supplied leases must cover every
// resource the compiled tree requires; on success they replace the
// mission's working lease set wholesale, so a resume can carry renewed
// leases.
func (s *Service) Play(ctx context.Context, req PlayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return NewError(ErrNotLoaded, "no mission is loaded")
	}
	if !m.status.CanTransitionTo(StatusRunning) {
		return NewInvalidStateError(m.status, StatusRunning)
	}

	set := lease.NewSet(req.Leases...)
	if err := m.coordinator.Validate(set); err != nil {
		var re *lease.RequirementError
		if errors.As(err, &re) {
			return WrapError(ErrMissingLeases, "play request does not cover required leases", err).
				WithContext("missing_resources", re.MissingResources)
		}
		return WrapError(ErrMissingLeases, "lease validation failed", err)
	}
	m.leases = set
	m.pauseDeadline = req.PauseDeadline

	resumed := m.status == StatusPaused
	m.status = StatusRunning

	if !req.Settings.Manual {
		interval := req.Settings.TickInterval
		if interval <= 0 {
			interval = s.tickInterval
		}
		s.startLoopLocked(interval)
	}

	ev := EventStarted
	if resumed {
		ev = EventResumed
	}
	s.logger.InfoContext(ctx, "mission playing",
		"mission_id", m.ID,
		"resumed", resumed,
		"pause_deadline", req.PauseDeadline,
	)
	s.events.Publish(Event{Type: ev, MissionID: m.ID, Timestamp: s.clock()})
	return nil
}

// Pause suspends ticking without disturbing node state: no Stop is
// issued, and a later Play resumes mid-tree.
func (s *Service) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return NewError(ErrNotLoaded, "no mission is loaded")
	}
	if !m.status.CanTransitionTo(StatusPaused) {
		return NewInvalidStateError(m.status, StatusPaused)
	}
	m.status = StatusPaused
	s.stopLoopLocked()

	s.logger.InfoContext(ctx, "mission paused", "mission_id", m.ID, "tick", m.sched.TickCount())
	s.events.Publish(Event{Type: EventPaused, MissionID: m.ID, Timestamp: s.clock()})
	return nil
}

// Stop halts the mission and issues the Stop contract to every running
// node. Remote sessions stay alive: they belong to the load, not the
// run, and are torn down at unload or replacement. Stopping an already
// terminal mission is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	m := s.current
	if m == nil {
		s.mu.Unlock()
		return NewError(ErrNotLoaded, "no mission is loaded")
	}
	if m.status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	wasActive := m.status == StatusRunning || m.status == StatusPaused
	m.status = StatusStopped
	s.stopLoopLocked()
	s.mu.Unlock()

	if wasActive {
		m.sched.StopAll(ctx)
	}

	s.logger.InfoContext(ctx, "mission stopped", "mission_id", m.ID, "tick", m.sched.TickCount())
	s.events.Publish(Event{Type: EventStopped, MissionID: m.ID, Timestamp: s.clock()})
	return nil
}

// Restart resets the mission to a fresh run and begins ticking. Every
// running node is stopped first, all execution state (child indices,
// attempt counters, blackboard scopes, questions, history) is rebuilt,
// and the tick counter restarts at zero. Remote sessions established at
// load persist across restarts. Allowed from any status.
func (s *Service) Restart(ctx context.Context, req PlayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return NewError(ErrNotLoaded, "no mission is loaded")
	}

	set := lease.NewSet(req.Leases...)
	if err := m.coordinator.Validate(set); err != nil {
		var re *lease.RequirementError
		if errors.As(err, &re) {
			return WrapError(ErrMissingLeases, "restart request does not cover required leases", err).
				WithContext("missing_resources", re.MissingResources)
		}
		return WrapError(ErrMissingLeases, "lease validation failed", err)
	}

	s.stopLoopLocked()
	m.sched.StopAll(ctx)

	root, byID, err := interp.Build(m.Compiled, interp.Deps{
		Remote:    s.remote,
		Verifier:  s.deps.Verifier,
		Commands:  s.deps.Commands,
		Router:    s.deps.Router,
		Questions: m.questions,
		Logger:    s.logger,
	})
	if err != nil {
		// Build succeeded at load over the same compiled tree; failing
		// here means a collaborator was lost mid-lifetime.
		m.status = StatusError
		return WrapError(ErrInternal, "mission tree could not be re-instantiated", err)
	}
	m.sched = s.newScheduler(root, byID)
	m.recorder.Reset()
	m.questions.Reset()
	m.leases = set
	m.pauseDeadline = req.PauseDeadline
	m.status = StatusRunning

	if !req.Settings.Manual {
		interval := req.Settings.TickInterval
		if interval <= 0 {
			interval = s.tickInterval
		}
		s.startLoopLocked(interval)
	}

	s.logger.InfoContext(ctx, "mission restarted", "mission_id", m.ID)
	s.events.Publish(Event{Type: EventRestarted, MissionID: m.ID, Timestamp: s.clock()})
	return nil
}

// Tick advances the mission by exactly one tick. The background loop
// calls this; tests and embedding drivers using Manual settings call it
// directly. Ticking a mission that is not RUNNING is a no-op.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	m := s.current
	if m == nil || m.status != StatusRunning {
		s.mu.Unlock()
		return
	}

	if !m.pauseDeadline.IsZero() && s.clock().After(m.pauseDeadline) {
		m.status = StatusPaused
		s.stopLoopLocked()
		id := m.ID
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "pause deadline reached", "mission_id", id)
		s.events.Publish(Event{Type: EventPaused, MissionID: id, Timestamp: s.clock()})
		return
	}

	result, rec := m.sched.Tick(ctx, m.leases)
	m.recorder.Append(rec)

	if !result.Terminal() {
		s.mu.Unlock()
		return
	}

	var ev EventType
	switch result {
	case interp.Success:
		m.status = StatusSuccess
		ev = EventCompleted
	case interp.Failure:
		m.status = StatusFailure
		ev = EventFailed
	default:
		m.status = StatusError
		ev = EventErrored
	}
	s.stopLoopLocked()
	id := m.ID
	tick := rec.Number
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "mission finished",
		"mission_id", id,
		"result", result,
		"tick", tick,
	)
	s.events.Publish(Event{Type: ev, MissionID: id, Timestamp: s.clock()})
}

// State returns the mission snapshot: status, tick counter, the
// requested history window, and the question lists.
func (s *Service) State(q HistoryQuery) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return nil, NewError(ErrNotLoaded, "no mission is loaded")
	}
	return &State{
		MissionID:         m.ID,
		Name:              m.Definition.Name,
		Status:            m.status,
		TickCounter:       m.sched.TickCount(),
		History:           m.recorder.Window(q),
		PendingQuestions:  m.questions.Pending(),
		ResolvedQuestions: m.questions.Resolved(),
	}, nil
}

// Info returns the compiled tree's static introspection structure.
func (s *Service) Info() (*tree.NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return nil, NewError(ErrNotLoaded, "no mission is loaded")
	}
	return m.Compiled.Info, nil
}

// Mission returns the loaded mission's definition as submitted,
// including the shared subtree reference table.
func (s *Service) Mission() (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.current
	if m == nil {
		return nil, NewError(ErrNotLoaded, "no mission is loaded")
	}
	return m.Definition, nil
}

// AnswerQuestion records an operator answer for a pending question. The
// owning Prompt node consumes the answer on its next tick.
func (s *Service) AnswerQuestion(id types.ID, code int64) error {
	s.mu.Lock()
	m := s.current
	s.mu.Unlock()
	if m == nil {
		return NewError(ErrNotLoaded, "no mission is loaded")
	}
	if err := m.questions.Answer(id, code); err != nil {
		return err
	}

	s.events.Publish(Event{
		Type:      EventQuestionAnswered,
		MissionID: m.ID,
		Timestamp: s.clock(),
		Payload:   map[string]any{"question_id": id, "code": code},
	})
	return nil
}

// Unload stops the mission, tears down every remote session exactly
// once, and leaves the service with no mission loaded.
func (s *Service) Unload(ctx context.Context) error {
	s.mu.Lock()
	m := s.current
	mgr := s.remote
	s.current = nil
	s.remote = nil
	s.stopLoopLocked()
	done := s.loopDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if m == nil {
		return nil
	}

	m.sched.StopAll(ctx)
	var err error
	if mgr != nil {
		err = mgr.TeardownAll(ctx)
	}
	s.logger.InfoContext(ctx, "mission unloaded", "mission_id", m.ID)
	return err
}

// Close unloads any mission and waits for the tick loop to exit.
func (s *Service) Close(ctx context.Context) error {
	return s.Unload(ctx)
}

func (s *Service) newScheduler(root interp.Node, byID map[int64]interp.Node) *interp.Scheduler {
	opts := []interp.SchedulerOption{
		interp.WithLogger(s.logger),
		interp.WithClock(s.clock),
	}
	if s.tracer != nil {
		opts = append(opts, interp.WithTracer(s.tracer))
	}
	return interp.NewScheduler(root, byID, opts...)
}

// startLoopLocked launches the background tick loop. Callers hold s.mu.
func (s *Service) startLoopLocked(interval time.Duration) {
	if s.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// stopLoopLocked signals the loop to exit. It does not wait: the loop's
// Tick takes s.mu, so waiting here would deadlock. Callers hold s.mu.
func (s *Service) stopLoopLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
}
