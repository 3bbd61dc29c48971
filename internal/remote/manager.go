package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/outland-robotics/missiond/internal/bb"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/types"
)

// ProtocolError is a typed failure at the delegation boundary: the
// remote accepted the call but rejected it for a protocol reason.
type ProtocolError struct {
	Service       string
	MissingLeases []string
	MissingInputs []string
	Reason        string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	var parts []string
	if len(e.MissingLeases) > 0 {
		parts = append(parts, fmt.Sprintf("missing leases [%s]", strings.Join(e.MissingLeases, ", ")))
	}
	if len(e.MissingInputs) > 0 {
		parts = append(parts, fmt.Sprintf("missing inputs [%s]", strings.Join(e.MissingInputs, ", ")))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(parts) == 0 {
		parts = append(parts, "protocol error")
	}
	return fmt.Sprintf("delegate %s: %s", e.Service, strings.Join(parts, "; "))
}

// Session is the client-side record of one established remote session.
// The Manager owns sessions exclusively; the scheduler only ever holds
// node instance IDs.
type Session struct {
	ID             types.ID
	Service        string
	NodeInstanceID int64
	DeclaredInputs []string

	// inFlight guards the at-most-one-in-flight-Tick invariant.
	inFlight bool
	tornDown bool
}

// Manager tracks every delegated node instance's session, enforcing the
// lifecycle contract: establish once at load, at most one in-flight
// tick, stop on unreached, teardown exactly once at unload.
type Manager struct {
	delegate Delegate
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithLogger configures the manager to use the specified structured
// logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager over the given delegate
// transport.
func NewManager(delegate Delegate, opts ...ManagerOption) *Manager {
	m := &Manager{
		delegate: delegate,
		logger:   slog.Default(),
		sessions: make(map[int64]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Establish creates the remote session for one delegated node instance.
// A response naming missing leases or inputs is returned as a
// ProtocolError; the caller turns it into a load-time FailedNode.
func (m *Manager) Establish(ctx context.Context, nodeID int64, service string, inputs []string, leases *lease.Set) error {
	m.mu.Lock()
	if _, exists := m.sessions[nodeID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session already established for node instance %d", nodeID)
	}
	m.mu.Unlock()

	resp, err := m.delegate.EstablishSession(ctx, service, inputs, leases.All())
	if err != nil {
		return fmt.Errorf("establish session with %s: %w", service, err)
	}
	if len(resp.MissingLeases) > 0 || len(resp.MissingInputs) > 0 {
		return &ProtocolError{
			Service:       service,
			MissingLeases: resp.MissingLeases,
			MissingInputs: resp.MissingInputs,
		}
	}
	if resp.SessionID.IsZero() {
		return &ProtocolError{Service: service, Reason: "delegate returned no session id"}
	}

	m.mu.Lock()
	m.sessions[nodeID] = &Session{
		ID:             resp.SessionID,
		Service:        service,
		NodeInstanceID: nodeID,
		DeclaredInputs: inputs,
	}
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "remote session established",
		"service", service,
		"node_instance_id", nodeID,
		"session_id", resp.SessionID,
	)
	return nil
}

// Tick advances the remote node one tick. On invalid_session_id it
// transparently re-establishes and retries exactly once; a second
// failure surfaces as an error the node maps to ERROR.
func (m *Manager) Tick(ctx context.Context, nodeID int64, leases *lease.Set, inputs map[string]bb.Value) (TickStatus, error) {
	s, err := m.acquire(nodeID)
	if err != nil {
		return "", err
	}
	defer m.release(nodeID)

	resp, err := m.delegate.TickSession(ctx, s.Service, s.ID, leases.All(), inputs)
	if err != nil {
		return "", fmt.Errorf("tick session %s: %w", s.ID, err)
	}

	if resp.InvalidSession {
		m.logger.WarnContext(ctx, "remote session invalidated, re-establishing",
			"service", s.Service,
			"session_id", s.ID,
		)
		if err := m.reestablish(ctx, s, leases); err != nil {
			return "", err
		}
		resp, err = m.delegate.TickSession(ctx, s.Service, s.ID, leases.All(), inputs)
		if err != nil {
			return "", fmt.Errorf("tick retried session %s: %w", s.ID, err)
		}
		if resp.InvalidSession {
			return "", &ProtocolError{Service: s.Service, Reason: "session invalid after re-establish"}
		}
	}

	if len(resp.MissingLeases) > 0 || len(resp.MissingInputs) > 0 {
		return "", &ProtocolError{
			Service:       s.Service,
			MissingLeases: resp.MissingLeases,
			MissingInputs: resp.MissingInputs,
		}
	}

	switch resp.Status {
	case TickRunning, TickSuccess, TickFailure:
		return resp.Status, nil
	default:
		return "", &ProtocolError{Service: s.Service, Reason: fmt.Sprintf("unknown tick status %q", resp.Status)}
	}
}

// Stop notifies the remote node its instance was running last cycle and
// is not reached this cycle.
func (m *Manager) Stop(ctx context.Context, nodeID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[nodeID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session for node instance %d", nodeID)
	}
	return m.delegate.StopSession(ctx, s.Service, s.ID)
}

// Has reports whether a session exists for the node instance.
func (m *Manager) Has(nodeID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[nodeID]
	return ok
}

// TeardownAll tears down every live session exactly once. Errors are
// collected rather than aborting, so one unreachable delegate cannot
// leak the others' sessions.
func (m *Manager) TeardownAll(ctx context.Context) error {
	m.mu.Lock()
	var live []*Session
	for _, s := range m.sessions {
		if !s.tornDown {
			s.tornDown = true
			live = append(live, s)
		}
	}
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()

	var errs []string
	for _, s := range live {
		if err := m.delegate.TeardownSession(ctx, s.Service, s.ID); err != nil {
			errs = append(errs, fmt.Sprintf("%s/%s: %v", s.Service, s.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown failed for %d session(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (m *Manager) acquire(nodeID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return nil, fmt.Errorf("no session for node instance %d", nodeID)
	}
	if s.inFlight {
		return nil, fmt.Errorf("session %s already has a tick in flight", s.ID)
	}
	s.inFlight = true
	return s, nil
}

func (m *Manager) release(nodeID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[nodeID]; ok {
		s.inFlight = false
	}
}

// reestablish replaces a session the remote no longer recognizes.
// The stale session is not torn down: the remote already forgot it.
func (m *Manager) reestablish(ctx context.Context, s *Session, leases *lease.Set) error {
	resp, err := m.delegate.EstablishSession(ctx, s.Service, s.DeclaredInputs, leases.All())
	if err != nil {
		return fmt.Errorf("re-establish session with %s: %w", s.Service, err)
	}
	if len(resp.MissingLeases) > 0 || len(resp.MissingInputs) > 0 {
		return &ProtocolError{
			Service:       s.Service,
			MissingLeases: resp.MissingLeases,
			MissingInputs: resp.MissingInputs,
		}
	}
	if resp.SessionID.IsZero() {
		return &ProtocolError{Service: s.Service, Reason: "delegate returned no session id on re-establish"}
	}

	m.mu.Lock()
	s.ID = resp.SessionID
	m.mu.Unlock()
	return nil
}
