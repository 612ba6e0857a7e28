// Package session (manager.go) implements multi-session lifecycle: creating
// and ending ChatSessions by id, and periodically sweeping ones that have
// sat idle too long (§4.8, §5).
//
// Grounded on the teacher's runtime/agent/runtime/session_lifecycle.go
// (CreateSession/DeleteSession as an idempotent, monotonic pair on top of a
// session store, with best-effort cancellation of in-flight work on
// deletion) generalized away from its session.Session/SessionStore/Temporal
// run-cancellation model: this engine has no durable run history to query,
// so "cancel in-flight work" here is simply Session.Close plus an Abort
// Submit, and CreateSession's "idempotent" contract returns the existing
// in-memory Session rather than round-tripping a store.
//
// Each session created here also gets a trajectory.Recorder attached to its
// bus, when a trajectory.Store is configured, so the best-effort trajectory
// log (runtime/trajectory) captures a session's published events without
// the orchestrator itself knowing persistence exists.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/tools"
	"github.com/chatcore/engine/runtime/trajectory"
)

// CleanupInterval is how often Manager's idle sweep runs (§5
// SESSION_CLEANUP_INTERVAL).
const CleanupInterval = 5 * time.Minute

// Factory builds the collaborators a new Session needs for thread. Supplied
// by the host (cmd/chatrtd) so Manager stays agnostic of concrete provider
// adapters and tool registries.
type Factory func(thread ThreadParams) (Preparer, provider.Adapter, *tools.Registry, PrepareOptions)

// Manager owns every active ChatSession, keyed by chat id, and runs the
// periodic idle-session sweep (§4.8, §5).
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	buses     map[string]*events.Bus
	recorders map[string]*trajectory.Recorder
	factory   Factory
	trajStore trajectory.Store

	stop chan struct{}
	once sync.Once
}

// NewManager builds a Manager whose sessions are constructed via factory.
// trajStore may be nil, in which case no trajectory log is recorded and no
// event history is kept beyond each bus subscriber's bounded mailbox.
func NewManager(factory Factory, trajStore trajectory.Store) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		buses:     make(map[string]*events.Bus),
		recorders: make(map[string]*trajectory.Recorder),
		factory:   factory,
		trajStore: trajStore,
		stop:      make(chan struct{}),
	}
}

// CreateSession creates (or idempotently returns) the active session for
// thread.ID. Creating an already-active session is a no-op that returns the
// existing Session unchanged, matching the teacher's idempotent contract.
func (m *Manager) CreateSession(thread ThreadParams) (*Session, error) {
	id := strings.TrimSpace(thread.ID)
	if id == "" {
		return nil, errs.New(errs.BadRequest, "chat id is required")
	}
	thread.ID = id

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}

	bus := events.NewBus()
	preparer, adapter, reg, prepOpts := m.factory(thread)
	s := NewSession(thread, bus, preparer, adapter, reg, prepOpts)
	m.sessions[id] = s
	m.buses[id] = bus
	if m.trajStore != nil {
		m.recorders[id] = trajectory.NewRecorder(m.trajStore, bus, id)
	}
	return s, nil
}

// Get returns the active session for chatID, or false if none exists (or it
// has already been deleted).
func (m *Manager) Get(chatID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	return s, ok
}

// DeleteSession ends the session identified by chatID: it aborts any active
// turn, closes the session to further commands, and removes it from the
// manager. Deleting an unknown or already-deleted session is a no-op,
// matching DeleteSession's "durable and monotonic" contract.
func (m *Manager) DeleteSession(ctx context.Context, chatID string) error {
	id := strings.TrimSpace(chatID)
	if id == "" {
		return errs.New(errs.BadRequest, "chat id is required")
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	rec := m.recorders[id]
	if ok {
		delete(m.sessions, id)
		delete(m.buses, id)
		delete(m.recorders, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Best-effort cancellation of any in-flight turn: Abort is handled out of
	// band (Submit cancels the turn's context directly, see orchestrator.go),
	// so unlike the teacher's cancelSessionRuns this never needs to block
	// waiting for a run store to settle.
	_ = s.Submit(CommandRequest{Command: Abort{}})
	s.Close()
	if rec != nil {
		rec.Close()
	}
	return nil
}

// StartIdleSweep launches the periodic idle-session GC and returns a stop
// function. Calling the returned function (or Stop) more than once is safe.
func (m *Manager) StartIdleSweep(ctx context.Context) func() {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweepIdle(ctx)
			}
		}
	}()
	return m.Stop
}

// Stop halts the idle sweep goroutine started by StartIdleSweep.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) sweepIdle(ctx context.Context) {
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.IdleSince() >= IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		_ = m.DeleteSession(ctx, id)
	}
}
