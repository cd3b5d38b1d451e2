// Package session implements the Session Manager: a persisted mapping of
// session id to VmSession, the state matrix from spec §4.3, startup
// reconciliation against the backend's live inventory, and a periodic
// stale-session GC. It is grounded on the teacher's store package for the
// "persist on every mutation, never block startup on a bad file" discipline,
// generalized from a SQLite table to a JSON file because sessions are a
// small, infrequently-read, single-writer document rather than a queryable
// log.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vortexlab/vortex/internal/lifecycle"
	"github.com/vortexlab/vortex/internal/metrics"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

// sessionStateTags enumerates every SessionStateTag so refreshMetricsLocked
// can zero out states with no current members, not just the ones present.
var sessionStateTags = []model.SessionStateTag{
	model.SessionCreating,
	model.SessionRunning,
	model.SessionDetached,
	model.SessionAttached,
	model.SessionPaused,
	model.SessionStopped,
	model.SessionError,
}

// StaleAfter is how long a non-persistent Detached session may sit idle
// before the GC tick deletes it.
const StaleAfter = 24 * time.Hour

// GCInterval is how often the stale-session sweep runs while the daemon is up.
const GCInterval = 1 * time.Hour

// Manager owns the session map and its on-disk persistence.
type Manager struct {
	lifecycle *lifecycle.Manager
	store     *jsonStore
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*model.VmSession

	stopGC chan struct{}
}

// NewManager loads the sessions file (or starts empty) and returns a ready
// Manager. It does not start the stale-GC loop; call RunGC for that.
func NewManager(path string, lc *lifecycle.Manager, logger *slog.Logger) (*Manager, error) {
	st := newJSONStore(path)

	loaded, err := st.load()
	if err != nil {
		logger.Warn("sessions file malformed, starting empty", "path", path, "error", err)
		loaded = make(map[string]*model.VmSession)
	}

	return &Manager{
		lifecycle: lc,
		store:     st,
		logger:    logger,
		sessions:  loaded,
		stopGC:    make(chan struct{}),
	}, nil
}

// Reconcile runs the startup reconciliation pass from spec §4.3: sessions
// recorded Running/Attached whose vm id is absent from the backend's
// inventory are demoted to Stopped; sessions recorded Stopped/Error whose
// vm id has reappeared are promoted to Detached. Always persists afterward,
// even if no session changed, to keep the on-disk and in-memory views
// provably consistent.
func (m *Manager) Reconcile(ctx context.Context, liveIDs map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		switch s.State.Tag {
		case model.SessionRunning, model.SessionAttached:
			if !liveIDs[s.VmID] {
				s.State = model.SessionState{Tag: model.SessionStopped}
			}
		case model.SessionStopped, model.SessionError:
			if s.VmID != "" && liveIDs[s.VmID] {
				s.State = model.SessionState{Tag: model.SessionDetached}
			}
		}
	}

	m.persistLocked()
}

// Create builds a new session from spec, records it Creating, persists,
// then drives VM creation through the Lifecycle Manager. On success the
// session is updated with the new vm id and Detached; on failure it is
// marked Error and the error is returned to the caller (spec §4.3 "Create").
func (m *Manager) Create(ctx context.Context, spec model.VmSpec, name string, persistent bool) (model.VmSession, error) {
	id := model.NewSessionID()

	if spec.Labels == nil {
		spec.Labels = make(map[string]string)
	}
	spec.Labels["session_id"] = id
	spec.Labels["persistent"] = boolLabel(persistent)
	if name != "" {
		spec.Labels["session_name"] = name
	}

	s := &model.VmSession{
		ID:         id,
		Name:       name,
		State:      model.SessionState{Tag: model.SessionCreating},
		CreatedAt:  time.Now().UTC(),
		Persistent: persistent,
		Spec:       spec,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.persistLocked()
	m.mu.Unlock()

	inst, err := m.lifecycle.Create(ctx, spec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		s.State = model.SessionState{Tag: model.SessionError, Message: err.Error()}
		m.persistLocked()
		return model.VmSession{}, err
	}

	s.VmID = inst.ID
	s.State = model.SessionState{Tag: model.SessionDetached}
	m.persistLocked()
	return s.Clone(), nil
}

// List returns every session, no particular order guaranteed.
func (m *Manager) List() []model.VmSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.VmSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Get returns a session by id.
func (m *Manager) Get(id string) (model.VmSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.VmSession{}, verr.NewVmError("Session %s not found", id)
	}
	return s.Clone(), nil
}

// Start re-creates the VM from the session's stored spec, yielding a new vm
// id. Only permitted from Stopped or Error; from any other state it is a
// no-op that returns the session unchanged (spec §4.3 state matrix).
func (m *Manager) Start(ctx context.Context, id string) (model.VmSession, error) {
	s, err := m.mustGetLocked(id)
	if err != nil {
		return model.VmSession{}, err
	}

	if s.State.Tag != model.SessionStopped && s.State.Tag != model.SessionError {
		return s.Clone(), nil
	}

	inst, err := m.lifecycle.Create(ctx, s.Spec)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		s.State = model.SessionState{Tag: model.SessionError, Message: err.Error()}
		m.persistLocked()
		return model.VmSession{}, err
	}

	s.VmID = inst.ID
	s.State = model.SessionState{Tag: model.SessionDetached}
	m.persistLocked()
	return s.Clone(), nil
}

// Stop calls the Lifecycle Manager to stop the session's VM, logging and
// swallowing any backend error (spec §4.3: "ignores stop failures at the
// session layer"), then unconditionally marks the session Stopped. Stop is
// idempotent: calling it twice in a row is not an error.
func (m *Manager) Stop(ctx context.Context, id string) (model.VmSession, error) {
	s, err := m.mustGetLocked(id)
	if err != nil {
		return model.VmSession{}, err
	}

	if s.VmID != "" {
		if err := m.lifecycle.Stop(ctx, s.VmID); err != nil {
			m.logger.Warn("stop: backend stop failed, marking session stopped anyway", "session_id", id, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.State = model.SessionState{Tag: model.SessionStopped}
	m.persistLocked()
	return s.Clone(), nil
}

// Pause and Resume are session-layer bookkeeping only — the reference
// backend has no pause primitive (spec DESIGN NOTES "Paused state"). They
// are legal from any non-terminal state.
func (m *Manager) Pause(id string) (model.VmSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.VmSession{}, verr.NewVmError("Session %s not found", id)
	}
	switch s.State.Tag {
	case model.SessionRunning, model.SessionDetached, model.SessionPaused, model.SessionAttached:
		s.State = model.SessionState{Tag: model.SessionPaused}
		m.persistLocked()
		return s.Clone(), nil
	default:
		return model.VmSession{}, verr.NewVmError("cannot pause session %s in state %s", id, s.State.Tag)
	}
}

func (m *Manager) Resume(id string) (model.VmSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.VmSession{}, verr.NewVmError("Session %s not found", id)
	}
	if s.State.Tag != model.SessionPaused {
		return model.VmSession{}, verr.NewVmError("cannot resume session %s in state %s", id, s.State.Tag)
	}
	s.State = model.SessionState{Tag: model.SessionDetached}
	m.persistLocked()
	return s.Clone(), nil
}

// Restart stops then starts the session.
func (m *Manager) Restart(ctx context.Context, id string) (model.VmSession, error) {
	if _, err := m.Stop(ctx, id); err != nil {
		return model.VmSession{}, err
	}
	return m.Start(ctx, id)
}

// Attach requires Detached or Running, transitions to Attached{client_pid},
// records last_attached, persists, then blocks on the Lifecycle Manager's
// attach call. On return it transitions back to Detached. Concurrent
// attach to an already-Attached session fails with a *verr.VmError whose
// message is "already attached".
func (m *Manager) Attach(ctx context.Context, id string, clientPID int) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return verr.NewVmError("Session %s not found", id)
	}
	if s.State.Tag == model.SessionAttached {
		m.mu.Unlock()
		return &verr.VmError{Message: "already attached"}
	}
	if s.State.Tag != model.SessionDetached && s.State.Tag != model.SessionRunning {
		m.mu.Unlock()
		return verr.NewVmError("cannot attach session %s in state %s", id, s.State.Tag)
	}

	now := time.Now().UTC()
	s.State = model.SessionState{Tag: model.SessionAttached, ClientPID: clientPID}
	s.LastAttached = &now
	vmID := s.VmID
	m.persistLocked()
	m.mu.Unlock()

	attachErr := m.lifecycle.Attach(ctx, vmID)

	m.mu.Lock()
	s.State = model.SessionState{Tag: model.SessionDetached}
	m.persistLocked()
	m.mu.Unlock()

	return attachErr
}

// Detach unconditionally transitions the session to Detached.
func (m *Manager) Detach(id string) (model.VmSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return model.VmSession{}, verr.NewVmError("Session %s not found", id)
	}
	s.State = model.SessionState{Tag: model.SessionDetached}
	m.persistLocked()
	return s.Clone(), nil
}

// Delete removes the session from the map, persists, then best-effort
// cleans up its VM at the backend (log-warn on failure, never propagated).
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return verr.NewVmError("Session %s not found", id)
	}
	delete(m.sessions, id)
	m.persistLocked()
	m.mu.Unlock()

	if s.VmID != "" {
		if err := m.lifecycle.Cleanup(ctx, s.VmID); err != nil {
			m.logger.Warn("delete: backend cleanup failed", "session_id", id, "vm_id", s.VmID, "error", err)
		}
	}
	return nil
}

// mustGetLocked returns the live session pointer for id without holding the
// lock across the return — callers that mutate must re-acquire m.mu.
func (m *Manager) mustGetLocked(id string) (*model.VmSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, verr.NewVmError("Session %s not found", id)
	}
	return s, nil
}

// persistLocked writes the session map to disk. Per spec §4.3, a
// persistence failure never unwinds the in-memory mutation: it's logged and
// left for the next mutation to retry.
func (m *Manager) persistLocked() {
	if err := m.store.save(m.sessions); err != nil {
		m.logger.Error("failed to persist sessions", "error", err)
	}
	m.refreshMetricsLocked()
}

// refreshMetricsLocked recomputes the per-state session gauge from the
// current in-memory map. Called with m.mu held, from every mutation path via
// persistLocked, so the gauge never lags behind an RPC response.
func (m *Manager) refreshMetricsLocked() {
	counts := make(map[model.SessionStateTag]int, len(sessionStateTags))
	for _, s := range m.sessions {
		counts[s.State.Tag]++
	}
	for _, tag := range sessionStateTags {
		metrics.SetSessionsByState(string(tag), counts[tag])
	}
}

// RunGC runs the stale-session sweep every GCInterval until ctx is
// cancelled. It is meant to be launched in its own goroutine by the daemon.
func (m *Manager) RunGC(ctx context.Context) {
	ticker := time.NewTicker(GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopGC:
			return
		case <-ticker.C:
			m.sweepStale(ctx)
		}
	}
}

// StopGC stops a running RunGC loop.
func (m *Manager) StopGC() {
	close(m.stopGC)
}

// sweepStale deletes every non-persistent Detached session whose
// last_attached is older than StaleAfter, following the same best-effort
// backend-cleanup discipline as Delete.
func (m *Manager) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-StaleAfter)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.Persistent || s.State.Tag != model.SessionDetached || s.LastAttached == nil {
			continue
		}
		if s.LastAttached.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Delete(ctx, id); err != nil {
			m.logger.Warn("stale GC: delete failed", "session_id", id, "error", err)
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
