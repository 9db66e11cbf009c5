package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/collabhub/contextstore"
	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/hub"
	"github.com/hupe1980/collabhub/logging"
	"github.com/hupe1980/collabhub/router"
)

// DefaultCheckpointLimit caps a session's checkpoint history when no limit
// is configured. Oldest checkpoints are dropped first.
const DefaultCheckpointLimit = 10

// Config configures a Manager.
type Config struct {
	// CheckpointLimit bounds each session's checkpoint history. Zero means
	// DefaultCheckpointLimit.
	CheckpointLimit int

	// OnCheckpointEvict, when set, is invoked with each checkpoint dropped
	// by the cap before it is discarded.
	OnCheckpointEvict func(sessionID string, dropped Checkpoint)

	// Repository, when set, receives a best-effort mirror of checkpoint
	// writes.
	Repository core.Repository

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Manager is the session lifecycle manager. Safe for concurrent use; hub and
// router calls are made outside the manager lock.
type Manager struct {
	mu        sync.RWMutex
	states    map[string]*SessionState
	templates map[string]Template

	hub      *hub.Hub
	router   *router.Router
	contexts *contextstore.Store

	checkpointLimit int
	onEvict         func(string, Checkpoint)
	repo            core.Repository
	logger          logging.Logger
}

// New creates a Manager on top of the hub, router and context store.
func New(h *hub.Hub, r *router.Router, cs *contextstore.Store, cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	limit := cfg.CheckpointLimit
	if limit <= 0 {
		limit = DefaultCheckpointLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{
		states:          make(map[string]*SessionState),
		templates:       make(map[string]Template),
		hub:             h,
		router:          r,
		contexts:        cs,
		checkpointLimit: limit,
		onEvict:         cfg.OnCheckpointEvict,
		repo:            cfg.Repository,
		logger:          logger,
	}
}

// RegisterTemplate adds (or replaces) a named session template.
func (m *Manager) RegisterTemplate(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required: %w", core.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.Name] = t
	return nil
}

// Template returns a registered template by name.
func (m *Manager) Template(name string) (Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[name]
	return t, ok
}

// resolveConfig merges template defaults into the zero-valued fields of the
// supplied config and unions the required agent lists.
func (m *Manager) resolveConfig(cfg SessionConfig) (SessionConfig, Template, error) {
	if cfg.Template == "" {
		return cfg, Template{}, nil
	}
	m.mu.RLock()
	tpl, ok := m.templates[cfg.Template]
	m.mu.RUnlock()
	if !ok {
		return cfg, Template{}, fmt.Errorf("template %s: %w", cfg.Template, core.ErrNotFound)
	}

	d := tpl.Defaults
	if cfg.SessionType == "" {
		cfg.SessionType = d.SessionType
	}
	if cfg.PrimaryAgent == "" {
		cfg.PrimaryAgent = d.PrimaryAgent
	}
	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = d.MaxParticipants
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = d.MaxDuration
	}
	if cfg.AutoArchiveAfter == 0 {
		cfg.AutoArchiveAfter = d.AutoArchiveAfter
	}
	if !cfg.AllowDynamicJoining {
		cfg.AllowDynamicJoining = d.AllowDynamicJoining
	}
	if cfg.OpeningMessage == "" {
		cfg.OpeningMessage = tpl.OpeningMessage
	}
	seen := map[string]struct{}{}
	var required []string
	for _, id := range append(append([]string{}, tpl.RequiredAgents...), cfg.RequiredAgents...) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			required = append(required, id)
		}
	}
	cfg.RequiredAgents = required
	return cfg, tpl, nil
}

// CreateSession resolves the template, validates required agents against
// their concurrency limits, delegates session creation to the hub, seeds the
// manager state plus an initial checkpoint, seeds workflow goals into the
// context store and sends the template's opening broadcast if one exists.
func (m *Manager) CreateSession(cfg SessionConfig) (*SessionState, error) {
	cfg, tpl, err := m.resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	for _, id := range cfg.RequiredAgents {
		rec, ok := m.hub.GetAgent(id)
		if !ok {
			return nil, fmt.Errorf("required agent %s: %w", id, core.ErrNotFound)
		}
		if rec.AtCapacity() {
			return nil, fmt.Errorf("required agent %s at max concurrent sessions (%d): %w", id, rec.MaxConcurrentSessions, core.ErrCapacity)
		}
	}
	if cfg.MaxParticipants > 0 && len(cfg.RequiredAgents) > cfg.MaxParticipants {
		return nil, fmt.Errorf("%d required agents exceed max participants %d: %w", len(cfg.RequiredAgents), cfg.MaxParticipants, core.ErrCapacity)
	}

	res := m.hub.StartCollaboration(hub.CollaborationRequest{
		UserID:         cfg.UserID,
		SessionType:    cfg.SessionType,
		PrimaryAgent:   cfg.PrimaryAgent,
		RequiredAgents: cfg.RequiredAgents,
		ProjectName:    cfg.ProjectName,
		Metadata:       cfg.Metadata,
	})
	if res.Status != "created" {
		return nil, fmt.Errorf("collaboration rejected: %s: %w", res.Reason, core.ErrValidation)
	}

	now := time.Now().UTC()
	state := &SessionState{
		SessionID:    res.SessionID,
		Status:       StatusInitializing,
		Template:     cfg.Template,
		Config:       cfg,
		Created:      now,
		LastActivity: now,
	}
	m.mu.Lock()
	m.states[state.SessionID] = state
	m.mu.Unlock()

	m.seedWorkflowGoals(res.SessionID, tpl)

	if err := m.transition(res.SessionID, StatusActive, "session initialized"); err != nil {
		return nil, err
	}
	if _, err := m.CreateCheckpoint(res.SessionID, "session created"); err != nil {
		m.logger.Warn("initial checkpoint failed", "session_id", res.SessionID, "error", err.Error())
	}
	if cfg.OpeningMessage != "" {
		m.router.Broadcast(core.NewSystemNotice(res.SessionID, cfg.OpeningMessage, nil))
	}
	return m.State(res.SessionID)
}

// seedWorkflowGoals records each template workflow step as a pending goal.
func (m *Manager) seedWorkflowGoals(sessionID string, tpl Template) {
	for _, step := range tpl.Workflow {
		entry := core.ContextEntry{
			SessionID: sessionID,
			AgentID:   core.SystemAgent,
			Type:      core.ContextTask,
			Key:       "workflow:" + step.ID,
			Value: core.GoalUpdate{Goal: core.Goal{
				ID:            step.ID,
				Description:   step.Description,
				AssignedAgent: step.AssignedAgent,
				Status:        core.GoalPending,
				Priority:      step.Priority,
			}},
			Priority: step.Priority,
			Tags:     []string{"workflow"},
		}
		if _, err := m.contexts.Put(entry); err != nil {
			m.logger.Warn("workflow goal not seeded", "session_id", sessionID, "step", step.ID, "error", err.Error())
		}
	}
}

// State returns a clone of the manager-level state for a session.
func (m *Manager) State(sessionID string) (*SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	return state.Clone(), nil
}

// transition performs a guarded state move, recording it in the log. The
// hub-level status is kept in step outside the manager lock.
func (m *Manager) transition(sessionID string, to Status, reason string) error {
	m.mu.Lock()
	state, ok := m.states[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	from := state.Status
	if !canTransition(from, to) {
		m.mu.Unlock()
		return &core.StateTransitionError{SessionID: sessionID, Current: string(from), Attempted: string(to)}
	}
	state.Status = to
	state.LastActivity = time.Now().UTC()
	if to == StatusCompleted || to == StatusFailed {
		now := time.Now().UTC()
		state.Completed = &now
	}
	m.mu.Unlock()

	if lg, ok := m.logger.(*logging.RuntimeLogger); ok {
		lg.LogTransition(sessionID, string(from), string(to), reason)
	} else {
		m.logger.Info("session transition", "session_id", sessionID, "from", string(from), "to", string(to))
	}

	switch to {
	case StatusPaused:
		if err := m.hub.SetSessionStatus(sessionID, core.SessionPaused); err != nil {
			m.logger.Warn("hub status not synced", "session_id", sessionID, "error", err.Error())
		}
		m.hub.PublishLifecycle(hub.EventSessionPaused, sessionID, reason)
	case StatusActive:
		if from == StatusPaused {
			if err := m.hub.SetSessionStatus(sessionID, core.SessionActive); err != nil {
				m.logger.Warn("hub status not synced", "session_id", sessionID, "error", err.Error())
			}
			m.hub.PublishLifecycle(hub.EventSessionResumed, sessionID, reason)
		}
	case StatusCompleted:
		m.hub.CompleteSession(sessionID, reason)
	case StatusFailed:
		m.hub.CancelSession(sessionID, reason)
	}
	return nil
}

// notice broadcasts a system-authored message describing a transition, then
// snapshots a checkpoint.
func (m *Manager) noticeAndCheckpoint(sessionID, text, description string, payload core.Payload) {
	m.router.Broadcast(core.NewSystemNotice(sessionID, text, payload))
	if _, err := m.CreateCheckpoint(sessionID, description); err != nil {
		m.logger.Warn("checkpoint failed", "session_id", sessionID, "error", err.Error())
	}
}

// Pause suspends an active session.
func (m *Manager) Pause(sessionID, reason string) error {
	if err := m.transition(sessionID, StatusPaused, reason); err != nil {
		return err
	}
	m.noticeAndCheckpoint(sessionID, fmt.Sprintf("session paused: %s", reason), "paused", nil)
	return nil
}

// Resume reactivates a paused session.
func (m *Manager) Resume(sessionID, reason string) error {
	m.mu.RLock()
	state, ok := m.states[sessionID]
	var current Status
	if ok {
		current = state.Status
	}
	m.mu.RUnlock()
	if ok && current != StatusPaused {
		return &core.StateTransitionError{SessionID: sessionID, Current: string(current), Attempted: string(StatusActive)}
	}
	if err := m.transition(sessionID, StatusActive, reason); err != nil {
		return err
	}
	m.noticeAndCheckpoint(sessionID, fmt.Sprintf("session resumed: %s", reason), "resumed", nil)
	return nil
}

// Complete finishes an active or paused session.
func (m *Manager) Complete(sessionID, reason string) error {
	if err := m.transition(sessionID, StatusCompleted, reason); err != nil {
		return err
	}
	m.noticeAndCheckpoint(sessionID, fmt.Sprintf("session completed: %s", reason), "completed", nil)
	return nil
}

// Fail marks a session as ended abnormally.
func (m *Manager) Fail(sessionID, reason string) error {
	if err := m.transition(sessionID, StatusFailed, reason); err != nil {
		return err
	}
	m.noticeAndCheckpoint(sessionID, fmt.Sprintf("session failed: %s", reason), "failed", nil)
	return nil
}

// Archive moves a completed or failed session out of the working set.
func (m *Manager) Archive(sessionID, reason string) error {
	return m.transition(sessionID, StatusArchived, reason)
}

// Join adds an agent to a managed session, enforcing the dynamic-joining
// policy and the participant cap before delegating participant truth to the
// hub.
func (m *Manager) Join(sessionID, agentID string) error {
	m.mu.RLock()
	state, ok := m.states[sessionID]
	var cfg SessionConfig
	var status Status
	if ok {
		cfg = state.Config
		status = state.Status
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if status != StatusActive && status != StatusPaused {
		return &core.StateTransitionError{SessionID: sessionID, Current: string(status), Attempted: "join"}
	}
	if !cfg.AllowDynamicJoining {
		return fmt.Errorf("session %s does not allow dynamic joining: %w", sessionID, core.ErrValidation)
	}
	if cfg.MaxParticipants > 0 {
		if session, ok := m.hub.GetSession(sessionID); ok && len(session.Participants) >= cfg.MaxParticipants {
			return fmt.Errorf("session %s at max participants (%d): %w", sessionID, cfg.MaxParticipants, core.ErrCapacity)
		}
	}
	if err := m.hub.JoinSession(sessionID, agentID); err != nil {
		return err
	}
	m.noteActivity(sessionID)
	m.noticeAndCheckpoint(sessionID,
		fmt.Sprintf("agent %s joined the session", agentID),
		fmt.Sprintf("agent %s joined", agentID),
		core.JoinNotice{AgentID: agentID})
	return nil
}

// Leave removes an agent from a managed session. When the last participant
// leaves, the session auto-pauses.
func (m *Manager) Leave(sessionID, agentID string) error {
	m.mu.RLock()
	_, ok := m.states[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if err := m.hub.LeaveSession(sessionID, agentID); err != nil {
		return err
	}
	m.noteActivity(sessionID)
	m.noticeAndCheckpoint(sessionID,
		fmt.Sprintf("agent %s left the session", agentID),
		fmt.Sprintf("agent %s left", agentID),
		core.LeaveNotice{AgentID: agentID})

	if session, ok := m.hub.GetSession(sessionID); ok && len(session.Participants) == 0 {
		if err := m.Pause(sessionID, "last participant left"); err != nil {
			m.logger.Warn("auto-pause failed", "session_id", sessionID, "error", err.Error())
		}
	}
	return nil
}

// CreateCheckpoint snapshots the current state plus the session's
// conversation context. The checkpoint list is capped; the oldest entry is
// handed to the eviction callback before being dropped.
func (m *Manager) CreateCheckpoint(sessionID, description string) (string, error) {
	m.mu.Lock()
	state, ok := m.states[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	cp := Checkpoint{
		ID:          core.NewID(),
		SessionID:   sessionID,
		Description: description,
		State:       state.snapshot(),
		Created:     time.Now().UTC(),
	}
	if conv, ok := m.contexts.Conversation(sessionID); ok {
		cp.Context = conv
	}
	state.Checkpoints = append(state.Checkpoints, cp)
	var evicted []Checkpoint
	for len(state.Checkpoints) > m.checkpointLimit {
		evicted = append(evicted, state.Checkpoints[0])
		state.Checkpoints = state.Checkpoints[1:]
	}
	m.mu.Unlock()

	for _, dropped := range evicted {
		if m.onEvict != nil {
			m.onEvict(sessionID, dropped)
		}
	}
	m.mirrorCheckpoint(cp)
	return cp.ID, nil
}

// Checkpoints returns a copy of the session's checkpoint history, oldest
// first.
func (m *Manager) Checkpoints(sessionID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	out := make([]Checkpoint, len(state.Checkpoints))
	copy(out, state.Checkpoints)
	return out, nil
}

// RestoreFromCheckpoint replaces the session's state wholesale with the
// checkpoint's snapshot (the checkpoint history itself is kept) and
// broadcasts a restoration notice. Mailbox contents are not resurrected.
func (m *Manager) RestoreFromCheckpoint(sessionID, checkpointID string) error {
	m.mu.Lock()
	state, ok := m.states[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	var found *Checkpoint
	for i := range state.Checkpoints {
		if state.Checkpoints[i].ID == checkpointID {
			found = &state.Checkpoints[i]
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return fmt.Errorf("checkpoint %s: %w", checkpointID, core.ErrNotFound)
	}
	restored := found.State
	restored.Checkpoints = state.Checkpoints
	*state = restored
	m.mu.Unlock()

	switch restored.Status {
	case StatusActive:
		if err := m.hub.SetSessionStatus(sessionID, core.SessionActive); err != nil {
			m.logger.Warn("hub status not synced", "session_id", sessionID, "error", err.Error())
		}
	case StatusPaused:
		if err := m.hub.SetSessionStatus(sessionID, core.SessionPaused); err != nil {
			m.logger.Warn("hub status not synced", "session_id", sessionID, "error", err.Error())
		}
	}
	m.router.Broadcast(core.NewSystemNotice(sessionID, fmt.Sprintf("session restored from checkpoint %s", checkpointID), nil))
	return nil
}

// NoteActivity bumps the session's LastActivity and message counter. The
// runtime wires this to message_routed events.
func (m *Manager) NoteActivity(sessionID string) {
	m.mu.Lock()
	if state, ok := m.states[sessionID]; ok {
		state.LastActivity = time.Now().UTC()
		state.Metrics.MessagesExchanged++
	}
	m.mu.Unlock()
}

func (m *Manager) noteActivity(sessionID string) {
	m.mu.Lock()
	if state, ok := m.states[sessionID]; ok {
		state.LastActivity = time.Now().UTC()
	}
	m.mu.Unlock()
}

// RecordHandoff updates the rolling handoff counters.
func (m *Manager) RecordHandoff(sessionID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sessionID]
	if !ok {
		return
	}
	if success {
		state.Metrics.HandoffSuccesses++
	} else {
		state.Metrics.HandoffFailures++
	}
}

// RecordResponseTime folds a response latency sample into the rolling
// average.
func (m *Manager) RecordResponseTime(sessionID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sessionID]
	if !ok {
		return
	}
	n := state.Metrics.ResponseSamples
	state.Metrics.AvgResponseTime = (state.Metrics.AvgResponseTime*time.Duration(n) + d) / time.Duration(n+1)
	state.Metrics.ResponseSamples = n + 1
}

// SweepIdle is the janitor: sessions whose inactivity exceeds MaxDuration
// are completed (reason timeout) and archived; completed or failed sessions
// older than AutoArchiveAfter are archived. Returns the number of sessions
// archived. Safe to run concurrently with normal traffic.
func (m *Manager) SweepIdle() int {
	start := time.Now()
	type move struct {
		id       string
		complete bool
	}
	var moves []move
	m.mu.RLock()
	for id, state := range m.states {
		switch state.Status {
		case StatusActive, StatusPaused:
			if state.Config.MaxDuration > 0 && start.Sub(state.LastActivity) > state.Config.MaxDuration {
				moves = append(moves, move{id: id, complete: true})
			}
		case StatusCompleted, StatusFailed:
			if state.Config.AutoArchiveAfter > 0 && state.Completed != nil && start.Sub(*state.Completed) > state.Config.AutoArchiveAfter {
				moves = append(moves, move{id: id})
			}
		}
	}
	m.mu.RUnlock()

	archived := 0
	for _, mv := range moves {
		if mv.complete {
			if err := m.transition(mv.id, StatusCompleted, "exceeded max duration"); err != nil {
				continue
			}
		}
		if err := m.transition(mv.id, StatusArchived, "janitor sweep"); err == nil {
			archived++
		}
	}

	if lg, ok := m.logger.(*logging.RuntimeLogger); ok {
		lg.LogSweep("session_janitor", archived, time.Since(start))
	}
	return archived
}

// mirrorCheckpoint persists a best-effort checkpoint copy through the
// optional repository.
func (m *Manager) mirrorCheckpoint(cp Checkpoint) {
	if m.repo == nil {
		return
	}
	data, err := json.Marshal(cp)
	if err != nil {
		m.logger.Warn("checkpoint mirror: marshal failed", "checkpoint_id", cp.ID, "error", err.Error())
		return
	}
	rec := core.Record{Kind: core.RecordCheckpoint, ID: cp.ID, Data: data, UpdatedAt: time.Now().UTC()}
	if err := m.repo.Save(context.Background(), rec); err != nil {
		m.logger.Warn("checkpoint mirror: save failed", "checkpoint_id", cp.ID, "error", err.Error())
	}
}
