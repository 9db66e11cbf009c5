package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/logging"
)

// DefaultCoordinatorAgent is the fallback agent id consulted when selection
// finds nobody else.
const DefaultCoordinatorAgent = "coordinator"

// Options configures a Hub.
type Options struct {
	// CoordinatorAgent is the designated fallback agent id. Defaults to
	// DefaultCoordinatorAgent.
	CoordinatorAgent string

	// Repository, when set, receives a best-effort mirror of session writes.
	Repository core.Repository

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// MessageRouter is the delivery capability the hub needs for opening
// messages. The router package implements it.
type MessageRouter interface {
	Route(msg core.Message) core.DeliveryResult
}

// Hub is the agent directory and session factory. It implements
// core.Directory for the router. Safe for concurrent use; the router is
// never called while the hub lock is held.
type Hub struct {
	mu       sync.RWMutex
	agents   map[string]*core.AgentRecord
	order    []string // registration order, for deterministic fallbacks
	sessions map[string]*core.CollaborationSession

	router      MessageRouter
	events      *dispatcher
	coordinator string
	repo        core.Repository
	logger      logging.Logger
}

// New creates an empty hub.
func New(optFns ...func(o *Options)) *Hub {
	opts := Options{CoordinatorAgent: DefaultCoordinatorAgent, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		agents:      make(map[string]*core.AgentRecord),
		sessions:    make(map[string]*core.CollaborationSession),
		events:      newDispatcher(opts.Logger),
		coordinator: opts.CoordinatorAgent,
		repo:        opts.Repository,
		logger:      opts.Logger,
	}
}

// SetRouter attaches the delivery capability. Must be called before the
// first StartCollaboration that carries an initial message; the runtime does
// this during wiring.
func (h *Hub) SetRouter(r MessageRouter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

// On subscribes a handler to an event kind.
func (h *Hub) On(kind EventKind, handler Handler) { h.events.on(kind, handler) }

// NotifyMessageRouted publishes a message_routed event. The runtime wires
// this to the router's delivery observer.
func (h *Hub) NotifyMessageRouted(msg core.Message, result core.DeliveryResult) {
	h.events.emit(Event{Kind: EventMessageRouted, SessionID: msg.SessionID, AgentID: msg.FromAgent, Message: &msg, Delivery: &result})
}

// PublishLifecycle surfaces a pause or resume transition through the hub's
// event registry so all session events share one subscription point.
func (h *Hub) PublishLifecycle(kind EventKind, sessionID, reason string) {
	h.events.emit(Event{Kind: kind, SessionID: sessionID, Reason: reason})
}

// RegisterAgent adds an agent to the directory. The roster is static at
// runtime: duplicate ids are rejected and records are never deleted.
func (h *Hub) RegisterAgent(rec core.AgentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = core.AgentAvailable
	}
	if rec.MaxConcurrentSessions == 0 {
		rec.MaxConcurrentSessions = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.agents[rec.ID]; exists {
		return fmt.Errorf("agent %s already registered: %w", rec.ID, core.ErrValidation)
	}
	h.agents[rec.ID] = rec.Clone()
	h.order = append(h.order, rec.ID)
	return nil
}

// GetAgent returns a clone of the directory record.
func (h *Hub) GetAgent(id string) (*core.AgentRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.agents[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ListAvailable returns clones of every agent whose status is available, in
// registration order.
func (h *Hub) ListAvailable() []*core.AgentRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*core.AgentRecord
	for _, id := range h.order {
		if rec := h.agents[id]; rec.Available() {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Agent implements core.Directory.
func (h *Hub) Agent(id string) (*core.AgentRecord, bool) { return h.GetAgent(id) }

// Session implements core.Directory.
func (h *Hub) Session(id string) (*core.CollaborationSession, bool) { return h.GetSession(id) }

// TouchSession implements core.Directory: bumps Updated on message activity.
func (h *Hub) TouchSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		s.Updated = time.Now().UTC()
	}
}

// GetSession returns a clone of the canonical session record.
func (h *Hub) GetSession(id string) (*core.CollaborationSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// ListSessions returns clones of all sessions, optionally filtered to the
// given statuses, ordered by creation time.
func (h *Hub) ListSessions(statuses ...core.SessionStatus) []*core.CollaborationSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*core.CollaborationSession
	for _, s := range h.sessions {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if s.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// CollaborationRequest asks the hub to start a session.
type CollaborationRequest struct {
	UserID         string
	SessionType    string
	PrimaryAgent   string
	RequiredAgents []string
	ProjectName    string
	InitialMessage string
	Priority       core.Priority
	Metadata       map[string]string
}

// CollaborationResult reports the outcome of StartCollaboration. Status is
// "created" or "error"; on error no session exists and Reason explains why.
type CollaborationResult struct {
	SessionID    string
	Participants []string
	Status       string
	Reason       string
	Delivery     *core.DeliveryResult
}

// StartCollaboration selects participants, creates the session, bumps each
// selected agent's load and optionally routes the opening message. Selection
// order: required agents that are available, then the primary agent, then
// (for project sessions) complementary least-busy agents up to four, then
// the coordinator/first-available fallback.
func (h *Hub) StartCollaboration(req CollaborationRequest) CollaborationResult {
	h.mu.Lock()
	router := h.router
	selected := h.selectAgentsLocked(req)
	if len(selected) == 0 {
		h.mu.Unlock()
		h.logger.Warn("collaboration rejected: no agents selectable", "user_id", req.UserID, "type", req.SessionType)
		return CollaborationResult{Status: "error", Reason: "no suitable agents available"}
	}

	now := time.Now().UTC()
	session := &core.CollaborationSession{
		ID:           core.NewID(),
		UserID:       req.UserID,
		Participants: selected,
		Status:       core.SessionActive,
		SessionType:  req.SessionType,
		ProjectName:  req.ProjectName,
		Created:      now,
		Updated:      now,
		Metadata:     req.Metadata,
	}
	h.sessions[session.ID] = session
	for _, id := range selected {
		// Selection only picks available agents, so this cannot overflow.
		h.addSessionToAgentLocked(h.agents[id], session.ID)
	}
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	h.events.emit(Event{Kind: EventSessionCreated, SessionID: session.ID})

	result := CollaborationResult{SessionID: session.ID, Participants: snapshot.Participants, Status: "created"}
	if req.InitialMessage != "" && router != nil {
		from := req.UserID
		if from == "" {
			from = core.SystemAgent
		}
		opening := core.NewBroadcast(session.ID, from, req.InitialMessage)
		opening.Priority = req.Priority
		delivery := router.Route(opening)
		result.Delivery = &delivery
	}
	return result
}

// selectAgentsLocked implements the four-step selection policy. Caller must
// hold the write lock.
func (h *Hub) selectAgentsLocked(req CollaborationRequest) []string {
	var selected []string
	picked := map[string]struct{}{}
	add := func(id string) {
		if _, dup := picked[id]; !dup {
			picked[id] = struct{}{}
			selected = append(selected, id)
		}
	}

	for _, id := range req.RequiredAgents {
		if rec, ok := h.agents[id]; ok && rec.Available() {
			add(id)
		}
	}

	if req.PrimaryAgent != "" {
		if rec, ok := h.agents[req.PrimaryAgent]; ok && rec.Available() {
			if _, dup := picked[req.PrimaryAgent]; !dup {
				picked[req.PrimaryAgent] = struct{}{}
				selected = append([]string{req.PrimaryAgent}, selected...)
			}
		}
	}

	if req.SessionType == "project" && len(selected) < 3 {
		covered := map[string]struct{}{}
		for id := range picked {
			if rec := h.agents[id]; rec.Specialization != "" {
				covered[rec.Specialization] = struct{}{}
			}
		}
		for _, id := range h.availableByLoadLocked(picked) {
			if len(selected) >= 4 {
				break
			}
			spec := h.agents[id].Specialization
			if spec != "" {
				if _, seen := covered[spec]; seen {
					continue
				}
				covered[spec] = struct{}{}
			}
			add(id)
		}
	}

	if len(selected) == 0 {
		if rec, ok := h.agents[h.coordinator]; ok && rec.Available() {
			add(h.coordinator)
		} else {
			for _, id := range h.order {
				if h.agents[id].Available() {
					add(id)
					break
				}
			}
		}
	}
	return selected
}

// availableByLoadLocked returns available, unpicked agents sorted least busy
// first (stable, so registration order breaks ties).
func (h *Hub) availableByLoadLocked(picked map[string]struct{}) []string {
	var candidates []string
	for _, id := range h.order {
		if _, dup := picked[id]; dup || !h.agents[id].Available() {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(h.agents[candidates[i]].CurrentSessions) < len(h.agents[candidates[j]].CurrentSessions)
	})
	return candidates
}

// addSessionToAgentLocked increments the agent's load, flipping it to busy
// at capacity.
func (h *Hub) addSessionToAgentLocked(rec *core.AgentRecord, sessionID string) {
	rec.CurrentSessions = append(rec.CurrentSessions, sessionID)
	if rec.AtCapacity() {
		rec.Status = core.AgentBusy
	}
}

// releaseAgentLocked removes the session from the agent's load, flipping a
// busy agent back to available once below capacity. Offline agents stay
// offline.
func (h *Hub) releaseAgentLocked(rec *core.AgentRecord, sessionID string) {
	for i, id := range rec.CurrentSessions {
		if id == sessionID {
			rec.CurrentSessions = append(rec.CurrentSessions[:i], rec.CurrentSessions[i+1:]...)
			break
		}
	}
	if rec.Status == core.AgentBusy && !rec.AtCapacity() {
		rec.Status = core.AgentAvailable
	}
}

// JoinSession adds an agent to a session, enforcing the agent's concurrency
// limit. The hub-level participant list is the single source of truth; the
// lifecycle layer adds its own policy checks on top.
func (h *Hub) JoinSession(sessionID, agentID string) error {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if session.Status.Terminal() {
		h.mu.Unlock()
		return &core.StateTransitionError{SessionID: sessionID, Current: string(session.Status), Attempted: "join"}
	}
	rec, ok := h.agents[agentID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, core.ErrNotFound)
	}
	if session.HasParticipant(agentID) {
		h.mu.Unlock()
		return fmt.Errorf("agent %s already in session %s: %w", agentID, sessionID, core.ErrValidation)
	}
	if rec.AtCapacity() {
		h.mu.Unlock()
		return fmt.Errorf("agent %s at max concurrent sessions (%d): %w", agentID, rec.MaxConcurrentSessions, core.ErrCapacity)
	}
	session.Participants = append(session.Participants, agentID)
	session.Updated = time.Now().UTC()
	h.addSessionToAgentLocked(rec, sessionID)
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	h.events.emit(Event{Kind: EventAgentJoined, SessionID: sessionID, AgentID: agentID})
	return nil
}

// LeaveSession removes an agent from a session and frees its load slot.
func (h *Hub) LeaveSession(sessionID, agentID string) error {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if !session.HasParticipant(agentID) {
		h.mu.Unlock()
		return fmt.Errorf("agent %s not in session %s: %w", agentID, sessionID, core.ErrNotFound)
	}
	for i, id := range session.Participants {
		if id == agentID {
			session.Participants = append(session.Participants[:i], session.Participants[i+1:]...)
			break
		}
	}
	session.Updated = time.Now().UTC()
	if rec, ok := h.agents[agentID]; ok {
		h.releaseAgentLocked(rec, sessionID)
	}
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	h.events.emit(Event{Kind: EventAgentLeft, SessionID: sessionID, AgentID: agentID})
	return nil
}

// SetSessionStatus moves the hub-level status between active and paused.
// Terminal moves go through CompleteSession.
func (h *Hub) SetSessionStatus(sessionID string, status core.SessionStatus) error {
	if status.Terminal() {
		return fmt.Errorf("use CompleteSession for terminal states: %w", core.ErrValidation)
	}
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if session.Status.Terminal() {
		h.mu.Unlock()
		return &core.StateTransitionError{SessionID: sessionID, Current: string(session.Status), Attempted: string(status)}
	}
	session.Status = status
	session.Updated = time.Now().UTC()
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	return nil
}

// CompleteSession finishes a session, freeing every participant's load slot.
// The record is retained for history. Repeat calls leave state unchanged and
// free nothing, but still publish the completion event; the boolean reports
// whether this call changed state.
func (h *Hub) CompleteSession(sessionID, reason string) bool {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if session.Status.Terminal() {
		h.mu.Unlock()
		h.events.emit(Event{Kind: EventSessionCompleted, SessionID: sessionID, Reason: reason})
		return false
	}
	now := time.Now().UTC()
	session.Status = core.SessionCompleted
	session.Updated = now
	session.Completed = &now
	for _, id := range session.Participants {
		if rec, ok := h.agents[id]; ok {
			h.releaseAgentLocked(rec, sessionID)
		}
	}
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	h.events.emit(Event{Kind: EventSessionCompleted, SessionID: sessionID, Reason: reason})
	return true
}

// CancelSession aborts a session; like completion it frees load slots and
// retains the record.
func (h *Hub) CancelSession(sessionID, reason string) bool {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if !ok || session.Status.Terminal() {
		h.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	session.Status = core.SessionCancelled
	session.Updated = now
	session.Completed = &now
	for _, id := range session.Participants {
		if rec, ok := h.agents[id]; ok {
			h.releaseAgentLocked(rec, sessionID)
		}
	}
	snapshot := session.Clone()
	h.mu.Unlock()

	h.mirrorSession(snapshot)
	h.events.emit(Event{Kind: EventSessionCompleted, SessionID: sessionID, Reason: reason})
	return true
}

// mirrorSession persists a best-effort session snapshot through the
// optional repository.
func (h *Hub) mirrorSession(session *core.CollaborationSession) {
	if h.repo == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		h.logger.Warn("session mirror: marshal failed", "session_id", session.ID, "error", err.Error())
		return
	}
	rec := core.Record{Kind: core.RecordSession, ID: session.ID, Data: data, UpdatedAt: time.Now().UTC()}
	if err := h.repo.Save(context.Background(), rec); err != nil {
		h.logger.Warn("session mirror: save failed", "session_id", session.ID, "error", err.Error())
	}
}
