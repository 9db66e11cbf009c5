package core

import (
	"fmt"
	"time"
)

// ContextType classifies what kind of fact a context entry records.
type ContextType string

const (
	// ContextConversation is a message exchanged between agents.
	ContextConversation ContextType = "conversation"
	// ContextTask is a work item or progress note.
	ContextTask ContextType = "task"
	// ContextKnowledge is a durable fact shared across agents.
	ContextKnowledge ContextType = "knowledge"
	// ContextPreference is a user or agent preference.
	ContextPreference ContextType = "preference"
	// ContextState is transient operational state.
	ContextState ContextType = "state"
)

func (t ContextType) valid() bool {
	switch t {
	case ContextConversation, ContextTask, ContextKnowledge, ContextPreference, ContextState:
		return true
	}
	return false
}

// ContextPriority orders query results. Higher values sort first.
type ContextPriority int

const (
	// ContextLow is background detail.
	ContextLow ContextPriority = iota
	// ContextMedium is the default.
	ContextMedium
	// ContextHigh is important for most consumers.
	ContextHigh
	// ContextCritical must surface in every summary.
	ContextCritical
)

// String returns the wire name of the priority.
func (p ContextPriority) String() string {
	switch p {
	case ContextLow:
		return "low"
	case ContextMedium:
		return "medium"
	case ContextHigh:
		return "high"
	case ContextCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ContextEntry is a single timestamped, typed, taggable fact stored and
// indexed for later retrieval. Entries with ExpiresAt in the past are never
// returned by queries and are eventually purged by the sweep.
type ContextEntry struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id"`
	Type      ContextType     `json:"type"`
	Key       string          `json:"key"`
	Value     Payload         `json:"value"`
	Priority  ContextPriority `json:"priority"`
	Tags      []string        `json:"tags,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the entry's expiry has passed at 'now'.
func (e ContextEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Validate checks the fields required before storage.
func (e ContextEntry) Validate() error {
	if e.SessionID == "" {
		return wrapValidation("context entry session_id is required")
	}
	if e.AgentID == "" {
		return wrapValidation("context entry agent_id is required")
	}
	if !e.Type.valid() {
		return wrapValidation(fmt.Sprintf("unknown context type %q", e.Type))
	}
	if e.Key == "" {
		return wrapValidation("context entry key is required")
	}
	if e.Value == nil {
		return wrapValidation("context entry value is required")
	}
	return ValidatePayload(e.Value)
}

// Clone returns a deep copy of the entry.
func (e ContextEntry) Clone() ContextEntry {
	clone := e
	clone.Tags = append([]string(nil), e.Tags...)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		clone.ExpiresAt = &t
	}
	return clone
}

// GoalStatus is the lifecycle of a goal within a session.
type GoalStatus string

const (
	// GoalPending is not yet started.
	GoalPending GoalStatus = "pending"
	// GoalActive is in progress.
	GoalActive GoalStatus = "active"
	// GoalCompleted is done.
	GoalCompleted GoalStatus = "completed"
	// GoalBlocked is waiting on something.
	GoalBlocked GoalStatus = "blocked"
)

// Goal is a tracked objective within a session, upserted by id.
type Goal struct {
	ID            string          `json:"id"`
	Description   string          `json:"description"`
	AssignedAgent string          `json:"assigned_agent,omitempty"`
	Status        GoalStatus      `json:"status"`
	Priority      ContextPriority `json:"priority"`
}

// ConversationContext is the per-session aggregate folded from context
// entries: participants, a bounded conversation history (oldest dropped
// first once the configured cap is reached, a lossy policy), shared
// knowledge and the goal list.
type ConversationContext struct {
	SessionID       string            `json:"session_id"`
	Participants    []string          `json:"participants"`
	History         []ContextEntry    `json:"history"`
	SharedKnowledge map[string]string `json:"shared_knowledge"`
	Goals           []Goal            `json:"goals"`
	Updated         time.Time         `json:"updated"`
}

// NewConversationContext creates an empty aggregate for a session.
func NewConversationContext(sessionID string) *ConversationContext {
	return &ConversationContext{
		SessionID:       sessionID,
		Participants:    []string{},
		History:         []ContextEntry{},
		SharedKnowledge: map[string]string{},
		Goals:           []Goal{},
		Updated:         time.Now().UTC(),
	}
}

// Clone returns a deep copy safe for independent mutation.
func (c *ConversationContext) Clone() *ConversationContext {
	clone := &ConversationContext{
		SessionID:       c.SessionID,
		Participants:    append([]string(nil), c.Participants...),
		History:         make([]ContextEntry, len(c.History)),
		SharedKnowledge: make(map[string]string, len(c.SharedKnowledge)),
		Goals:           append([]Goal(nil), c.Goals...),
		Updated:         c.Updated,
	}
	for i, e := range c.History {
		clone.History[i] = e.Clone()
	}
	for k, v := range c.SharedKnowledge {
		clone.SharedKnowledge[k] = v
	}
	return clone
}

// ContextFilter selects entries for a query. Zero-valued fields impose no
// constraint; supplied fields are intersected.
type ContextFilter struct {
	SessionID  string
	AgentID    string
	Types      []ContextType
	Tags       []string
	Keys       []string
	Priorities []ContextPriority
	Since      time.Time
	Until      time.Time
	Limit      int
}

// ContextSummary aggregates a session's context for handover to the
// content-generation collaborator or an operator.
type ContextSummary struct {
	SessionID      string   `json:"session_id"`
	ActiveAgents   []string `json:"active_agents"`
	TopTags        []string `json:"top_tags"`
	KeyInsights    []string `json:"key_insights"`
	GoalsTotal     int      `json:"goals_total"`
	GoalsCompleted int      `json:"goals_completed"`
}
