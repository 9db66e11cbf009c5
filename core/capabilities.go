package core

import (
	"context"
	"time"
)

// Directory is the agent/session lookup capability the router depends on.
// The hub implements it; lookups return defensive clones.
type Directory interface {
	// Agent returns the directory record for an agent id.
	Agent(id string) (*AgentRecord, bool)
	// Session returns the canonical session record.
	Session(id string) (*CollaborationSession, bool)
	// TouchSession bumps the session's Updated timestamp on message activity.
	TouchSession(id string)
}

// RecordKind names the entity families persisted through a Repository.
type RecordKind string

const (
	// RecordSession is a CollaborationSession snapshot.
	RecordSession RecordKind = "session"
	// RecordContextEntry is a ContextEntry snapshot.
	RecordContextEntry RecordKind = "context_entry"
	// RecordConversation is a ConversationContext snapshot.
	RecordConversation RecordKind = "conversation"
	// RecordCheckpoint is a lifecycle checkpoint snapshot.
	RecordCheckpoint RecordKind = "checkpoint"
)

// Record is the persistence envelope: a kind/id key and a JSON document.
// Serialization happens at the call site so repositories stay schema-free.
type Record struct {
	Kind      RecordKind `json:"kind"`
	ID        string     `json:"id"`
	Data      []byte     `json:"data"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RecordFilter selects records for a Query. Zero-valued fields impose no
// constraint.
type RecordFilter struct {
	Kind         RecordKind
	IDs          []string
	UpdatedAfter time.Time
	Limit        int
}

// Repository is the optional pluggable persistence backend. When injected,
// the hub, context store and lifecycle manager mirror their writes through
// it; when absent the runtime is purely volatile.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, kind RecordKind, id string) (*Record, error)
	Query(ctx context.Context, f RecordFilter) ([]Record, error)
	Delete(ctx context.Context, kind RecordKind, id string) error
}

// MessageContext carries the session context handed to the content-generation
// collaborator alongside a prompt.
type MessageContext struct {
	SessionID       string            `json:"session_id"`
	FromAgent       string            `json:"from_agent"`
	Summary         *ContextSummary   `json:"summary,omitempty"`
	RecentHistory   []ContextEntry    `json:"recent_history,omitempty"`
	SharedKnowledge map[string]string `json:"shared_knowledge,omitempty"`
}

// CollaborationRequestHint is a collaborator suggestion to pull another agent
// into the session. The runtime validates the target before acting on it.
type CollaborationRequestHint struct {
	TargetAgent string `json:"target_agent"`
	Reason      string `json:"reason,omitempty"`
}

// FollowUpTask is a collaborator-suggested future work item.
type FollowUpTask struct {
	Description   string `json:"description"`
	AssignedAgent string `json:"assigned_agent,omitempty"`
}

// GenerateResult is the collaborator's reply. The runtime reads Content,
// Priority and TargetAgent; everything else is passed to the event sink or
// skipped (with a log line) when it fails validation.
type GenerateResult struct {
	Content               string                     `json:"content"`
	Confidence            float64                    `json:"confidence,omitempty"`
	SuggestedActions      []string                   `json:"suggested_actions,omitempty"`
	CollaborationRequests []CollaborationRequestHint `json:"collaboration_requests,omitempty"`
	FollowUpTasks         []FollowUpTask             `json:"follow_up_tasks,omitempty"`
	Priority              string                     `json:"priority,omitempty"`
	TargetAgent           string                     `json:"target_agent,omitempty"`
}

// Generator is the opaque content-generation collaborator. Implementations
// live outside the runtime core; generate/anthropic and generate/openai ship
// ready-made adapters.
type Generator interface {
	Generate(ctx context.Context, prompt string, mc MessageContext) (*GenerateResult, error)
}
