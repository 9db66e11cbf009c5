package lifecycle

import (
	"time"

	"github.com/hupe1980/collabhub/core"
)

// Status is the manager-level session state. It is richer than the hub's
// four-state lifecycle and the two are kept in step by the manager.
type Status string

const (
	// StatusInitializing means the session is being set up.
	StatusInitializing Status = "initializing"
	// StatusActive means the session is running.
	StatusActive Status = "active"
	// StatusPaused means the session is suspended but resumable.
	StatusPaused Status = "paused"
	// StatusCompleted means the session finished normally.
	StatusCompleted Status = "completed"
	// StatusFailed means the session ended abnormally.
	StatusFailed Status = "failed"
	// StatusArchived means the session left the working set.
	StatusArchived Status = "archived"
)

// transitions is the legal state machine. Violating it is a reported error,
// never a silent no-op.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusActive, StatusFailed},
	StatusActive:       {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused:       {StatusActive, StatusCompleted, StatusFailed},
	StatusCompleted:    {StatusArchived},
	StatusFailed:       {StatusArchived},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Metrics are rolling per-session counters.
type Metrics struct {
	MessagesExchanged int           `json:"messages_exchanged"`
	CompletedTasks    int           `json:"completed_tasks"`
	PendingTasks      int           `json:"pending_tasks"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	ResponseSamples   int           `json:"response_samples"`
	HandoffSuccesses  int           `json:"handoff_successes"`
	HandoffFailures   int           `json:"handoff_failures"`
}

// SessionConfig is the operator-supplied configuration for a managed
// session. Template defaults fill any zero-valued field.
type SessionConfig struct {
	Template            string            `json:"template,omitempty"`
	UserID              string            `json:"user_id"`
	SessionType         string            `json:"session_type"`
	RequiredAgents      []string          `json:"required_agents,omitempty"`
	PrimaryAgent        string            `json:"primary_agent,omitempty"`
	ProjectName         string            `json:"project_name,omitempty"`
	AllowDynamicJoining bool              `json:"allow_dynamic_joining"`
	MaxParticipants     int               `json:"max_participants,omitempty"`
	MaxDuration         time.Duration     `json:"max_duration,omitempty"`
	AutoArchiveAfter    time.Duration     `json:"auto_archive_after,omitempty"`
	OpeningMessage      string            `json:"opening_message,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// WorkflowStep is one ordered step of a template workflow. Steps are seeded
// into the context store as goals when the session starts.
type WorkflowStep struct {
	ID            string               `json:"id"`
	Description   string               `json:"description"`
	AssignedAgent string               `json:"assigned_agent,omitempty"`
	DependsOn     []string             `json:"depends_on,omitempty"`
	Priority      core.ContextPriority `json:"priority"`
}

// Template is a named bundle of agents, defaults and an optional workflow.
type Template struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	RequiredAgents []string       `json:"required_agents,omitempty"`
	OptionalAgents []string       `json:"optional_agents,omitempty"`
	Defaults       SessionConfig  `json:"defaults"`
	Workflow       []WorkflowStep `json:"workflow,omitempty"`
	OpeningMessage string         `json:"opening_message,omitempty"`
}

// SessionState is the manager's view of one session: state machine position,
// configuration, rolling metrics and the bounded checkpoint history.
type SessionState struct {
	SessionID    string        `json:"session_id"`
	Status       Status        `json:"status"`
	Template     string        `json:"template,omitempty"`
	Config       SessionConfig `json:"config"`
	Metrics      Metrics       `json:"metrics"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"last_activity"`
	Completed    *time.Time    `json:"completed,omitempty"`
	Checkpoints  []Checkpoint  `json:"checkpoints,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (s *SessionState) Clone() *SessionState {
	clone := *s
	clone.Config.RequiredAgents = append([]string(nil), s.Config.RequiredAgents...)
	if s.Config.Metadata != nil {
		clone.Config.Metadata = make(map[string]string, len(s.Config.Metadata))
		for k, v := range s.Config.Metadata {
			clone.Config.Metadata[k] = v
		}
	}
	if s.Completed != nil {
		t := *s.Completed
		clone.Completed = &t
	}
	clone.Checkpoints = make([]Checkpoint, len(s.Checkpoints))
	copy(clone.Checkpoints, s.Checkpoints)
	return &clone
}

// snapshot returns a copy with the checkpoint list stripped, used as the
// state captured inside a checkpoint.
func (s *SessionState) snapshot() SessionState {
	clone := s.Clone()
	clone.Checkpoints = nil
	return *clone
}

// Checkpoint is an immutable point-in-time snapshot of a session's state
// plus its conversation context, used for audit and restore.
type Checkpoint struct {
	ID          string                    `json:"id"`
	SessionID   string                    `json:"session_id"`
	Description string                    `json:"description"`
	State       SessionState              `json:"state"`
	Context     *core.ConversationContext `json:"context,omitempty"`
	Created     time.Time                 `json:"created"`
}
