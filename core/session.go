package core

import "time"

// SessionStatus is the hub-level lifecycle of a collaboration session. The
// lifecycle package layers a richer operator-facing state machine on top.
type SessionStatus string

const (
	// SessionActive means the session accepts messages and participants.
	SessionActive SessionStatus = "active"
	// SessionPaused means the session is suspended but resumable.
	SessionPaused SessionStatus = "paused"
	// SessionCompleted means the session finished normally.
	SessionCompleted SessionStatus = "completed"
	// SessionCancelled means the session was aborted.
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further activity.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CollaborationSession groups a set of agents and their message/context
// history under one lifecycle. Records are retained after completion for
// history and never physically deleted.
//
// The hub owns the canonical record including the participant list; other
// components read it through the Directory capability.
type CollaborationSession struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Participants []string          `json:"participants"`
	Status       SessionStatus     `json:"status"`
	SessionType  string            `json:"session_type"`
	ProjectName  string            `json:"project_name,omitempty"`
	Created      time.Time         `json:"created"`
	Updated      time.Time         `json:"updated"`
	Completed    *time.Time        `json:"completed,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasParticipant reports whether agentID is part of the session.
func (s *CollaborationSession) HasParticipant(agentID string) bool {
	for _, id := range s.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for independent mutation.
func (s *CollaborationSession) Clone() *CollaborationSession {
	clone := *s
	clone.Participants = append([]string(nil), s.Participants...)
	if s.Completed != nil {
		t := *s.Completed
		clone.Completed = &t
	}
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
