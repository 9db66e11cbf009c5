package core

// AgentStatus describes the availability of an agent in the directory.
type AgentStatus string

const (
	// AgentAvailable means the agent can join additional sessions.
	AgentAvailable AgentStatus = "available"
	// AgentBusy means the agent is at its concurrent-session limit.
	AgentBusy AgentStatus = "busy"
	// AgentOffline means the agent is registered but not participating.
	AgentOffline AgentStatus = "offline"
)

// AgentRecord is a directory entry for an addressable participant. Records
// are seeded at startup and mutated by the hub as sessions start and
// complete; they are never deleted at runtime.
type AgentRecord struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Capabilities          []string    `json:"capabilities,omitempty"`
	Specialization        string      `json:"specialization,omitempty"`
	Status                AgentStatus `json:"status"`
	MaxConcurrentSessions int         `json:"max_concurrent_sessions"`
	CurrentSessions       []string    `json:"current_sessions,omitempty"`

	// AvgResponseTimeMs feeds the selector's responsiveness bonus. Zero means
	// no measurement yet and earns the full bonus.
	AvgResponseTimeMs int `json:"avg_response_time_ms,omitempty"`
}

// Available reports whether the agent can accept work.
func (a *AgentRecord) Available() bool { return a.Status == AgentAvailable }

// AtCapacity reports whether the agent is at its concurrent-session limit.
func (a *AgentRecord) AtCapacity() bool {
	return len(a.CurrentSessions) >= a.MaxConcurrentSessions
}

// InSession reports whether the agent currently participates in sessionID.
func (a *AgentRecord) InSession(sessionID string) bool {
	for _, id := range a.CurrentSessions {
		if id == sessionID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for independent mutation.
func (a *AgentRecord) Clone() *AgentRecord {
	clone := *a
	clone.Capabilities = append([]string(nil), a.Capabilities...)
	clone.CurrentSessions = append([]string(nil), a.CurrentSessions...)
	return &clone
}

// Validate checks the fields required for registration.
func (a *AgentRecord) Validate() error {
	if a.ID == "" {
		return wrapValidation("agent id is required")
	}
	if a.Name == "" {
		return wrapValidation("agent name is required")
	}
	if a.MaxConcurrentSessions < 0 {
		return wrapValidation("max_concurrent_sessions must not be negative")
	}
	return nil
}
