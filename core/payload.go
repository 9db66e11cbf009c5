package core

// Payload is a closed set of structured values carried by messages and
// context entries. Concrete types implement the unexported isPayload marker,
// so the router and context layers can exhaustively handle known shapes and
// reject anything else at validation time.
type Payload interface{ isPayload() }

// TextValue is a plain text value.
type TextValue struct {
	Text string `json:"text"`
}

func (TextValue) isPayload() {}

// DataValue is a flat string map for small structured facts.
type DataValue struct {
	Data map[string]string `json:"data"`
}

func (DataValue) isPayload() {}

// JoinNotice announces an agent joining a session.
type JoinNotice struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (JoinNotice) isPayload() {}

// LeaveNotice announces an agent leaving a session.
type LeaveNotice struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (LeaveNotice) isPayload() {}

// GoalUpdate creates or updates a goal in the session's conversation
// context, matched by Goal.ID.
type GoalUpdate struct {
	Goal Goal `json:"goal"`
}

func (GoalUpdate) isPayload() {}

// KnowledgeUpdate merges one key/value pair into the session's shared
// knowledge map.
type KnowledgeUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (KnowledgeUpdate) isPayload() {}

// ValidatePayload checks a payload against the closed set. A nil payload and
// any type outside the set are rejected.
func ValidatePayload(p Payload) error {
	switch v := p.(type) {
	case TextValue:
		if v.Text == "" {
			return wrapValidation("text payload must not be empty")
		}
	case DataValue:
		if len(v.Data) == 0 {
			return wrapValidation("data payload must not be empty")
		}
	case JoinNotice:
		if v.AgentID == "" {
			return wrapValidation("join notice needs an agent id")
		}
	case LeaveNotice:
		if v.AgentID == "" {
			return wrapValidation("leave notice needs an agent id")
		}
	case GoalUpdate:
		if v.Goal.ID == "" || v.Goal.Description == "" {
			return wrapValidation("goal update needs id and description")
		}
	case KnowledgeUpdate:
		if v.Key == "" {
			return wrapValidation("knowledge update needs a key")
		}
	default:
		return wrapValidation("unknown payload type")
	}
	return nil
}

// PayloadText extracts the human-readable text of a payload, or "" when the
// payload carries no text.
func PayloadText(p Payload) string {
	switch v := p.(type) {
	case TextValue:
		return v.Text
	case KnowledgeUpdate:
		return v.Value
	case GoalUpdate:
		return v.Goal.Description
	default:
		return ""
	}
}
