package core

import (
	"fmt"
	"time"
)

// MessageType classifies the intent of an agent message.
type MessageType string

const (
	// MessageRequest asks another agent to act.
	MessageRequest MessageType = "request"
	// MessageResponse answers a prior request.
	MessageResponse MessageType = "response"
	// MessageNotification informs without expecting a reply.
	MessageNotification MessageType = "notification"
	// MessageHandoff transfers responsibility to another agent.
	MessageHandoff MessageType = "handoff"
	// MessageBroadcast addresses every other session participant.
	MessageBroadcast MessageType = "broadcast"
)

func (t MessageType) valid() bool {
	switch t {
	case MessageRequest, MessageResponse, MessageNotification, MessageHandoff, MessageBroadcast:
		return true
	}
	return false
}

// Priority orders messages within a mailbox. Higher values pop first.
type Priority int

const (
	// PriorityLow is background traffic.
	PriorityLow Priority = iota
	// PriorityMedium is the default.
	PriorityMedium
	// PriorityHigh jumps ahead of routine traffic.
	PriorityHigh
	// PriorityUrgent preempts everything else.
	PriorityUrgent
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority converts a wire name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q: %w", s, ErrValidation)
	}
}

// SystemRecipient is the synthetic pseudo-recipient used to report
// whole-operation delivery failures (missing session, blocked by rule,
// empty recipient set).
const SystemRecipient = "system"

// SystemAgent is the author used for runtime-generated notices (joins,
// leaves, lifecycle transitions). It is never a session participant, so a
// broadcast authored by it reaches every participant.
const SystemAgent = "system"

// Message is the unit of delivery between agents. It is immutable once
// created except for rule-engine transformations applied before delivery.
// ToAgent == "" means broadcast to every session participant except the
// sender.
type Message struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	FromAgent       string      `json:"from_agent"`
	ToAgent         string      `json:"to_agent,omitempty"`
	Type            MessageType `json:"type"`
	Content         string      `json:"content"`
	Priority        Priority    `json:"priority"`
	ThreadID        string      `json:"thread_id,omitempty"`
	ParentMessageID string      `json:"parent_message_id,omitempty"`
	Payload         Payload     `json:"payload,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh id, UTC timestamp and medium
// priority. An empty 'to' addresses every other participant.
func NewMessage(sessionID, from, to string, t MessageType, content string) Message {
	return Message{
		ID:        NewID(),
		SessionID: sessionID,
		FromAgent: from,
		ToAgent:   to,
		Type:      t,
		Content:   content,
		Priority:  PriorityMedium,
		Timestamp: time.Now().UTC(),
	}
}

// NewBroadcast creates a broadcast message addressed to every other session
// participant.
func NewBroadcast(sessionID, from, content string) Message {
	return NewMessage(sessionID, from, "", MessageBroadcast, content)
}

// NewSystemNotice creates a system-authored broadcast carrying a structured
// payload, used for join/leave and lifecycle notices.
func NewSystemNotice(sessionID, content string, payload Payload) Message {
	m := NewBroadcast(sessionID, SystemAgent, content)
	m.Type = MessageNotification
	m.Payload = payload
	return m
}

// IsBroadcast reports whether the message has no single target agent.
func (m Message) IsBroadcast() bool { return m.ToAgent == "" }

// Validate checks the fields required before routing. Payloads are checked
// against the closed set so unknown shapes are rejected explicitly.
func (m Message) Validate() error {
	if m.SessionID == "" {
		return wrapValidation("message session_id is required")
	}
	if m.FromAgent == "" {
		return wrapValidation("message from_agent is required")
	}
	if !m.Type.valid() {
		return wrapValidation(fmt.Sprintf("unknown message type %q", m.Type))
	}
	if m.Content == "" && m.Payload == nil {
		return wrapValidation("message needs content or a payload")
	}
	if m.Payload != nil {
		if err := ValidatePayload(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// DeliveryFailure records one unreachable recipient and the reason.
type DeliveryFailure struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// DeliveryResult aggregates per-recipient delivery outcomes for one routed
// message. Partial failures are reported here, never escalated to an error.
type DeliveryResult struct {
	MessageID       string            `json:"message_id"`
	Successful      []string          `json:"successful"`
	Failed          []DeliveryFailure `json:"failed"`
	TotalRecipients int               `json:"total_recipients"`
	DeliveryTime    time.Duration     `json:"delivery_time"`
}

// Delivered reports whether at least one recipient received the message.
func (r DeliveryResult) Delivered() bool { return len(r.Successful) > 0 }
