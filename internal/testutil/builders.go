package testutil

import (
	"time"

	"github.com/hupe1980/collabhub/core"
)

// MessageBuilder provides a fluent helper for constructing messages in
// tests. Example:
//
//	msg := NewMessageBuilder().Session("s1").From("coder").To("reviewer").Text("done").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder with type request and medium priority.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.Message{
		ID:        core.NewID(),
		Type:      core.MessageRequest,
		Priority:  core.PriorityMedium,
		Timestamp: time.Now().UTC(),
	}}
}

// Session sets the session id (chainable).
func (b *MessageBuilder) Session(id string) *MessageBuilder { b.msg.SessionID = id; return b }

// From sets the sender (chainable).
func (b *MessageBuilder) From(agent string) *MessageBuilder { b.msg.FromAgent = agent; return b }

// To sets the recipient; leave unset for a broadcast (chainable).
func (b *MessageBuilder) To(agent string) *MessageBuilder { b.msg.ToAgent = agent; return b }

// Type overrides the message type (chainable).
func (b *MessageBuilder) Type(t core.MessageType) *MessageBuilder { b.msg.Type = t; return b }

// Text sets the content (chainable).
func (b *MessageBuilder) Text(content string) *MessageBuilder { b.msg.Content = content; return b }

// Priority overrides the default medium priority (chainable).
func (b *MessageBuilder) Priority(p core.Priority) *MessageBuilder { b.msg.Priority = p; return b }

// Payload attaches a typed payload (chainable).
func (b *MessageBuilder) Payload(p core.Payload) *MessageBuilder { b.msg.Payload = p; return b }

// Thread sets the thread id (chainable).
func (b *MessageBuilder) Thread(id string) *MessageBuilder { b.msg.ThreadID = id; return b }

// Build returns the assembled message.
func (b *MessageBuilder) Build() core.Message { return b.msg }

// EntryBuilder constructs context entries for tests.
type EntryBuilder struct {
	entry core.ContextEntry
}

// NewEntryBuilder creates a builder with conversation type and medium
// priority.
func NewEntryBuilder() *EntryBuilder {
	return &EntryBuilder{entry: core.ContextEntry{
		Type:     core.ContextConversation,
		Priority: core.ContextMedium,
	}}
}

// Session sets the session id (chainable).
func (b *EntryBuilder) Session(id string) *EntryBuilder { b.entry.SessionID = id; return b }

// Agent sets the authoring agent (chainable).
func (b *EntryBuilder) Agent(id string) *EntryBuilder { b.entry.AgentID = id; return b }

// Type sets the context type (chainable).
func (b *EntryBuilder) Type(t core.ContextType) *EntryBuilder { b.entry.Type = t; return b }

// Key sets the entry key (chainable).
func (b *EntryBuilder) Key(k string) *EntryBuilder { b.entry.Key = k; return b }

// Text sets a plain text value (chainable).
func (b *EntryBuilder) Text(t string) *EntryBuilder {
	b.entry.Value = core.TextValue{Text: t}
	return b
}

// Value sets an arbitrary payload value (chainable).
func (b *EntryBuilder) Value(p core.Payload) *EntryBuilder { b.entry.Value = p; return b }

// Priority sets the context priority (chainable).
func (b *EntryBuilder) Priority(p core.ContextPriority) *EntryBuilder {
	b.entry.Priority = p
	return b
}

// Tags appends tags (chainable).
func (b *EntryBuilder) Tags(tags ...string) *EntryBuilder {
	b.entry.Tags = append(b.entry.Tags, tags...)
	return b
}

// ExpiresIn sets a relative expiry (chainable).
func (b *EntryBuilder) ExpiresIn(d time.Duration) *EntryBuilder {
	t := time.Now().UTC().Add(d)
	b.entry.ExpiresAt = &t
	return b
}

// Build returns the assembled entry.
func (b *EntryBuilder) Build() core.ContextEntry { return b.entry }

// AgentBuilder constructs agent records for tests.
type AgentBuilder struct {
	rec core.AgentRecord
}

// NewAgentBuilder creates an available agent with capacity for one session.
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{rec: core.AgentRecord{
		ID:                    id,
		Name:                  id,
		Status:                core.AgentAvailable,
		MaxConcurrentSessions: 1,
	}}
}

// Capabilities sets the capability list (chainable).
func (b *AgentBuilder) Capabilities(caps ...string) *AgentBuilder {
	b.rec.Capabilities = caps
	return b
}

// Specialization sets the specialization (chainable).
func (b *AgentBuilder) Specialization(s string) *AgentBuilder {
	b.rec.Specialization = s
	return b
}

// Status overrides the available status (chainable).
func (b *AgentBuilder) Status(s core.AgentStatus) *AgentBuilder { b.rec.Status = s; return b }

// MaxSessions sets the concurrency cap (chainable).
func (b *AgentBuilder) MaxSessions(n int) *AgentBuilder {
	b.rec.MaxConcurrentSessions = n
	return b
}

// ResponseTime sets the average response time in milliseconds (chainable).
func (b *AgentBuilder) ResponseTime(ms int) *AgentBuilder {
	b.rec.AvgResponseTimeMs = ms
	return b
}

// Build returns the assembled record.
func (b *AgentBuilder) Build() core.AgentRecord { return b.rec }
