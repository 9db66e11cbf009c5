package router

import "github.com/hupe1980/collabhub/core"

// mailbox is one agent's pending message queue, kept ordered by priority
// (urgent first) with FIFO order among equal priorities. Stable insertion
// keeps the FIFO guarantee without a separate sequence number; queues are
// short-lived and small, so the linear scan is not a concern. Access is
// serialized by the router's lock.
type mailbox struct {
	items []core.Message
}

// push inserts the message after the last queued message of equal or higher
// priority.
func (m *mailbox) push(msg core.Message) {
	at := len(m.items)
	for i, queued := range m.items {
		if queued.Priority < msg.Priority {
			at = i
			break
		}
	}
	m.items = append(m.items, core.Message{})
	copy(m.items[at+1:], m.items[at:])
	m.items[at] = msg
}

// pop removes and returns the front message.
func (m *mailbox) pop() (core.Message, bool) {
	if len(m.items) == 0 {
		return core.Message{}, false
	}
	msg := m.items[0]
	m.items = m.items[1:]
	return msg, true
}

func (m *mailbox) len() int { return len(m.items) }

// snapshot returns a copy of the queue in pop order.
func (m *mailbox) snapshot() []core.Message {
	out := make([]core.Message, len(m.items))
	copy(out, m.items)
	return out
}
