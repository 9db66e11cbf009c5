package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/logging"
)

// Options configures a Router.
type Options struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// DeliveryObserver is notified after every delivery attempt that reached at
// least the recipient-resolution stage. The runtime wires it to the hub's
// event registry and the context store.
type DeliveryObserver func(msg core.Message, result core.DeliveryResult)

// Router owns the per-agent mailboxes and the routing rule chain. Agent and
// session lookups go through the Directory capability supplied by the hub.
type Router struct {
	mu        sync.Mutex
	dir       core.Directory
	rules     []core.RoutingRule
	mailboxes map[string]*mailbox
	observer  DeliveryObserver
	logger    logging.Logger
}

// New creates a Router bound to a directory.
func New(dir core.Directory, optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		dir:       dir,
		mailboxes: make(map[string]*mailbox),
		logger:    opts.Logger,
	}
}

// SetDeliveryObserver installs the post-delivery callback. Pass nil to
// remove it.
func (r *Router) SetDeliveryObserver(obs DeliveryObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = obs
}

// AddRule validates and appends a rule to the chain, assigning an id when
// missing. Rules run in registration order.
func (r *Router) AddRule(rule core.RoutingRule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	if rule.ID == "" {
		rule.ID = core.NewID()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return rule.ID, nil
}

// RemoveRule deletes a rule by id, reporting whether it existed.
func (r *Router) RemoveRule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceRule swaps a rule in place by id, keeping its position in the
// chain. This is the hot-reload path: predicates are plain data, so a rule
// can be rebuilt and swapped while traffic flows.
func (r *Router) ReplaceRule(rule core.RoutingRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required: %w", core.ErrValidation)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.ID == rule.ID {
			r.rules[i] = rule
			return nil
		}
	}
	return fmt.Errorf("rule %s: %w", rule.ID, core.ErrNotFound)
}

// SetRuleEnabled toggles a rule by id, reporting whether it existed.
func (r *Router) SetRuleEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule chain in registration order.
func (r *Router) Rules() []core.RoutingRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RoutingRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Route delivers a message: rules first, then recipient resolution, then
// one mailbox insert per recipient. Per-recipient failures are collected in
// the result and never abort the batch.
func (r *Router) Route(msg core.Message) core.DeliveryResult {
	return r.dispatch(msg, false, nil)
}

// Broadcast forces broadcast resolution regardless of ToAgent and removes
// the excluded agents from the recipient set.
func (r *Router) Broadcast(msg core.Message, exclude ...string) core.DeliveryResult {
	msg.ToAgent = ""
	return r.dispatch(msg, true, exclude)
}

func (r *Router) dispatch(msg core.Message, forceBroadcast bool, exclude []string) core.DeliveryResult {
	start := time.Now()

	if err := msg.Validate(); err != nil {
		return r.failure(msg, start, err.Error())
	}
	session, ok := r.dir.Session(msg.SessionID)
	if !ok {
		return r.failure(msg, start, fmt.Sprintf("session %s not found", msg.SessionID))
	}

	r.mu.Lock()
	outcome, ruleErrs := applyRules(r.rules, msg)
	r.mu.Unlock()
	for _, err := range ruleErrs {
		r.logger.Warn("routing rule failed", "message_id", msg.ID, "error", err.Error())
	}
	if outcome.blocked {
		return r.failure(msg, start, fmt.Sprintf("blocked by rule %q", outcome.blockedBy))
	}
	msg = outcome.msg
	if forceBroadcast {
		// Route rules must not re-target an explicit broadcast.
		msg.ToAgent = ""
	}

	recipients := r.resolveRecipients(msg, session, exclude)
	if len(recipients) == 0 {
		return r.failure(msg, start, "no recipients resolved")
	}

	result := r.deliver(msg, recipients, outcome.duplicates, start)
	r.dir.TouchSession(msg.SessionID)
	r.notify(msg, result)
	return result
}

// resolveRecipients expands a broadcast to every session participant except
// the sender (and exclusions); a directed message resolves to its single
// named agent.
func (r *Router) resolveRecipients(msg core.Message, session *core.CollaborationSession, exclude []string) []string {
	if !msg.IsBroadcast() {
		return []string{msg.ToAgent}
	}
	excluded := make(map[string]struct{}, len(exclude)+1)
	excluded[msg.FromAgent] = struct{}{}
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	var recipients []string
	for _, id := range session.Participants {
		if _, skip := excluded[id]; !skip {
			recipients = append(recipients, id)
		}
	}
	return recipients
}

// deliver inserts the message into each recipient's mailbox, then enqueues
// duplicate-rule copies. Duplicate targets are reported in Successful but do
// not count toward TotalRecipients, so the original recipient count is
// unchanged by duplication.
func (r *Router) deliver(msg core.Message, recipients []string, duplicates []duplicate, start time.Time) core.DeliveryResult {
	result := core.DeliveryResult{MessageID: msg.ID, TotalRecipients: len(recipients)}

	r.mu.Lock()
	for _, id := range recipients {
		if _, ok := r.dir.Agent(id); !ok {
			result.Failed = append(result.Failed, core.DeliveryFailure{AgentID: id, Reason: "agent not found"})
			continue
		}
		r.mailboxLocked(id).push(msg)
		result.Successful = append(result.Successful, id)
	}
	delivered := make(map[string]struct{}, len(result.Successful))
	for _, id := range result.Successful {
		delivered[id] = struct{}{}
	}
	for _, dup := range duplicates {
		if _, already := delivered[dup.target]; already || dup.target == msg.FromAgent {
			continue
		}
		if _, ok := r.dir.Agent(dup.target); !ok {
			result.Failed = append(result.Failed, core.DeliveryFailure{AgentID: dup.target, Reason: fmt.Sprintf("duplicate target of rule %q not found", dup.rule)})
			continue
		}
		copyMsg := msg
		copyMsg.ToAgent = dup.target
		r.mailboxLocked(dup.target).push(copyMsg)
		delivered[dup.target] = struct{}{}
		result.Successful = append(result.Successful, dup.target)
	}
	r.mu.Unlock()

	result.DeliveryTime = time.Since(start)
	if lg, ok := r.logger.(*logging.RuntimeLogger); ok {
		lg.LogDelivery(msg.ID, result.TotalRecipients, len(result.Failed), result.DeliveryTime)
	}
	return result
}

// failure builds the whole-operation failure result carried by the
// synthetic system pseudo-recipient.
func (r *Router) failure(msg core.Message, start time.Time, reason string) core.DeliveryResult {
	r.logger.Warn("message not delivered", "message_id", msg.ID, "reason", reason)
	return core.DeliveryResult{
		MessageID:    msg.ID,
		Failed:       []core.DeliveryFailure{{AgentID: core.SystemRecipient, Reason: reason}},
		DeliveryTime: time.Since(start),
	}
}

func (r *Router) notify(msg core.Message, result core.DeliveryResult) {
	r.mu.Lock()
	obs := r.observer
	r.mu.Unlock()
	if obs != nil {
		obs(msg, result)
	}
}

// mailboxLocked returns (creating lazily) an agent's mailbox. Caller must
// hold the lock.
func (r *Router) mailboxLocked(agentID string) *mailbox {
	mb, ok := r.mailboxes[agentID]
	if !ok {
		mb = &mailbox{}
		r.mailboxes[agentID] = mb
	}
	return mb
}

// NextMessage pops the front of the agent's priority-ordered queue.
func (r *Router) NextMessage(agentID string) (*core.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.mailboxes[agentID]
	if !ok {
		return nil, false
	}
	msg, ok := mb.pop()
	if !ok {
		return nil, false
	}
	return &msg, true
}

// MailboxLen returns the number of pending messages for an agent.
func (r *Router) MailboxLen(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.mailboxes[agentID]; ok {
		return mb.len()
	}
	return 0
}

// PendingMessages returns a snapshot of an agent's queue in pop order.
func (r *Router) PendingMessages(agentID string) []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.mailboxes[agentID]; ok {
		return mb.snapshot()
	}
	return nil
}
