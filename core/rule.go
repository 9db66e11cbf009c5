package core

import "fmt"

// RuleAction tells the router what to do when a rule's predicate matches.
type RuleAction string

const (
	// ActionRoute overrides the target agent with the rule's first target.
	ActionRoute RuleAction = "route"
	// ActionBlock stops processing and yields zero recipients.
	ActionBlock RuleAction = "block"
	// ActionTransform rewrites the message priority.
	ActionTransform RuleAction = "transform"
	// ActionDuplicate enqueues extra copies for additional targets.
	ActionDuplicate RuleAction = "duplicate"
)

// Predicate is a closed set of declarative conditions over a message,
// interpreted by the router. Because predicates are data rather than
// closures they can be serialized, tested in isolation and hot-swapped.
type Predicate interface{ isPredicate() }

// MatchMessageType matches when the message type is one of Types.
type MatchMessageType struct {
	Types []MessageType `json:"types"`
}

func (MatchMessageType) isPredicate() {}

// MatchContentContains matches when the content contains any of the
// substrings, case-insensitively.
type MatchContentContains struct {
	Substrings []string `json:"substrings"`
}

func (MatchContentContains) isPredicate() {}

// MatchFromAgents matches when the sender is one of Agents.
type MatchFromAgents struct {
	Agents []string `json:"agents"`
}

func (MatchFromAgents) isPredicate() {}

// MatchPriorityAtLeast matches when the message priority is Min or higher.
type MatchPriorityAtLeast struct {
	Min Priority `json:"min"`
}

func (MatchPriorityAtLeast) isPredicate() {}

// MatchAll matches when every child predicate matches. Empty matches all.
type MatchAll struct {
	Predicates []Predicate `json:"predicates"`
}

func (MatchAll) isPredicate() {}

// MatchAny matches when at least one child predicate matches.
type MatchAny struct {
	Predicates []Predicate `json:"predicates"`
}

func (MatchAny) isPredicate() {}

// RoutingRule is a predicate + action pair applied to every message before
// delivery. Rules are evaluated in registration order, are idempotent and
// have no side effects outside the message handed back to the router.
type RoutingRule struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Predicate        Predicate  `json:"predicate"`
	Action           RuleAction `json:"action"`
	TargetAgents     []string   `json:"target_agents,omitempty"`
	PriorityOverride *Priority  `json:"priority_override,omitempty"`
	Enabled          bool       `json:"enabled"`
}

// Validate checks rule consistency before registration.
func (r RoutingRule) Validate() error {
	if r.Name == "" {
		return wrapValidation("rule name is required")
	}
	if r.Predicate == nil {
		return wrapValidation("rule predicate is required")
	}
	switch r.Action {
	case ActionBlock:
	case ActionRoute, ActionDuplicate:
		if len(r.TargetAgents) == 0 {
			return wrapValidation(fmt.Sprintf("rule %q: action %s needs target agents", r.Name, r.Action))
		}
	case ActionTransform:
		if r.PriorityOverride == nil {
			return wrapValidation(fmt.Sprintf("rule %q: transform needs a priority override", r.Name))
		}
	default:
		return wrapValidation(fmt.Sprintf("rule %q: unknown action %q", r.Name, r.Action))
	}
	return nil
}
