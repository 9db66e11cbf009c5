package router

import (
	"fmt"
	"strings"

	"github.com/hupe1980/collabhub/core"
)

// evalPredicate interprets a declarative predicate against a message.
// Unknown predicate types are an error so rules built against a newer
// predicate set fail loudly instead of silently never matching.
func evalPredicate(p core.Predicate, msg core.Message) (bool, error) {
	switch v := p.(type) {
	case core.MatchMessageType:
		for _, t := range v.Types {
			if msg.Type == t {
				return true, nil
			}
		}
		return false, nil
	case core.MatchContentContains:
		content := strings.ToLower(msg.Content)
		for _, sub := range v.Substrings {
			if sub != "" && strings.Contains(content, strings.ToLower(sub)) {
				return true, nil
			}
		}
		return false, nil
	case core.MatchFromAgents:
		for _, agent := range v.Agents {
			if msg.FromAgent == agent {
				return true, nil
			}
		}
		return false, nil
	case core.MatchPriorityAtLeast:
		return msg.Priority >= v.Min, nil
	case core.MatchAll:
		for _, child := range v.Predicates {
			ok, err := evalPredicate(child, msg)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case core.MatchAny:
		for _, child := range v.Predicates {
			ok, err := evalPredicate(child, msg)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case nil:
		return false, fmt.Errorf("nil predicate: %w", core.ErrValidation)
	default:
		return false, fmt.Errorf("unknown predicate type %T: %w", p, core.ErrValidation)
	}
}

// ruleOutcome is the result of running a message through the rule chain.
type ruleOutcome struct {
	msg        core.Message // possibly transformed
	blocked    bool
	blockedBy  string
	duplicates []duplicate
}

// duplicate is an extra delivery target collected from a duplicate rule.
type duplicate struct {
	target string
	rule   string
}

// applyRules runs the enabled rules in registration order. Rule evaluation
// errors are isolated per rule and logged by the caller via the returned
// slice; remaining rules still run.
func applyRules(rules []core.RoutingRule, msg core.Message) (ruleOutcome, []error) {
	out := ruleOutcome{msg: msg}
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		matched, err := evalPredicate(rule.Predicate, out.msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			continue
		}
		if !matched {
			continue
		}
		switch rule.Action {
		case core.ActionBlock:
			out.blocked = true
			out.blockedBy = rule.Name
			return out, errs
		case core.ActionTransform:
			if rule.PriorityOverride != nil {
				out.msg.Priority = *rule.PriorityOverride
			}
		case core.ActionRoute:
			if len(rule.TargetAgents) > 0 {
				out.msg.ToAgent = rule.TargetAgents[0]
			}
		case core.ActionDuplicate:
			for _, target := range rule.TargetAgents {
				out.duplicates = append(out.duplicates, duplicate{target: target, rule: rule.Name})
			}
		}
	}
	return out, errs
}
