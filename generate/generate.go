package generate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/collabhub/core"
)

// Func adapts a plain function to the core.Generator interface.
type Func func(ctx context.Context, prompt string, mc core.MessageContext) (*core.GenerateResult, error)

// Generate implements core.Generator.
func (f Func) Generate(ctx context.Context, prompt string, mc core.MessageContext) (*core.GenerateResult, error) {
	return f(ctx, prompt, mc)
}

// Static is an in-memory generator that replays canned replies in order,
// repeating the last one once exhausted. Useful for tests and examples.
type Static struct {
	mu      sync.Mutex
	replies []core.GenerateResult
	next    int
}

// NewStatic constructs a Static generator from the given replies.
func NewStatic(replies ...core.GenerateResult) *Static {
	return &Static{replies: replies}
}

// Generate implements core.Generator.
func (s *Static) Generate(_ context.Context, prompt string, _ core.MessageContext) (*core.GenerateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return &core.GenerateResult{Content: fmt.Sprintf("ack: %s", prompt), Confidence: 0.5}, nil
	}
	reply := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	return &reply, nil
}

// SystemPrompt renders the session context into the system prompt used by
// the SDK-backed adapters. The layout is stable so canned tests can match
// on substrings.
func SystemPrompt(mc core.MessageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are agent %q collaborating in session %s.\n", mc.FromAgent, mc.SessionID)

	if s := mc.Summary; s != nil {
		fmt.Fprintf(&b, "\nSession summary: %d goals tracked, %d completed.\n",
			s.GoalsTotal, s.GoalsCompleted)
		if len(s.ActiveAgents) > 0 {
			fmt.Fprintf(&b, "Active agents: %s.\n", strings.Join(s.ActiveAgents, ", "))
		}
		if len(s.TopTags) > 0 {
			fmt.Fprintf(&b, "Topics: %s.\n", strings.Join(s.TopTags, ", "))
		}
		for _, insight := range s.KeyInsights {
			fmt.Fprintf(&b, "Insight: %s\n", insight)
		}
	}

	if len(mc.SharedKnowledge) > 0 {
		b.WriteString("\nShared knowledge:\n")
		for _, key := range sortedKeys(mc.SharedKnowledge) {
			fmt.Fprintf(&b, "- %s: %s\n", key, mc.SharedKnowledge[key])
		}
	}

	if len(mc.RecentHistory) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, entry := range mc.RecentHistory {
			fmt.Fprintf(&b, "[%s] %s\n", entry.AgentID, core.PayloadText(entry.Value))
		}
	}

	b.WriteString("\nReply with your contribution to the collaboration.")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
