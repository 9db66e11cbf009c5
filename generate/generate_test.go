package generate

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/collabhub/core"
)

func TestStatic_ReplaysAndRepeatsLast(t *testing.T) {
	g := NewStatic(
		core.GenerateResult{Content: "first"},
		core.GenerateResult{Content: "second"},
	)
	for _, want := range []string{"first", "second", "second"} {
		res, err := g.Generate(context.Background(), "ping", core.MessageContext{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Content != want {
			t.Errorf("got %q, want %q", res.Content, want)
		}
	}
}

func TestStatic_EmptyAcks(t *testing.T) {
	g := NewStatic()
	res, err := g.Generate(context.Background(), "hello", core.MessageContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Errorf("ack should echo the prompt, got %q", res.Content)
	}
}

func TestSystemPrompt_RendersContext(t *testing.T) {
	mc := core.MessageContext{
		SessionID: "sess-1",
		FromAgent: "coder",
		Summary: &core.ContextSummary{
			SessionID:      "sess-1",
			ActiveAgents:   []string{"coder", "reviewer"},
			TopTags:        []string{"api", "bug"},
			GoalsTotal:     3,
			GoalsCompleted: 1,
		},
		SharedKnowledge: map[string]string{"repo": "collabhub", "branch": "main"},
		RecentHistory: []core.ContextEntry{
			{AgentID: "reviewer", Value: core.TextValue{Text: "needs a test"}},
		},
	}

	prompt := SystemPrompt(mc)
	for _, want := range []string{
		`agent "coder"`,
		"session sess-1",
		"3 goals tracked, 1 completed",
		"coder, reviewer",
		"api, bug",
		"branch: main",
		"[reviewer] needs a test",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Map keys render sorted.
	if strings.Index(prompt, "branch: main") > strings.Index(prompt, "repo: collabhub") {
		t.Error("shared knowledge should be sorted by key")
	}
}
