package contextstore

import (
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/collabhub/core"
)

func entry(session, agent string, t core.ContextType, key, text string) core.ContextEntry {
	return core.ContextEntry{
		SessionID: session,
		AgentID:   agent,
		Type:      t,
		Key:       key,
		Value:     core.TextValue{Text: text},
		Priority:  core.ContextMedium,
	}
}

func TestStore_PutAssignsIdentityAndIndexes(t *testing.T) {
	s := New(nil)
	id, err := s.Put(entry("s1", "alpha", core.ContextTask, "step", "do the thing"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == "" {
		t.Fatal("Put should assign an id")
	}
	if s.SessionEntryCount("s1") != 1 {
		t.Errorf("session index size = %d, want 1", s.SessionEntryCount("s1"))
	}

	_, err = s.Put(core.ContextEntry{SessionID: "s1"})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestStore_QueryFiltersAndOrder(t *testing.T) {
	s := New(nil)

	low := entry("s1", "alpha", core.ContextTask, "t1", "first")
	low.Priority = core.ContextLow
	low.Tags = []string{"build"}
	critical := entry("s1", "beta", core.ContextKnowledge, "t2", "second")
	critical.Priority = core.ContextCritical
	critical.Tags = []string{"build", "release"}
	other := entry("s2", "alpha", core.ContextTask, "t3", "elsewhere")

	for _, e := range []core.ContextEntry{low, critical, other} {
		if _, err := s.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got := s.Query(core.ContextFilter{SessionID: "s1"})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(got))
	}
	if got[0].Priority != core.ContextCritical {
		t.Errorf("critical entry should sort first, got %s", got[0].Priority)
	}

	tagged := s.Query(core.ContextFilter{SessionID: "s1", Tags: []string{"release"}})
	if len(tagged) != 1 || tagged[0].Key != "t2" {
		t.Errorf("tag filter returned %+v", tagged)
	}

	byAgent := s.Query(core.ContextFilter{AgentID: "alpha"})
	if len(byAgent) != 2 {
		t.Errorf("agent filter should span sessions, got %d", len(byAgent))
	}

	limited := s.Query(core.ContextFilter{SessionID: "s1", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit not applied, got %d", len(limited))
	}
}

func TestStore_ExpiryInvariant(t *testing.T) {
	s := New(nil)
	past := time.Now().Add(-time.Second)

	e := entry("s1", "alpha", core.ContextState, "stale", "gone")
	e.Priority = core.ContextCritical
	e.ExpiresAt = &past
	if _, err := s.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(entry("s1", "alpha", core.ContextTask, "fresh", "kept")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if got := s.Query(core.ContextFilter{SessionID: "s1"}); len(got) != 1 || got[0].Key != "fresh" {
		t.Fatalf("expired entry leaked into query: %+v", got)
	}

	before := s.Len()
	removed := s.SweepExpired()
	if removed != 1 {
		t.Errorf("SweepExpired removed %d, want 1", removed)
	}
	if s.Len() != before-1 {
		t.Errorf("store size %d, want %d", s.Len(), before-1)
	}
	if s.SweepExpired() != 0 {
		t.Error("second sweep should remove nothing")
	}
}

func TestStore_ExpiredCriticalEntryThenSweep(t *testing.T) {
	s := New(nil)
	past := time.Now().Add(-time.Second)
	e := entry("s9", "alpha", core.ContextKnowledge, "secret", "expired insight")
	e.Priority = core.ContextCritical
	e.ExpiresAt = &past
	if _, err := s.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := s.Query(core.ContextFilter{SessionID: "s9"}); len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
	s.SweepExpired()
	if n := s.SessionEntryCount("s9"); n != 0 {
		t.Errorf("session index size after sweep = %d, want 0", n)
	}
}

func TestStore_HistoryCapEvictsOldestFirst(t *testing.T) {
	var evicted []core.ContextEntry
	s := New(&Config{
		HistoryLimit: 3,
		OnEvict:      func(_ string, dropped core.ContextEntry) { evicted = append(evicted, dropped) },
	})

	for i := 0; i < 5; i++ {
		e := entry("s1", "alpha", core.ContextConversation, "msg", string(rune('a'+i)))
		if _, err := s.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	conv, ok := s.Conversation("s1")
	if !ok {
		t.Fatal("conversation missing")
	}
	if len(conv.History) != 3 {
		t.Fatalf("history length %d, want 3", len(conv.History))
	}
	if len(evicted) != 2 {
		t.Fatalf("evictions %d, want 2", len(evicted))
	}
	if text := core.PayloadText(evicted[0].Value); text != "a" {
		t.Errorf("oldest entry should evict first, got %q", text)
	}
}

func TestStore_FoldKnowledgeAndGoals(t *testing.T) {
	s := New(nil)

	k := entry("s1", "alpha", core.ContextKnowledge, "repo", "")
	k.Value = core.KnowledgeUpdate{Key: "repo", Value: "collabhub"}
	if _, err := s.Put(k); err != nil {
		t.Fatalf("Put knowledge: %v", err)
	}

	g := entry("s1", "beta", core.ContextTask, "goal", "")
	g.Value = core.GoalUpdate{Goal: core.Goal{ID: "g1", Description: "ship", Status: core.GoalPending}}
	if _, err := s.Put(g); err != nil {
		t.Fatalf("Put goal: %v", err)
	}
	g2 := g
	g2.ID = ""
	g2.Value = core.GoalUpdate{Goal: core.Goal{ID: "g1", Description: "ship", Status: core.GoalCompleted}}
	if _, err := s.Put(g2); err != nil {
		t.Fatalf("Put goal update: %v", err)
	}

	conv, _ := s.Conversation("s1")
	if conv.SharedKnowledge["repo"] != "collabhub" {
		t.Errorf("knowledge not merged: %+v", conv.SharedKnowledge)
	}
	if len(conv.Goals) != 1 || conv.Goals[0].Status != core.GoalCompleted {
		t.Errorf("goal not upserted by id: %+v", conv.Goals)
	}
	if len(conv.Participants) != 2 {
		t.Errorf("participants %v, want alpha and beta", conv.Participants)
	}
}

func TestStore_Summarize(t *testing.T) {
	s := New(nil)

	insight := entry("s1", "alpha", core.ContextKnowledge, "finding", "flaky test in router")
	insight.Priority = core.ContextCritical
	insight.Tags = []string{"test", "router"}
	if _, err := s.Put(insight); err != nil {
		t.Fatalf("Put: %v", err)
	}
	routine := entry("s1", "beta", core.ContextTask, "note", "lunch")
	routine.Tags = []string{"test"}
	if _, err := s.Put(routine); err != nil {
		t.Fatalf("Put: %v", err)
	}
	goal := entry("s1", "beta", core.ContextTask, "goal", "")
	goal.Value = core.GoalUpdate{Goal: core.Goal{ID: "g1", Description: "fix", Status: core.GoalCompleted}}
	if _, err := s.Put(goal); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sum, err := s.Summarize("s1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sum.ActiveAgents) != 2 {
		t.Errorf("active agents %v", sum.ActiveAgents)
	}
	if len(sum.TopTags) == 0 || sum.TopTags[0] != "test" {
		t.Errorf("top tags %v, want test first", sum.TopTags)
	}
	if len(sum.KeyInsights) != 1 {
		t.Errorf("key insights %v", sum.KeyInsights)
	}
	if sum.GoalsTotal != 1 || sum.GoalsCompleted != 1 {
		t.Errorf("goal counts %d/%d", sum.GoalsCompleted, sum.GoalsTotal)
	}

	if _, err := s.Summarize("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	s := New(nil)
	if _, err := s.Put(entry("s1", "alpha", core.ContextConversation, "msg", "hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(entry("s1", "beta", core.ContextTask, "todo", "review")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap, err := s.ExportSession("s1")
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if len(snap.Entries) != 2 || snap.Conversation == nil {
		t.Fatalf("snapshot incomplete: %+v", snap)
	}

	restored := New(nil)
	if err := restored.ImportSession(snap); err != nil {
		t.Fatalf("ImportSession: %v", err)
	}
	if restored.SessionEntryCount("s1") != 2 {
		t.Errorf("restored index size %d, want 2", restored.SessionEntryCount("s1"))
	}
	conv, ok := restored.Conversation("s1")
	if !ok || len(conv.History) != 1 {
		t.Errorf("restored conversation %+v", conv)
	}
	got := restored.Query(core.ContextFilter{SessionID: "s1", Keys: []string{"todo"}})
	if len(got) != 1 {
		t.Errorf("restored entry not queryable: %+v", got)
	}
}
