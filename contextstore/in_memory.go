package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/logging"
)

// DefaultHistoryLimit caps a session's conversation history when no limit is
// configured. Oldest entries are dropped first. This is a lossy policy:
// callers needing durability must subscribe to OnEvict and persist before
// truncation.
const DefaultHistoryLimit = 100

// Config configures a Store.
type Config struct {
	// HistoryLimit bounds each session's conversation history. Zero means
	// DefaultHistoryLimit.
	HistoryLimit int

	// OnEvict, when set, is invoked with each history entry dropped by the
	// cap, before it is discarded. Called synchronously under the store lock;
	// keep it cheap.
	OnEvict func(sessionID string, dropped core.ContextEntry)

	// Repository, when set, receives a best-effort mirror of every entry and
	// conversation write. Errors are logged, never propagated.
	Repository core.Repository

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Store is the in-memory ContextStore implementation. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]core.ContextEntry

	// Inverted indices: key -> set of entry ids. All four move atomically
	// under mu with the primary map.
	bySession map[string]map[string]struct{}
	byAgent   map[string]map[string]struct{}
	byType    map[string]map[string]struct{}
	byTag     map[string]map[string]struct{}

	conversations map[string]*core.ConversationContext

	historyLimit int
	onEvict      func(string, core.ContextEntry)
	repo         core.Repository
	logger       logging.Logger
}

// New constructs an empty store from a config (or defaults if nil).
func New(cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Store{
		entries:       make(map[string]core.ContextEntry),
		bySession:     make(map[string]map[string]struct{}),
		byAgent:       make(map[string]map[string]struct{}),
		byType:        make(map[string]map[string]struct{}),
		byTag:         make(map[string]map[string]struct{}),
		conversations: make(map[string]*core.ConversationContext),
		historyLimit:  limit,
		onEvict:       cfg.OnEvict,
		repo:          cfg.Repository,
		logger:        logger,
	}
}

// Put validates the entry, assigns identity and timestamp when missing,
// indexes it and folds it into the session's conversation aggregate.
// Returns the entry id.
func (s *Store) Put(entry core.ContextEntry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	if entry.ID == "" {
		entry.ID = core.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.insertLocked(entry)
	s.foldLocked(entry)
	s.mu.Unlock()

	s.mirror(core.RecordContextEntry, entry.ID, entry)
	return entry.ID, nil
}

// insertLocked adds the entry to the primary map and all four indices.
// Caller must hold the write lock.
func (s *Store) insertLocked(entry core.ContextEntry) {
	s.entries[entry.ID] = entry
	addIndex(s.bySession, entry.SessionID, entry.ID)
	addIndex(s.byAgent, entry.AgentID, entry.ID)
	addIndex(s.byType, string(entry.Type), entry.ID)
	for _, tag := range entry.Tags {
		addIndex(s.byTag, tag, entry.ID)
	}
}

// removeLocked deletes the entry from the primary map and all four indices.
func (s *Store) removeLocked(entry core.ContextEntry) {
	delete(s.entries, entry.ID)
	dropIndex(s.bySession, entry.SessionID, entry.ID)
	dropIndex(s.byAgent, entry.AgentID, entry.ID)
	dropIndex(s.byType, string(entry.Type), entry.ID)
	for _, tag := range entry.Tags {
		dropIndex(s.byTag, tag, entry.ID)
	}
}

// foldLocked merges the entry into the session's conversation aggregate:
// conversation entries append to the bounded history, knowledge updates
// merge into shared knowledge, goal updates upsert by goal id.
func (s *Store) foldLocked(entry core.ContextEntry) {
	conv, ok := s.conversations[entry.SessionID]
	if !ok {
		conv = core.NewConversationContext(entry.SessionID)
		s.conversations[entry.SessionID] = conv
	}
	if entry.AgentID != core.SystemAgent && !containsString(conv.Participants, entry.AgentID) {
		conv.Participants = append(conv.Participants, entry.AgentID)
	}

	switch v := entry.Value.(type) {
	case core.KnowledgeUpdate:
		conv.SharedKnowledge[v.Key] = v.Value
	case core.GoalUpdate:
		upsertGoal(conv, v.Goal)
	default:
		if entry.Type == core.ContextConversation {
			conv.History = append(conv.History, entry)
			for len(conv.History) > s.historyLimit {
				dropped := conv.History[0]
				conv.History = conv.History[1:]
				if s.onEvict != nil {
					s.onEvict(entry.SessionID, dropped)
				}
			}
		} else if entry.Type == core.ContextKnowledge {
			conv.SharedKnowledge[entry.Key] = core.PayloadText(entry.Value)
		}
	}
	conv.Updated = time.Now().UTC()
}

func upsertGoal(conv *core.ConversationContext, goal core.Goal) {
	for i, g := range conv.Goals {
		if g.ID == goal.ID {
			conv.Goals[i] = goal
			return
		}
	}
	conv.Goals = append(conv.Goals, goal)
}

// Query intersects the index sets for the supplied filter fields (missing
// fields impose no constraint), drops expired entries, sorts by priority
// (critical first) then recency and truncates to the limit.
func (s *Store) Query(f core.ContextFilter) []core.ContextEntry {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidateIDsLocked(f)
	results := make([]core.ContextEntry, 0, len(candidates))
	for id := range candidates {
		entry, ok := s.entries[id]
		if !ok || entry.Expired(now) {
			continue
		}
		if !matchFilter(entry, f) {
			continue
		}
		results = append(results, entry.Clone())
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results
}

// candidateIDsLocked intersects the applicable index sets, starting from the
// most selective supplied one. With no indexed filter it spans the whole
// store.
func (s *Store) candidateIDsLocked(f core.ContextFilter) map[string]struct{} {
	var sets []map[string]struct{}
	if f.SessionID != "" {
		sets = append(sets, s.bySession[f.SessionID])
	}
	if f.AgentID != "" {
		sets = append(sets, s.byAgent[f.AgentID])
	}
	if len(f.Types) > 0 {
		sets = append(sets, unionIndex(s.byType, typeKeys(f.Types)))
	}
	if len(f.Tags) > 0 {
		sets = append(sets, unionIndex(s.byTag, f.Tags))
	}
	if len(sets) == 0 {
		all := make(map[string]struct{}, len(s.entries))
		for id := range s.entries {
			all[id] = struct{}{}
		}
		return all
	}
	result := sets[0]
	for _, set := range sets[1:] {
		result = intersect(result, set)
	}
	// Copy so callers never alias a live index set.
	out := make(map[string]struct{}, len(result))
	for id := range result {
		out[id] = struct{}{}
	}
	return out
}

// matchFilter applies the non-indexed filter fields.
func matchFilter(e core.ContextEntry, f core.ContextFilter) bool {
	if len(f.Keys) > 0 && !containsString(f.Keys, e.Key) {
		return false
	}
	if len(f.Priorities) > 0 {
		found := false
		for _, p := range f.Priorities {
			if e.Priority == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Summarize aggregates the session's context: active agents, the five most
// frequent tags, up to ten critical/high text-valued entries as key insights
// and goal completion counts.
func (s *Store) Summarize(sessionID string) (*core.ContextSummary, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.bySession[sessionID]
	conv := s.conversations[sessionID]
	if !ok && conv == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}

	summary := &core.ContextSummary{SessionID: sessionID}
	tagCounts := map[string]int{}
	agents := map[string]struct{}{}
	for id := range ids {
		entry, ok := s.entries[id]
		if !ok || entry.Expired(now) {
			continue
		}
		if entry.AgentID != core.SystemAgent {
			agents[entry.AgentID] = struct{}{}
		}
		for _, tag := range entry.Tags {
			tagCounts[tag]++
		}
		if entry.Priority >= core.ContextHigh && len(summary.KeyInsights) < 10 {
			if text := core.PayloadText(entry.Value); text != "" {
				summary.KeyInsights = append(summary.KeyInsights, fmt.Sprintf("%s: %s", entry.Key, text))
			}
		}
	}
	for agent := range agents {
		summary.ActiveAgents = append(summary.ActiveAgents, agent)
	}
	sort.Strings(summary.ActiveAgents)
	summary.TopTags = topTags(tagCounts, 5)

	if conv != nil {
		summary.GoalsTotal = len(conv.Goals)
		for _, g := range conv.Goals {
			if g.Status == core.GoalCompleted {
				summary.GoalsCompleted++
			}
		}
	}
	return summary, nil
}

// topTags returns the n most frequent tags, ties broken alphabetically for
// deterministic output.
func topTags(counts map[string]int, n int) []string {
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// SweepExpired removes every entry whose expiry has passed from the store
// and all indices, returning the number removed. It runs on the runtime's
// sweep schedule and is also safe to call synchronously before a read for
// strict correctness.
func (s *Store) SweepExpired() int {
	start := time.Now()
	s.mu.Lock()
	var expired []core.ContextEntry
	for _, entry := range s.entries {
		if entry.Expired(start) {
			expired = append(expired, entry)
		}
	}
	for _, entry := range expired {
		s.removeLocked(entry)
	}
	s.mu.Unlock()

	if lg, ok := s.logger.(*logging.RuntimeLogger); ok {
		lg.LogSweep("context_expiry", len(expired), time.Since(start))
	} else if len(expired) > 0 {
		s.logger.Info("context sweep removed expired entries", "removed", len(expired))
	}
	return len(expired)
}

// Conversation returns a clone of the session's conversation aggregate.
func (s *Store) Conversation(sessionID string) (*core.ConversationContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// Len returns the number of live entries (including expired but unswept
// ones).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SessionEntryCount returns the size of a session's index set.
func (s *Store) SessionEntryCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySession[sessionID])
}

// SessionSnapshot is a bulk export of one session's entries and conversation
// aggregate, used for external persistence.
type SessionSnapshot struct {
	SessionID    string                    `json:"session_id"`
	Entries      []core.ContextEntry       `json:"entries"`
	Conversation *core.ConversationContext `json:"conversation,omitempty"`
}

// ExportSession snapshots a session's entries (expired ones excluded) and
// conversation aggregate.
func (s *Store) ExportSession(sessionID string) (*SessionSnapshot, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.bySession[sessionID]
	if !ok && s.conversations[sessionID] == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	snap := &SessionSnapshot{SessionID: sessionID}
	for id := range ids {
		entry, ok := s.entries[id]
		if !ok || entry.Expired(now) {
			continue
		}
		snap.Entries = append(snap.Entries, entry.Clone())
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].Timestamp.Before(snap.Entries[j].Timestamp)
	})
	if conv, ok := s.conversations[sessionID]; ok {
		snap.Conversation = conv.Clone()
	}
	return snap, nil
}

// ImportSession restores a previously exported snapshot, replacing any
// entries already present for that session. Entry ids and timestamps are
// preserved.
func (s *Store) ImportSession(snap *SessionSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("snapshot needs a session id: %w", core.ErrValidation)
	}
	for _, entry := range snap.Entries {
		if entry.SessionID != snap.SessionID {
			return fmt.Errorf("entry %s belongs to session %s: %w", entry.ID, entry.SessionID, core.ErrValidation)
		}
		if err := entry.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for id := range s.bySession[snap.SessionID] {
		if entry, ok := s.entries[id]; ok {
			s.removeLocked(entry)
		}
	}
	for _, entry := range snap.Entries {
		if entry.ID == "" {
			entry.ID = core.NewID()
		}
		s.insertLocked(entry)
	}
	if snap.Conversation != nil {
		s.conversations[snap.SessionID] = snap.Conversation.Clone()
	} else {
		delete(s.conversations, snap.SessionID)
	}
	s.mu.Unlock()

	s.mirror(core.RecordConversation, snap.SessionID, snap)
	return nil
}

// mirror persists a best-effort copy through the optional repository.
func (s *Store) mirror(kind core.RecordKind, id string, v any) {
	if s.repo == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("context mirror: marshal failed", "kind", string(kind), "id", id, "error", err.Error())
		return
	}
	rec := core.Record{Kind: kind, ID: id, Data: data, UpdatedAt: time.Now().UTC()}
	if err := s.repo.Save(context.Background(), rec); err != nil {
		s.logger.Warn("context mirror: save failed", "kind", string(kind), "id", id, "error", err.Error())
	}
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func unionIndex(idx map[string]map[string]struct{}, keys []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, key := range keys {
		for id := range idx[key] {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func typeKeys(types []core.ContextType) []string {
	keys := make([]string, len(types))
	for i, t := range types {
		keys[i] = string(t)
	}
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
