package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/collabhub/core"
)

func agent(id string, max int) core.AgentRecord {
	return core.AgentRecord{ID: id, Name: id, Status: core.AgentAvailable, MaxConcurrentSessions: max}
}

func TestHub_RegisterAgent(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 2)))

	err := h.RegisterAgent(agent("alpha", 2))
	assert.ErrorIs(t, err, core.ErrValidation, "duplicate registration must be rejected")

	err = h.RegisterAgent(core.AgentRecord{Name: "no-id"})
	assert.ErrorIs(t, err, core.ErrValidation)

	got, ok := h.GetAgent("alpha")
	require.True(t, ok)
	assert.Equal(t, core.AgentAvailable, got.Status)

	// Mutating the returned clone must not touch the directory.
	got.Status = core.AgentOffline
	again, _ := h.GetAgent("alpha")
	assert.Equal(t, core.AgentAvailable, again.Status)
}

func TestHub_ListAvailable(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("a", 1)))
	offline := agent("b", 1)
	offline.Status = core.AgentOffline
	require.NoError(t, h.RegisterAgent(offline))

	available := h.ListAvailable()
	require.Len(t, available, 1)
	assert.Equal(t, "a", available[0].ID)
}

func TestHub_StartCollaboration_RequiredAndPrimary(t *testing.T) {
	h := New()
	for _, id := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, h.RegisterAgent(agent(id, 2)))
	}

	res := h.StartCollaboration(CollaborationRequest{
		UserID:         "user-1",
		SessionType:    "chat",
		PrimaryAgent:   "gamma",
		RequiredAgents: []string{"alpha", "beta"},
	})
	require.Equal(t, "created", res.Status)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, res.Participants, "primary agent is prepended")

	session, ok := h.GetSession(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, core.SessionActive, session.Status)
	assert.Equal(t, "user-1", session.UserID)
}

func TestHub_StartCollaboration_ProjectFillsComplementaryAgents(t *testing.T) {
	h := New()
	specialists := map[string]string{
		"writer":   "writing",
		"coder":    "coding",
		"coder2":   "coding", // same specialization, must be skipped
		"reviewer": "review",
		"tester":   "testing",
	}
	for _, id := range []string{"writer", "coder", "coder2", "reviewer", "tester"} {
		rec := agent(id, 3)
		rec.Specialization = specialists[id]
		require.NoError(t, h.RegisterAgent(rec))
	}

	res := h.StartCollaboration(CollaborationRequest{
		UserID:         "user-1",
		SessionType:    "project",
		RequiredAgents: []string{"writer"},
	})
	require.Equal(t, "created", res.Status)
	assert.Len(t, res.Participants, 4, "project sessions grow to four agents")
	assert.NotContains(t, res.Participants, "coder2", "duplicate specialization is not complementary")
}

func TestHub_StartCollaboration_FallbackToCoordinator(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("coordinator", 2)))
	require.NoError(t, h.RegisterAgent(agent("other", 2)))

	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"ghost"}})
	require.Equal(t, "created", res.Status)
	assert.Equal(t, []string{"coordinator"}, res.Participants)
}

func TestHub_StartCollaboration_NoAgentsIsError(t *testing.T) {
	h := New()
	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat"})
	assert.Equal(t, "error", res.Status)
	assert.Empty(t, res.SessionID)
	assert.Empty(t, h.ListSessions())
}

func TestHub_CapacityScenario(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 1)))
	require.NoError(t, h.RegisterAgent(agent("beta", 1)))
	require.NoError(t, h.RegisterAgent(agent("fallback", 5)))

	first := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha", "beta"}})
	require.Equal(t, "created", first.Status)

	alpha, _ := h.GetAgent("alpha")
	beta, _ := h.GetAgent("beta")
	assert.Equal(t, core.AgentBusy, alpha.Status, "alpha should flip busy at capacity")
	assert.Equal(t, core.AgentBusy, beta.Status)

	// alpha is at capacity, so a second collaboration requiring it falls
	// back to the default-agent policy.
	second := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha"}})
	require.Equal(t, "created", second.Status)
	assert.NotContains(t, second.Participants, "alpha")
	assert.Equal(t, []string{"fallback"}, second.Participants)

	alpha, _ = h.GetAgent("alpha")
	assert.LessOrEqual(t, len(alpha.CurrentSessions), alpha.MaxConcurrentSessions)
}

func TestHub_CompleteSessionIdempotent(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 1)))

	var completions int
	h.On(EventSessionCompleted, func(Event) { completions++ })

	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha"}})
	require.Equal(t, "created", res.Status)

	assert.True(t, h.CompleteSession(res.SessionID, "done"))
	alpha, _ := h.GetAgent("alpha")
	assert.Equal(t, core.AgentAvailable, alpha.Status, "completion frees the agent")
	assert.Empty(t, alpha.CurrentSessions)

	// Second completion: state unchanged, agent freed exactly once, event
	// still published.
	assert.False(t, h.CompleteSession(res.SessionID, "done again"))
	alpha, _ = h.GetAgent("alpha")
	assert.Empty(t, alpha.CurrentSessions)
	assert.Equal(t, 2, completions)

	session, _ := h.GetSession(res.SessionID)
	assert.Equal(t, core.SessionCompleted, session.Status, "record retained for history")
}

func TestHub_JoinSessionCapacity(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 1)))
	require.NoError(t, h.RegisterAgent(agent("full", 1)))

	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha"}})
	require.Equal(t, "created", res.Status)

	// Exhaust "full" elsewhere.
	other := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"full"}})
	require.Equal(t, "created", other.Status)

	err := h.JoinSession(res.SessionID, "full")
	assert.ErrorIs(t, err, core.ErrCapacity)

	session, _ := h.GetSession(res.SessionID)
	assert.Equal(t, []string{"alpha"}, session.Participants, "failed join leaves state unchanged")
	full, _ := h.GetAgent("full")
	assert.Len(t, full.CurrentSessions, 1)
}

func TestHub_JoinAndLeaveSession(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 2)))
	require.NoError(t, h.RegisterAgent(agent("beta", 2)))

	var joined, left []string
	h.On(EventAgentJoined, func(ev Event) { joined = append(joined, ev.AgentID) })
	h.On(EventAgentLeft, func(ev Event) { left = append(left, ev.AgentID) })

	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha"}})
	require.NoError(t, h.JoinSession(res.SessionID, "beta"))

	session, _ := h.GetSession(res.SessionID)
	assert.Equal(t, []string{"alpha", "beta"}, session.Participants)
	assert.Equal(t, []string{"beta"}, joined)

	require.NoError(t, h.LeaveSession(res.SessionID, "beta"))
	session, _ = h.GetSession(res.SessionID)
	assert.Equal(t, []string{"alpha"}, session.Participants)
	assert.Equal(t, []string{"beta"}, left)

	beta, _ := h.GetAgent("beta")
	assert.Empty(t, beta.CurrentSessions)

	err := h.LeaveSession(res.SessionID, "beta")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

type routerFunc func(msg core.Message) core.DeliveryResult

func (f routerFunc) Route(msg core.Message) core.DeliveryResult { return f(msg) }

func TestHub_StartCollaborationWhileWiringRouter(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 8)))

	ok := routerFunc(func(msg core.Message) core.DeliveryResult {
		return core.DeliveryResult{MessageID: msg.ID, Successful: []string{"alpha"}, TotalRecipients: 1}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.SetRouter(ok)
		}()
		go func() {
			defer wg.Done()
			res := h.StartCollaboration(CollaborationRequest{
				UserID:         "u",
				SessionType:    "chat",
				RequiredAgents: []string{"alpha"},
				InitialMessage: "kick off",
			})
			assert.Equal(t, "created", res.Status)
		}()
	}
	wg.Wait()
}

func TestHub_ListenerPanicIsContained(t *testing.T) {
	h := New()
	require.NoError(t, h.RegisterAgent(agent("alpha", 1)))

	var later int
	h.On(EventSessionCreated, func(Event) { panic("bad listener") })
	h.On(EventSessionCreated, func(Event) { later++ })

	res := h.StartCollaboration(CollaborationRequest{UserID: "u", SessionType: "chat", RequiredAgents: []string{"alpha"}})
	assert.Equal(t, "created", res.Status)
	assert.Equal(t, 1, later, "listeners after a panicking one still run")
}
