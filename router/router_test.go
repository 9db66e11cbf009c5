package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/collabhub/core"
)

// stubDirectory is a minimal Directory for router tests.
type stubDirectory struct {
	agents   map[string]*core.AgentRecord
	sessions map[string]*core.CollaborationSession
	touched  []string
}

func newStubDirectory(sessionID string, agentIDs ...string) *stubDirectory {
	d := &stubDirectory{
		agents:   map[string]*core.AgentRecord{},
		sessions: map[string]*core.CollaborationSession{},
	}
	for _, id := range agentIDs {
		d.agents[id] = &core.AgentRecord{ID: id, Name: id, Status: core.AgentAvailable, MaxConcurrentSessions: 3}
	}
	d.sessions[sessionID] = &core.CollaborationSession{ID: sessionID, Participants: agentIDs, Status: core.SessionActive}
	return d
}

func (d *stubDirectory) Agent(id string) (*core.AgentRecord, bool) {
	a, ok := d.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (d *stubDirectory) Session(id string) (*core.CollaborationSession, bool) {
	s, ok := d.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (d *stubDirectory) TouchSession(id string) { d.touched = append(d.touched, id) }

func TestRouter_PriorityOrderingWithFIFOTieBreak(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	priorities := []core.Priority{core.PriorityLow, core.PriorityUrgent, core.PriorityMedium, core.PriorityUrgent, core.PriorityHigh, core.PriorityLow}
	for i, p := range priorities {
		msg := core.NewMessage("s1", "alpha", "beta", core.MessageRequest, fmt.Sprintf("m%d", i))
		msg.Priority = p
		res := r.Route(msg)
		require.True(t, res.Delivered(), "message %d not delivered: %+v", i, res)
	}

	var got []string
	for {
		msg, ok := r.NextMessage("beta")
		if !ok {
			break
		}
		got = append(got, msg.Content)
	}
	// urgent (m1 before m3), then high, medium, lows in enqueue order.
	assert.Equal(t, []string{"m1", "m3", "m4", "m2", "m0", "m5"}, got)

	_, ok := r.NextMessage("beta")
	assert.False(t, ok, "drained mailbox should report empty")
}

func TestRouter_BroadcastExcludesSenderAndListed(t *testing.T) {
	dir := newStubDirectory("s1", "sender", "a", "b")
	r := New(dir)

	res := r.Broadcast(core.NewBroadcast("s1", "sender", "hello"), "a")
	require.True(t, res.Delivered())
	assert.Equal(t, []string{"b"}, res.Successful)
	assert.Equal(t, 1, res.TotalRecipients)
	assert.Equal(t, 0, r.MailboxLen("sender"))
	assert.Equal(t, 0, r.MailboxLen("a"))
	assert.Equal(t, 1, r.MailboxLen("b"))
}

func TestRouter_MissingSessionIsWholeOperationFailure(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	res := r.Route(core.NewMessage("nope", "alpha", "beta", core.MessageRequest, "hi"))
	assert.False(t, res.Delivered())
	require.Len(t, res.Failed, 1)
	assert.Equal(t, core.SystemRecipient, res.Failed[0].AgentID)
	assert.Zero(t, res.TotalRecipients)
}

func TestRouter_BlockRuleStopsDelivery(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	_, err := r.AddRule(core.RoutingRule{
		Name:      "no-handoffs",
		Predicate: core.MatchMessageType{Types: []core.MessageType{core.MessageHandoff}},
		Action:    core.ActionBlock,
		Enabled:   true,
	})
	require.NoError(t, err)

	res := r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageHandoff, "take over"))
	assert.False(t, res.Delivered())
	require.Len(t, res.Failed, 1)
	assert.Equal(t, core.SystemRecipient, res.Failed[0].AgentID)
	assert.Contains(t, res.Failed[0].Reason, "no-handoffs")
	assert.Equal(t, 0, r.MailboxLen("beta"))

	// Unrelated messages still flow.
	ok := r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageRequest, "status?"))
	assert.True(t, ok.Delivered())
}

func TestRouter_TransformRuleRewritesPriority(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	urgent := core.PriorityUrgent
	_, err := r.AddRule(core.RoutingRule{
		Name:             "escalate-incidents",
		Predicate:        core.MatchContentContains{Substrings: []string{"incident"}},
		Action:           core.ActionTransform,
		PriorityOverride: &urgent,
		Enabled:          true,
	})
	require.NoError(t, err)

	r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageNotification, "minor note"))
	r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageNotification, "INCIDENT in prod"))

	first, ok := r.NextMessage("beta")
	require.True(t, ok)
	assert.Contains(t, first.Content, "INCIDENT")
	assert.Equal(t, core.PriorityUrgent, first.Priority)
}

func TestRouter_RouteRuleOverridesTarget(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta", "triage")
	r := New(dir)

	_, err := r.AddRule(core.RoutingRule{
		Name:         "requests-to-triage",
		Predicate:    core.MatchMessageType{Types: []core.MessageType{core.MessageRequest}},
		Action:       core.ActionRoute,
		TargetAgents: []string{"triage"},
		Enabled:      true,
	})
	require.NoError(t, err)

	res := r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageRequest, "help"))
	assert.Equal(t, []string{"triage"}, res.Successful)
	assert.Equal(t, 0, r.MailboxLen("beta"))
}

func TestRouter_DuplicateRuleKeepsRecipientCount(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta", "audit")
	r := New(dir)

	_, err := r.AddRule(core.RoutingRule{
		Name:         "audit-handoffs",
		Predicate:    core.MatchMessageType{Types: []core.MessageType{core.MessageHandoff}},
		Action:       core.ActionDuplicate,
		TargetAgents: []string{"audit"},
		Enabled:      true,
	})
	require.NoError(t, err)

	res := r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageHandoff, "yours now"))
	assert.Equal(t, 1, res.TotalRecipients, "duplicates must not change the original recipient count")
	assert.ElementsMatch(t, []string{"beta", "audit"}, res.Successful)
	assert.Equal(t, 1, r.MailboxLen("audit"))
}

func TestRouter_DisabledRuleIsSkipped(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	id, err := r.AddRule(core.RoutingRule{
		Name:      "block-everything",
		Predicate: core.MatchAll{},
		Action:    core.ActionBlock,
		Enabled:   false,
	})
	require.NoError(t, err)

	res := r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageRequest, "hi"))
	assert.True(t, res.Delivered())

	require.True(t, r.SetRuleEnabled(id, true))
	res = r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageRequest, "hi again"))
	assert.False(t, res.Delivered())

	require.True(t, r.RemoveRule(id))
	assert.Empty(t, r.Rules())
}

func TestRouter_PerRecipientFailureDoesNotAbortBatch(t *testing.T) {
	dir := newStubDirectory("s1", "sender", "present")
	dir.sessions["s1"].Participants = append(dir.sessions["s1"].Participants, "ghost")
	r := New(dir)

	res := r.Broadcast(core.NewBroadcast("s1", "sender", "hello all"))
	assert.Equal(t, 2, res.TotalRecipients)
	assert.Equal(t, []string{"present"}, res.Successful)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ghost", res.Failed[0].AgentID)
}

func TestRouter_DeliveryObserverAndTouch(t *testing.T) {
	dir := newStubDirectory("s1", "alpha", "beta")
	r := New(dir)

	var observed []core.DeliveryResult
	r.SetDeliveryObserver(func(_ core.Message, res core.DeliveryResult) {
		observed = append(observed, res)
	})

	r.Route(core.NewMessage("s1", "alpha", "beta", core.MessageRequest, "hi"))
	require.Len(t, observed, 1)
	assert.Equal(t, []string{"s1"}, dir.touched)
}
