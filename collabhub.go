// Package collabhub provides a high-level façade over the collaboration
// runtime: the agent hub, the priority message router, the shared context
// store and the session lifecycle manager, wired together with background
// sweeps. Most applications interact with this package by:
//  1. Creating a Runtime via New() (optionally overriding defaults)
//  2. Registering agents and starting collaborations
//  3. Routing messages and letting the runtime fold them into shared context
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable repository and a structured logger.
package collabhub

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/collabhub/contextstore"
	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/hub"
	"github.com/hupe1980/collabhub/lifecycle"
	"github.com/hupe1980/collabhub/logging"
	"github.com/hupe1980/collabhub/router"
)

// DefaultSweepSpec runs the expiry and janitor sweeps every five minutes.
const DefaultSweepSpec = "@every 5m"

// Options configures the Runtime.
type Options struct {
	// CoordinatorAgent is the fallback agent id for session selection.
	CoordinatorAgent string

	// HistoryLimit bounds each session's conversation history.
	HistoryLimit int

	// CheckpointLimit bounds each session's checkpoint history.
	CheckpointLimit int

	// SweepSpec is the cron schedule for the background sweeps. Empty
	// disables them; callers then drive SweepExpired/SweepIdle manually.
	SweepSpec string

	// OnContextEvict observes history entries dropped by the cap.
	OnContextEvict func(sessionID string, dropped core.ContextEntry)

	// OnCheckpointEvict observes checkpoints dropped by the cap.
	OnCheckpointEvict func(sessionID string, dropped lifecycle.Checkpoint)

	// Repository, when set, mirrors session, context and checkpoint writes.
	Repository core.Repository

	// Generator, when set, enables GenerateReply.
	Generator core.Generator

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Runtime aggregates the hub, router, context store and lifecycle manager.
type Runtime struct {
	opts     Options
	hub      *hub.Hub
	router   *router.Router
	contexts *contextstore.Store
	sessions *lifecycle.Manager

	cron     *cron.Cron
	stopOnce sync.Once
}

// New creates a Runtime with optional overrides. Components are wired so
// that every delivered message is folded into the session's shared context
// and bumps the session's activity clock.
func New(optFns ...func(o *Options)) *Runtime {
	opts := Options{
		CoordinatorAgent: hub.DefaultCoordinatorAgent,
		SweepSpec:        DefaultSweepSpec,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	h := hub.New(func(o *hub.Options) {
		o.CoordinatorAgent = opts.CoordinatorAgent
		o.Repository = opts.Repository
		o.Logger = opts.Logger
	})
	r := router.New(h, func(o *router.Options) {
		o.Logger = opts.Logger
	})
	h.SetRouter(r)

	contexts := contextstore.New(&contextstore.Config{
		HistoryLimit: opts.HistoryLimit,
		OnEvict:      opts.OnContextEvict,
		Repository:   opts.Repository,
		Logger:       opts.Logger,
	})
	sessions := lifecycle.New(h, r, contexts, &lifecycle.Config{
		CheckpointLimit:   opts.CheckpointLimit,
		OnCheckpointEvict: opts.OnCheckpointEvict,
		Repository:        opts.Repository,
		Logger:            opts.Logger,
	})

	rt := &Runtime{
		opts:     opts,
		hub:      h,
		router:   r,
		contexts: contexts,
		sessions: sessions,
	}
	r.SetDeliveryObserver(rt.onDelivery)

	if opts.SweepSpec != "" {
		rt.cron = cron.New()
		if _, err := rt.cron.AddFunc(opts.SweepSpec, func() { contexts.SweepExpired() }); err != nil {
			opts.Logger.Warn("context sweep not scheduled", "spec", opts.SweepSpec, "error", err.Error())
		}
		if _, err := rt.cron.AddFunc(opts.SweepSpec, func() { sessions.SweepIdle() }); err != nil {
			opts.Logger.Warn("session sweep not scheduled", "spec", opts.SweepSpec, "error", err.Error())
		}
		rt.cron.Start()
	}
	return rt
}

// onDelivery folds every delivered message into the session context and
// notes activity on the managed session. Failed deliveries are surfaced as
// hub events only.
func (rt *Runtime) onDelivery(msg core.Message, result core.DeliveryResult) {
	rt.hub.NotifyMessageRouted(msg, result)
	if !result.Delivered() {
		return
	}
	rt.sessions.NoteActivity(msg.SessionID)

	value := msg.Payload
	if value == nil {
		if msg.Content == "" {
			return
		}
		value = core.TextValue{Text: msg.Content}
	}
	entry := core.ContextEntry{
		SessionID: msg.SessionID,
		AgentID:   msg.FromAgent,
		Type:      core.ContextConversation,
		Key:       "msg:" + msg.ID,
		Value:     value,
		Priority:  contextPriority(msg.Priority),
	}
	if _, err := rt.contexts.Put(entry); err != nil {
		rt.opts.Logger.Warn("message not folded into context", "message_id", msg.ID, "error", err.Error())
	}
}

// contextPriority maps a message priority onto the context scale.
func contextPriority(p core.Priority) core.ContextPriority {
	switch p {
	case core.PriorityLow:
		return core.ContextLow
	case core.PriorityHigh:
		return core.ContextHigh
	case core.PriorityUrgent:
		return core.ContextCritical
	default:
		return core.ContextMedium
	}
}

// Hub exposes the agent directory and session registry.
func (rt *Runtime) Hub() *hub.Hub { return rt.hub }

// Router exposes message routing and rule management.
func (rt *Runtime) Router() *router.Router { return rt.router }

// Contexts exposes the shared context store.
func (rt *Runtime) Contexts() *contextstore.Store { return rt.contexts }

// Sessions exposes the lifecycle manager.
func (rt *Runtime) Sessions() *lifecycle.Manager { return rt.sessions }

// Shutdown stops the background sweeps. Safe to call more than once.
func (rt *Runtime) Shutdown() {
	rt.stopOnce.Do(func() {
		if rt.cron != nil {
			ctx := rt.cron.Stop()
			<-ctx.Done()
		}
	})
}

// GenerateReply asks the configured generator for fromAgent's contribution
// and routes the reply into the session. The generated target agent is
// honored when it names a session participant; otherwise the reply is
// broadcast. Generated priorities that fail to parse fall back to medium.
func (rt *Runtime) GenerateReply(ctx context.Context, sessionID, fromAgent, prompt string) (core.DeliveryResult, error) {
	if rt.opts.Generator == nil {
		return core.DeliveryResult{}, fmt.Errorf("no generator configured: %w", core.ErrValidation)
	}
	session, ok := rt.hub.GetSession(sessionID)
	if !ok {
		return core.DeliveryResult{}, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if !session.HasParticipant(fromAgent) {
		return core.DeliveryResult{}, fmt.Errorf("agent %s is not in session %s: %w", fromAgent, sessionID, core.ErrValidation)
	}

	mc := core.MessageContext{SessionID: sessionID, FromAgent: fromAgent}
	if summary, err := rt.contexts.Summarize(sessionID); err == nil {
		mc.Summary = summary
	}
	if conv, ok := rt.contexts.Conversation(sessionID); ok {
		mc.SharedKnowledge = conv.SharedKnowledge
		history := conv.History
		if len(history) > 10 {
			history = history[len(history)-10:]
		}
		mc.RecentHistory = history
	}

	result, err := rt.opts.Generator.Generate(ctx, prompt, mc)
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("generate reply: %w", err)
	}
	if result == nil || result.Content == "" {
		return core.DeliveryResult{}, fmt.Errorf("generator returned empty content: %w", core.ErrValidation)
	}

	priority := core.PriorityMedium
	if result.Priority != "" {
		if p, err := core.ParsePriority(result.Priority); err == nil {
			priority = p
		} else {
			rt.opts.Logger.Warn("generated priority skipped", "session_id", sessionID, "priority", result.Priority)
		}
	}

	target := result.TargetAgent
	if target != "" && (target == fromAgent || !session.HasParticipant(target)) {
		rt.opts.Logger.Warn("generated target skipped", "session_id", sessionID, "target", target)
		target = ""
	}

	var msg core.Message
	if target != "" {
		msg = core.NewMessage(sessionID, fromAgent, target, core.MessageResponse, result.Content)
		msg.Priority = priority
		return rt.router.Route(msg), nil
	}
	msg = core.NewBroadcast(sessionID, fromAgent, result.Content)
	msg.Priority = priority
	return rt.router.Broadcast(msg), nil
}
