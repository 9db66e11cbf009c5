// Package hub owns the agent directory and the canonical session registry.
// It creates collaboration sessions (selecting participants from the
// directory), tracks each agent's session load, and publishes lifecycle
// events to registered listeners.
//
// The hub is the single owner of session truth, including the participant
// list; the lifecycle package keeps only its own state machine and reads
// participants through the hub. Listener failures are contained per
// listener and logged, never propagated to the caller.
package hub
