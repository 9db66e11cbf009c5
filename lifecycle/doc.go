// Package lifecycle is the operator-facing session manager layered on the
// hub: a guarded state machine (initializing, active, paused, completed,
// failed, archived), named session templates with optional workflows,
// bounded checkpoint histories for audit/restore, and a janitor sweep that
// archives idle and long-completed sessions.
//
// The hub remains the single owner of session truth (participants, hub
// status); this package keeps only its own SessionState and mutates
// participants exclusively through hub calls.
package lifecycle
