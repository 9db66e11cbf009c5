// Package core defines the shared domain model and capability interfaces of
// the collaboration runtime: agents, sessions, messages, routing rules,
// context entries and the pluggable seams (Directory, Repository, Generator)
// the component packages are wired through.
//
// The package has no dependencies on the component packages so every
// component can import it without cycles. Payloads and rule predicates are
// closed sum types (unexported marker methods) so consumers can exhaustively
// handle known shapes and reject unknown ones at validation time.
package core
