// Package router delivers messages to per-agent mailboxes. Every message
// first runs through the registered routing rules (block, transform, route,
// duplicate) in registration order, then resolves its recipients through the
// Directory capability and is inserted into each recipient's priority-ordered
// mailbox (urgent first, FIFO among equal priorities).
//
// Delivery failures are per-recipient and never abort the batch; a missing
// session, a blocking rule or an empty recipient set is reported as a
// whole-operation failure carried by the synthetic "system" pseudo-recipient.
// No automatic retry is performed; callers needing resilience re-submit.
package router
