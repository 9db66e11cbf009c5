// Package contextstore implements the shared, indexed, expiring context
// store: append-only entries indexed by session, agent, type and tag, folded
// into a per-session conversation aggregate (bounded history, shared
// knowledge, goals).
//
// All four indices are updated under one write lock so they stay mutually
// consistent with the primary map. Expired entries are filtered on every
// read path; SweepExpired purges them and is safe to run concurrently with
// normal traffic.
package contextstore
