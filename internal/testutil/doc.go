// Package testutil offers fluent builders for constructing runtime values
// in tests. The builders are intentionally minimal: chain only the parts a
// test cares about, sensible defaults cover the rest.
package testutil
