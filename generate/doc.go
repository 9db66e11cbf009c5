// Package generate defines helpers around the core.Generator contract: a
// Func adapter, a canned Static generator for tests and examples, and the
// prompt rendering shared by the SDK-backed adapters in the subpackages.
package generate
