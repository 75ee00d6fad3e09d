// Package registry supplies agent facts to the coordination engine.
//
// The engine consumes {id, connected, availableForWork} when deciding
// whether an agent can take an assignment; where those facts come from
// is the caller's concern. This package defines the interface the
// engine reads, plus an in-memory implementation suitable for tests and
// single-process deployments.
//
// Capabilities are carried along for suitability matching: a queue can
// be configured to hand a task only to agents holding a required
// capability.
package registry
