// Package depgraph tracks the directed graph of task dependencies and
// cascades unblock notifications when dependencies complete.
//
// The graph keeps one node per task id with forward edges (dependencies)
// and reverse edges (dependents), plus a mirrored copy of the task's
// status. Nodes may be created as placeholders when a dependency id is
// referenced before its own task is registered; this tolerates
// out-of-order registration from upstream producers.
//
// When a task's mirrored status becomes completed, every dependent whose
// dependencies are now all complete and whose own status is still
// available receives exactly one unblock notification. Notifications are
// per dependent, never per completed dependency.
//
// Cycle detection is non-fatal: DetectCycles returns the discovered
// paths and the caller decides what to do with them.
//
// Subscriber callbacks run concurrently and in isolation; a panicking
// subscriber is logged and never blocks other subscribers or the
// triggering update.
package depgraph
