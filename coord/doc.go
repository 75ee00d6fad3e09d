// Package coord owns the whole task universe.
//
// The Manager is the only component that sees every agent's queue plus
// the global task index, so it is the one place responsible for keeping
// the dependency graph and per-queue availability checks consistent.
// All task creation and removal must route through it; going straight
// to a queue bypasses the global index and breaks cross-agent
// dependency checks.
//
// The Manager wires the dependency graph's unblock notifications back
// into re-enqueueing: a task whose enqueue was refused because its
// dependencies were incomplete is parked in the global index, and
// re-enqueued on its home agent's queue once the last dependency
// completes.
//
// Claims route through the conflict resolver; the winning claimant's
// call triggers assignment on the winner's queue.
package coord
