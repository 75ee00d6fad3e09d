// Package queue implements the per-agent bounded FIFO task queue.
//
// Each Queue belongs to one agent and owns two structures: the pending
// list (FIFO, bounded) and the assigned map. A task lives in at most
// one of them; assignment moves the task out of the pending list
// entirely, and that structural removal is what makes double assignment
// impossible.
//
// Enqueue has an asymmetric error contract: enqueueing a duplicate or
// a not-yet-available task is a logged no-op,
// while enqueueing onto a full queue is a hard error carrying the
// current size and limit. Callers that need to distinguish "ignored"
// from "accepted" should check the pending list.
//
// A retryable failure re-inserts the task at the front of the pending
// list so previously started work is picked up first.
//
// Lifecycle subscribers are notified concurrently and in isolation; a
// panicking subscriber never affects the others or the triggering call.
package queue
