// Package task defines the task value type and its state transitions.
//
// A Task is an immutable value: every transition returns a new Task and
// never mutates the receiver. This keeps tasks safe to hand across
// component boundaries (queues, the dependency graph, observers) without
// defensive locking at each hop.
//
// # Lifecycle
//
// Tasks move through the following states:
//
//	Available → Assigned → Started → InProgress ⇄ Blocked → Completed
//	                                                      ↘ Failed
//
// Completed and Failed are terminal. A retryable failure is handled one
// layer up: the queue resets the task to Available and re-queues it at
// the front.
//
// # Availability
//
// A task is available for assignment when its own status is
// StatusAvailable and every declared dependency resolves to a completed
// task in the supplied Index. Without an index the task must have no
// dependencies at all.
//
// Transitions are total functions: they do not validate external input.
// Validation of producer-supplied content happens upstream.
package task
