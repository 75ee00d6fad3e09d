// Package conflict adjudicates competing claims on one task.
//
// Claims arriving for the same task within a fixed simultaneity window
// (default one second) are batched and resolved together: the claim with
// the earliest ClaimedAt timestamp wins, the rest lose. A single claim
// in the window wins with reason "no conflict". Equal timestamps fall
// back to registration order.
//
// Retried deliveries are de-duplicated by correlation id: a claim whose
// correlation id was already seen is dropped without resolving, which
// makes transport-level retries safe. The seen set is cleared wholesale
// once it passes a size limit rather than evicted entry by entry.
//
// The window wait is injectable (WithAfterFunc), so tests resolve
// deterministically without sleeping.
package conflict
