// Package errors provides structured errors for the coordination engine.
//
// Every hard error carries a code, a category, retryability, and a
// metadata map, so callers can branch on failure type without parsing
// messages. The engine's only hard error path, enqueueing onto a full
// queue, is constructed with QueueFull and carries the current size and
// limit in metadata.
//
// # Usage
//
//	err := errors.QueueFull("agent-1", 10, 10)
//	if errors.Is(err, errors.ErrCodeQueueFull) {
//	    meta := errors.GetMetadata(err)
//	    // meta["queue_size"], meta["queue_limit"]
//	}
//
// Retry decisions follow categories: transient and resource errors are
// retryable by default, permanent and internal errors are not. The
// default can be overridden per error with WithRetryable.
package errors
