package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates capacity or quota exhaustion.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or invariant violations.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific failure types.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out
	ErrCodeAgentOffline ErrorCode = "AGENT_OFFLINE" // Target agent is not connected
	ErrCodeAgentBusy    ErrorCode = "AGENT_BUSY"    // Agent already holds an assignment

	// Permanent errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"        // Task or agent does not exist
	ErrCodeConflict        ErrorCode = "CONFLICT"         // Competing operation lost
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"    // Malformed request
	ErrCodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"   // Duplicate registration
	ErrCodeCanceled        ErrorCode = "CANCELED"         // Operation was canceled
	ErrCodeTaskFailed      ErrorCode = "TASK_FAILED"      // Task failed permanently
	ErrCodeDependencyCycle ErrorCode = "DEPENDENCY_CYCLE" // Cycle in the dependency graph

	// Resource errors
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL" // Per-agent queue at capacity
	ErrCodeCapacity  ErrorCode = "CAPACITY"   // System at capacity

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeAgentOffline, ErrCodeAgentBusy:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput,
		ErrCodeAlreadyExists, ErrCodeCanceled, ErrCodeTaskFailed,
		ErrCodeDependencyCycle:
		return CategoryPermanent
	case ErrCodeQueueFull, ErrCodeCapacity:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:         "operation timed out",
	ErrCodeAgentOffline:    "agent is offline",
	ErrCodeAgentBusy:       "agent already holds an assignment",
	ErrCodeNotFound:        "not found",
	ErrCodeConflict:        "conflicting operation",
	ErrCodeInvalidInput:    "invalid input provided",
	ErrCodeAlreadyExists:   "already exists",
	ErrCodeCanceled:        "operation canceled",
	ErrCodeTaskFailed:      "task failed permanently",
	ErrCodeDependencyCycle: "dependency cycle detected",
	ErrCodeQueueFull:       "queue at capacity",
	ErrCodeCapacity:        "system at capacity",
	ErrCodeInternal:        "internal error",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
