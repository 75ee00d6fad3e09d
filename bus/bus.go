// Package bus provides in-process pub/sub for lifecycle event fan-out.
//
// The coordinator publishes task lifecycle events on subjects like
// tasks.lifecycle.assigned; decoupled observers subscribe without the
// coordinator knowing who they are. Delivery is buffered and
// non-blocking: a slow subscriber drops messages rather than stalling
// the publisher.
package bus

import "errors"

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// SubjectPrefix is the root of all lifecycle subjects.
const SubjectPrefix = "tasks.lifecycle."

// LifecycleSubject builds the subject for one lifecycle event kind,
// e.g. LifecycleSubject("assigned") -> "tasks.lifecycle.assigned".
func LifecycleSubject(event string) string {
	return SubjectPrefix + event
}

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus provides pub/sub messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the bus.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	return nil
}
