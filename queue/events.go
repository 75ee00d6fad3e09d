package queue

import "github.com/coordkit/coordkit/task"

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventEnqueued   EventType = "enqueued"
	EventAssigned   EventType = "assigned"
	EventStarted    EventType = "started"
	EventProgress   EventType = "progress"
	EventBlocked    EventType = "blocked"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventUnassigned EventType = "unassigned"
)

// Event is one lifecycle notification from a queue.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// AgentID is the queue's agent.
	AgentID string

	// Task is a snapshot of the task after the transition.
	Task task.Task
}

// Subscriber receives queue lifecycle events.
type Subscriber func(Event)
