package registry

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("agent not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid agent ID")
)

// AgentFacts is the registration record the engine reads when selecting
// an assignee.
type AgentFacts struct {
	// ID uniquely identifies the agent.
	ID string

	// Name is a human-readable name for the agent.
	Name string

	// Connected reports whether the agent's transport session is up.
	Connected bool

	// AvailableForWork reports whether the agent can take a new
	// assignment. False while the agent holds a current task.
	AvailableForWork bool

	// Capabilities lists what the agent can do (e.g. "code-review").
	Capabilities []string

	// Metadata contains additional key-value pairs.
	Metadata map[string]string

	// LastSeen is when the agent last updated its registration.
	LastSeen time.Time
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Connected filters by connection state. Nil means all.
	Connected *bool

	// Available filters by work availability. Nil means all.
	Available *bool

	// Capability filters to agents with this capability.
	Capability string
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Agent contains the agent facts. For removal events, the last
	// known state.
	Agent AgentFacts
}

// Registry provides agent registration and lookup.
type Registry interface {
	// Register adds or updates an agent in the registry.
	Register(facts AgentFacts) error

	// Deregister removes an agent from the registry.
	// Returns ErrNotFound if the agent doesn't exist.
	Deregister(id string) error

	// Get retrieves a specific agent by ID.
	// Returns nil, ErrNotFound if not found.
	Get(id string) (*AgentFacts, error)

	// List returns all agents matching the optional filter.
	// Pass nil for no filtering.
	List(filter *Filter) ([]AgentFacts, error)

	// Watch returns a channel of registry events.
	// The channel is closed when the registry is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// Validate checks if agent facts are valid.
func Validate(facts AgentFacts) error {
	if facts.ID == "" {
		return ErrInvalidID
	}
	return nil
}

// HasCapability checks if an agent has a specific capability.
func HasCapability(facts AgentFacts, capability string) bool {
	for _, c := range facts.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// MatchesFilter checks if an agent matches the filter criteria.
func MatchesFilter(facts AgentFacts, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Connected != nil && facts.Connected != *filter.Connected {
		return false
	}
	if filter.Available != nil && facts.AvailableForWork != *filter.Available {
		return false
	}
	if filter.Capability != "" && !HasCapability(facts, filter.Capability) {
		return false
	}
	return true
}
