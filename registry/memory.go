package registry

import (
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory implementation of Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	agents   map[string]AgentFacts
	watchers []chan Event
	closed   bool
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents: make(map[string]AgentFacts),
	}
}

// Register adds or updates an agent in the registry.
func (r *MemoryRegistry) Register(facts AgentFacts) error {
	if err := Validate(facts); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	facts.LastSeen = time.Now()

	_, exists := r.agents[facts.ID]
	r.agents[facts.ID] = facts

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	r.notifyWatchers(Event{Type: eventType, Agent: facts})

	return nil
}

// Deregister removes an agent from the registry.
func (r *MemoryRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, exists := r.agents[id]
	if !exists {
		return ErrNotFound
	}

	delete(r.agents, id)
	r.notifyWatchers(Event{Type: EventRemoved, Agent: agent})

	return nil
}

// Get retrieves a specific agent by ID.
func (r *MemoryRegistry) Get(id string) (*AgentFacts, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	agent, exists := r.agents[id]
	if !exists {
		return nil, ErrNotFound
	}

	return &agent, nil
}

// List returns all agents matching the filter, sorted by ID.
func (r *MemoryRegistry) List(filter *Filter) ([]AgentFacts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	var result []AgentFacts
	for _, agent := range r.agents {
		if MatchesFilter(agent, filter) {
			result = append(result, agent)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)

	return ch, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil

	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
