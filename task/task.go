package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	// StatusAvailable indicates the task is waiting to be assigned.
	StatusAvailable Status = "available"

	// StatusAssigned indicates the task has been handed to an agent.
	StatusAssigned Status = "assigned"

	// StatusStarted indicates the agent has begun work.
	StatusStarted Status = "started"

	// StatusInProgress indicates work is underway with progress reports.
	StatusInProgress Status = "in_progress"

	// StatusBlocked indicates work is paused on an external condition.
	StatusBlocked Status = "blocked"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed permanently.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents a unit of assignable work.
type Task struct {
	// ID is the unique identifier for the task.
	ID string

	// Description is the human-readable statement of the work.
	Description string

	// AssignedAgents lists agents the task has been assigned to,
	// in assignment order. Grows via Assign, reset by Unassign.
	AssignedAgents []string

	// Status is the current lifecycle state.
	Status Status

	// Dependencies holds the ids of tasks that must complete before
	// this task becomes available. Fixed at creation.
	Dependencies []string

	// ExternalRef is an opaque link to the originating issue or PR.
	ExternalRef string

	// CreatedAt is when the task was created.
	CreatedAt time.Time

	// AssignedAt is when the task was last assigned.
	AssignedAt *time.Time

	// StartedAt is when work began.
	StartedAt *time.Time

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time

	// ClaimedAt is when the task was last claimed through conflict
	// resolution, if it was.
	ClaimedAt *time.Time

	// PercentComplete tracks progress in [0,100].
	PercentComplete int

	// StatusMessage carries the latest progress, block, or failure note.
	StatusMessage string

	// Result is the output recorded on completion.
	Result []byte
}

// Index resolves task ids for cross-task dependency checks.
// The coordinator's global task index implements this.
type Index interface {
	// Lookup returns the task for the given id, if known.
	Lookup(id string) (Task, bool)
}

// MapIndex is a plain map implementation of Index.
type MapIndex map[string]Task

// Lookup implements Index.
func (m MapIndex) Lookup(id string) (Task, bool) {
	t, ok := m[id]
	return t, ok
}

// New creates a task in the Available state.
func New(id, description string, dependencies []string, externalRef string) Task {
	t := Task{
		ID:          id,
		Description: description,
		Status:      StatusAvailable,
		ExternalRef: externalRef,
		CreatedAt:   time.Now(),
	}
	if len(dependencies) > 0 {
		t.Dependencies = make([]string, len(dependencies))
		copy(t.Dependencies, dependencies)
	}
	return t
}

// Clone creates a deep copy of the task.
func (t Task) Clone() Task {
	clone := t
	if t.AssignedAgents != nil {
		clone.AssignedAgents = make([]string, len(t.AssignedAgents))
		copy(clone.AssignedAgents, t.AssignedAgents)
	}
	if t.Dependencies != nil {
		clone.Dependencies = make([]string, len(t.Dependencies))
		copy(clone.Dependencies, t.Dependencies)
	}
	if t.Result != nil {
		clone.Result = make([]byte, len(t.Result))
		copy(clone.Result, t.Result)
	}
	clone.AssignedAt = cloneTime(t.AssignedAt)
	clone.StartedAt = cloneTime(t.StartedAt)
	clone.CompletedAt = cloneTime(t.CompletedAt)
	clone.ClaimedAt = cloneTime(t.ClaimedAt)
	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Assign returns a copy of the task assigned to the given agent.
// The agent is appended to AssignedAgents and AssignedAt is set.
func (t Task) Assign(agentID string) Task {
	out := t.Clone()
	out.AssignedAgents = append(out.AssignedAgents, agentID)
	out.Status = StatusAssigned
	now := time.Now()
	out.AssignedAt = &now
	return out
}

// Unassign returns a copy of the task with assignment state reset,
// ready to be re-queued.
func (t Task) Unassign() Task {
	out := t.Clone()
	out.AssignedAgents = nil
	out.Status = StatusAvailable
	out.AssignedAt = nil
	return out
}

// Start returns a copy of the task marked as started.
func (t Task) Start() Task {
	out := t.Clone()
	out.Status = StatusStarted
	now := time.Now()
	out.StartedAt = &now
	return out
}

// Progress returns a copy of the task with updated progress.
// Percent is clamped to [0,100].
func (t Task) Progress(percent int, message string) Task {
	out := t.Clone()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	out.Status = StatusInProgress
	out.PercentComplete = percent
	out.StatusMessage = message
	return out
}

// Block returns a copy of the task marked as blocked.
func (t Task) Block(reason string) Task {
	out := t.Clone()
	out.Status = StatusBlocked
	out.StatusMessage = reason
	return out
}

// Complete returns a copy of the task marked completed.
// PercentComplete is forced to 100.
func (t Task) Complete(result []byte) Task {
	out := t.Clone()
	out.Status = StatusCompleted
	out.PercentComplete = 100
	now := time.Now()
	out.CompletedAt = &now
	if result != nil {
		out.Result = make([]byte, len(result))
		copy(out.Result, result)
	}
	return out
}

// Fail returns a copy of the task marked failed.
func (t Task) Fail(reason string) Task {
	out := t.Clone()
	out.Status = StatusFailed
	out.StatusMessage = reason
	now := time.Now()
	out.CompletedAt = &now
	return out
}

// Claimed returns a copy of the task with ClaimedAt recorded.
func (t Task) Claimed(at time.Time) Task {
	out := t.Clone()
	out.ClaimedAt = &at
	return out
}

// Available reports whether the task can be assigned right now.
// With a nil index the task must have no dependencies; otherwise every
// dependency must resolve to a completed task in the index.
func (t Task) Available(index Index) bool {
	if t.Status != StatusAvailable {
		return false
	}
	if index == nil {
		return len(t.Dependencies) == 0
	}
	for _, dep := range t.Dependencies {
		d, ok := index.Lookup(dep)
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Terminal reports whether the task is in a terminal state.
func (t Task) Terminal() bool {
	return t.Status.IsTerminal()
}
