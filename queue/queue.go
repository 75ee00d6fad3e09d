package queue

import (
	stderrors "errors"
	"sync"

	"github.com/coordkit/coordkit/errors"
	"github.com/coordkit/coordkit/logging"
	"github.com/coordkit/coordkit/registry"
	"github.com/coordkit/coordkit/task"
)

// DefaultMaxSize bounds the pending list when no limit is configured.
const DefaultMaxSize = 10

// Common errors.
var (
	// ErrNotAssigned indicates the task is not in the assigned map.
	ErrNotAssigned = stderrors.New("task not assigned")
)

// Suitability decides whether a task fits an agent. The default accepts
// everything; capability matching is the intended extension point.
type Suitability func(t task.Task, agent registry.AgentFacts) bool

// AlwaysSuitable is the default suitability check.
func AlwaysSuitable(task.Task, registry.AgentFacts) bool {
	return true
}

// CapabilitySuitability returns a check requiring the agent to hold the
// capability recorded under the given task metadata lookup function.
func CapabilitySuitability(required func(task.Task) string) Suitability {
	return func(t task.Task, agent registry.AgentFacts) bool {
		cap := required(t)
		if cap == "" {
			return true
		}
		return registry.HasCapability(agent, cap)
	}
}

// Queue is one agent's bounded FIFO of pending tasks plus its assigned
// map.
type Queue struct {
	agentID  string
	maxSize  int
	suitable Suitability
	log      *logging.Logger

	mu       sync.Mutex
	pending  []task.Task
	assigned map[string]task.Task
	subs     map[int]Subscriber
	nextSub  int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize sets the pending list capacity.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithSuitability sets the task/agent suitability check.
func WithSuitability(fn Suitability) Option {
	return func(q *Queue) {
		if fn != nil {
			q.suitable = fn
		}
	}
}

// WithLogger sets the logger for warnings and event reports.
func WithLogger(log *logging.Logger) Option {
	return func(q *Queue) {
		q.log = log.WithComponent("queue")
	}
}

// New creates a queue for the given agent.
func New(agentID string, opts ...Option) *Queue {
	q := &Queue{
		agentID:  agentID,
		maxSize:  DefaultMaxSize,
		suitable: AlwaysSuitable,
		log:      logging.New().WithComponent("queue"),
		assigned: make(map[string]task.Task),
		subs:     make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AgentID returns the agent this queue belongs to.
func (q *Queue) AgentID() string {
	return q.agentID
}

// Enqueue appends a task to the pending list. Duplicates (already
// pending or already assigned) and tasks whose dependencies are not yet
// satisfied are logged and ignored; only a full queue is a hard error.
func (q *Queue) Enqueue(t task.Task, index task.Index) error {
	q.mu.Lock()

	if q.inPendingLocked(t.ID) {
		q.mu.Unlock()
		q.log.Warn("enqueue_duplicate", map[string]interface{}{
			"task": t.ID, "agent": q.agentID, "where": "pending",
		})
		return nil
	}
	if _, ok := q.assigned[t.ID]; ok {
		q.mu.Unlock()
		q.log.Warn("enqueue_duplicate", map[string]interface{}{
			"task": t.ID, "agent": q.agentID, "where": "assigned",
		})
		return nil
	}

	if len(q.pending) >= q.maxSize {
		size := len(q.pending)
		q.mu.Unlock()
		return errors.QueueFull(q.agentID, size, q.maxSize, errors.WithTaskID(t.ID))
	}

	if !t.Available(index) {
		q.mu.Unlock()
		q.log.Warn("enqueue_unavailable", map[string]interface{}{
			"task": t.ID, "agent": q.agentID, "status": t.Status.String(),
		})
		return nil
	}

	q.pending = append(q.pending, t.Clone())
	size := len(q.pending)
	subs := q.subscribersLocked()
	q.mu.Unlock()

	q.log.TaskEnqueued(t.ID, q.agentID, size)
	q.emit(subs, Event{Type: EventEnqueued, AgentID: q.agentID, Task: t})
	return nil
}

// Dequeue pops the task at the front of the pending list.
func (q *Queue) Dequeue() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return task.Task{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// AssignNext hands the first available, suitable pending task to the
// agent. Returns nil when the agent cannot take work (not connected,
// not available, or this queue already holds an assignment) or when no
// pending task qualifies.
func (q *Queue) AssignNext(agent registry.AgentFacts, index task.Index) *task.Task {
	if !agent.Connected || !agent.AvailableForWork {
		return nil
	}

	q.mu.Lock()
	if len(q.assigned) > 0 {
		q.mu.Unlock()
		return nil
	}

	idx := -1
	for i, t := range q.pending {
		if t.Available(index) && q.suitable(t, agent) {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return nil
	}

	t := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

	assigned := t.Assign(agent.ID)
	q.assigned[assigned.ID] = assigned
	subs := q.subscribersLocked()
	q.mu.Unlock()

	q.log.TaskAssigned(assigned.ID, agent.ID)
	q.emit(subs, Event{Type: EventAssigned, AgentID: q.agentID, Task: assigned})

	out := assigned.Clone()
	return &out
}

// Complete removes the task from the assigned map. Final status is the
// caller's responsibility; this is bookkeeping removal only.
func (q *Queue) Complete(taskID string) {
	q.mu.Lock()
	delete(q.assigned, taskID)
	q.mu.Unlock()
}

// Unassign resets the task's assignment state and re-inserts it at the
// front of the pending list, so previously started work is the first
// candidate for re-pickup.
func (q *Queue) Unassign(taskID string) error {
	q.mu.Lock()
	t, ok := q.assigned[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrNotAssigned
	}
	delete(q.assigned, taskID)

	reset := t.Unassign()
	q.pending = append([]task.Task{reset}, q.pending...)
	subs := q.subscribersLocked()
	q.mu.Unlock()

	q.emit(subs, Event{Type: EventUnassigned, AgentID: q.agentID, Task: reset})
	return nil
}

// MarkStarted transitions the assigned task to started.
func (q *Queue) MarkStarted(taskID string) error {
	return q.transition(taskID, EventStarted, func(t task.Task) task.Task {
		return t.Start()
	})
}

// MarkBlocked transitions the assigned task to blocked.
func (q *Queue) MarkBlocked(taskID, reason string) error {
	return q.transition(taskID, EventBlocked, func(t task.Task) task.Task {
		return t.Block(reason)
	})
}

// UpdateProgress records progress on the assigned task.
func (q *Queue) UpdateProgress(taskID string, percent int, message string) error {
	return q.transition(taskID, EventProgress, func(t task.Task) task.Task {
		return t.Progress(percent, message)
	})
}

// transition applies a task model transition to an assigned task and
// emits the matching event. The task stays in the assigned map.
func (q *Queue) transition(taskID string, event EventType, apply func(task.Task) task.Task) error {
	q.mu.Lock()
	t, ok := q.assigned[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrNotAssigned
	}
	next := apply(t)
	q.assigned[taskID] = next
	subs := q.subscribersLocked()
	q.mu.Unlock()

	q.emit(subs, Event{Type: event, AgentID: q.agentID, Task: next})
	return nil
}

// MarkCompleted transitions the assigned task to completed and removes
// it from the queue's bookkeeping.
func (q *Queue) MarkCompleted(taskID string, result []byte) error {
	q.mu.Lock()
	t, ok := q.assigned[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrNotAssigned
	}
	done := t.Complete(result)
	delete(q.assigned, taskID)
	subs := q.subscribersLocked()
	q.mu.Unlock()

	if done.StartedAt != nil && done.CompletedAt != nil {
		q.log.TaskCompleted(taskID, done.CompletedAt.Sub(*done.StartedAt))
	}
	q.emit(subs, Event{Type: EventCompleted, AgentID: q.agentID, Task: done})
	return nil
}

// MarkFailed transitions the assigned task to failed. A retryable
// failure returns the task to the front of the pending list; a terminal
// one removes it from active tracking.
func (q *Queue) MarkFailed(taskID, reason string, retryable bool) error {
	q.mu.Lock()
	t, ok := q.assigned[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrNotAssigned
	}

	failed := t.Fail(reason)
	delete(q.assigned, taskID)

	var requeued task.Task
	if retryable {
		requeued = failed.Unassign()
		q.pending = append([]task.Task{requeued}, q.pending...)
	}
	subs := q.subscribersLocked()
	q.mu.Unlock()

	q.log.TaskFailed(taskID, reason, retryable)
	q.emit(subs, Event{Type: EventFailed, AgentID: q.agentID, Task: failed})
	if retryable {
		q.emit(subs, Event{Type: EventUnassigned, AgentID: q.agentID, Task: requeued})
	}
	return nil
}

// Remove deletes a not-yet-assigned task from the pending list. Used
// for explicit cancellation. Returns true if the task was pending.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.pending {
		if t.ID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns a snapshot of the pending list in FIFO order.
func (q *Queue) Pending() []task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]task.Task, len(q.pending))
	for i, t := range q.pending {
		out[i] = t.Clone()
	}
	return out
}

// Assigned returns a snapshot of the assigned tasks.
func (q *Queue) Assigned() []task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]task.Task, 0, len(q.assigned))
	for _, t := range q.assigned {
		out = append(out, t.Clone())
	}
	return out
}

// AssignedTask returns the assigned task with the given id, if any.
func (q *Queue) AssignedTask(taskID string) (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.assigned[taskID]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// Len returns the pending list length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MaxSize returns the pending list capacity.
func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Subscribe registers a lifecycle event subscriber and returns an
// unsubscribe function.
func (q *Queue) Subscribe(fn Subscriber) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

func (q *Queue) inPendingLocked(taskID string) bool {
	for _, t := range q.pending {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

func (q *Queue) subscribersLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(q.subs))
	for _, s := range q.subs {
		subs = append(subs, s)
	}
	return subs
}

// emit fans an event out to all subscribers concurrently and waits for
// them. Panics are caught and logged per subscriber.
func (q *Queue) emit(subs []Subscriber, event Event) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(fn Subscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					q.log.SubscriberPanic(string(event.Type), r)
				}
			}()
			fn(event)
		}(sub)
	}
	wg.Wait()
}
