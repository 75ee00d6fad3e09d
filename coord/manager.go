package coord

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/coordkit/coordkit/bus"
	"github.com/coordkit/coordkit/config"
	"github.com/coordkit/coordkit/conflict"
	"github.com/coordkit/coordkit/depgraph"
	"github.com/coordkit/coordkit/errors"
	"github.com/coordkit/coordkit/index"
	"github.com/coordkit/coordkit/logging"
	"github.com/coordkit/coordkit/queue"
	"github.com/coordkit/coordkit/registry"
	"github.com/coordkit/coordkit/task"
)

// Observer receives a snapshot of each task added through the Manager.
// Work loops use it to wake up without polling.
type Observer func(t task.Task)

// Manager coordinates all per-agent queues, the global task index, the
// dependency graph, and the conflict resolver.
type Manager struct {
	cfg      config.Config
	log      *logging.Logger
	graph    *depgraph.Graph
	resolver *conflict.Resolver
	reg      registry.Registry
	bus      bus.MessageBus
	search   *index.TaskIndex
	idGen    func() string
	suitable queue.Suitability

	mu        sync.RWMutex
	queues    map[string]*queue.Queue
	all       map[string]task.Task // global task index
	homes     map[string]string    // task id -> agent id it was created for
	observers map[int]Observer
	nextObs   int

	unsubGraph func()
	cancelSubs []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the engine configuration.
func WithConfig(cfg config.Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Manager) {
		m.log = log.WithComponent("coord")
	}
}

// WithRegistry sets the agent facts source used for assignment.
func WithRegistry(reg registry.Registry) Option {
	return func(m *Manager) {
		m.reg = reg
	}
}

// WithBus publishes lifecycle events as JSON on
// tasks.lifecycle.<event> subjects.
func WithBus(mb bus.MessageBus) Option {
	return func(m *Manager) {
		m.bus = mb
	}
}

// WithSearchIndex keeps a full-text task index current on every
// lifecycle change.
func WithSearchIndex(ti *index.TaskIndex) Option {
	return func(m *Manager) {
		m.search = ti
	}
}

// WithIDGenerator sets a custom task id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.idGen = gen
	}
}

// WithSuitability sets the task/agent suitability check applied by
// every queue.
func WithSuitability(fn queue.Suitability) Option {
	return func(m *Manager) {
		m.suitable = fn
	}
}

// NewManager creates a Manager and wires unblock notifications back
// into re-enqueueing.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:       config.Default(),
		log:       logging.New().WithComponent("coord"),
		idGen:     uuid.NewString,
		suitable:  queue.AlwaysSuitable,
		queues:    make(map[string]*queue.Queue),
		all:       make(map[string]task.Task),
		homes:     make(map[string]string),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.graph = depgraph.New(depgraph.WithLogger(m.log))
	m.resolver = conflict.New(
		conflict.WithWindow(m.cfg.ResolutionWindow()),
		conflict.WithCorrelationLimit(m.cfg.CorrelationCacheLimit),
		conflict.WithLogger(m.log),
	)
	m.unsubGraph = m.graph.Subscribe(m.onUnblocked)

	return m
}

// Graph exposes the dependency tracker for inspection (blocking
// dependencies, cycles, chains).
func (m *Manager) Graph() *depgraph.Graph {
	return m.graph
}

// Resolver exposes the conflict resolver for introspection.
func (m *Manager) Resolver() *conflict.Resolver {
	return m.resolver
}

// CreateTask builds a task from a producer request, assigns it an id if
// needed, and routes it to the agent's queue via AddTask.
func (m *Manager) CreateTask(agentID, description string, dependencies []string, externalRef string) (task.Task, error) {
	t := task.New(m.idGen(), description, dependencies, externalRef)
	return m.AddTask(agentID, t)
}

// AddTask registers the task in the global index, records its
// dependency edges, and enqueues it on the target agent's queue with
// the global index in view. Tasks whose dependencies are incomplete
// stay parked in the global index until unblocked. The only hard error
// is a full queue.
func (m *Manager) AddTask(agentID string, t task.Task) (task.Task, error) {
	if t.ID == "" {
		t.ID = m.idGen()
	}
	if agentID == "" {
		return task.Task{}, errors.InvalidInput("agent id required", errors.WithTaskID(t.ID))
	}

	m.mu.Lock()
	m.all[t.ID] = t.Clone()
	m.homes[t.ID] = agentID
	m.mu.Unlock()

	m.graph.Add(t)
	if cycles := m.graph.DetectCycles(); len(cycles) > 0 {
		for _, c := range cycles {
			m.log.CycleDetected(c)
		}
	}

	q := m.queueFor(agentID)
	if err := q.Enqueue(t, m.snapshotIndex()); err != nil {
		m.mu.Lock()
		delete(m.all, t.ID)
		delete(m.homes, t.ID)
		m.mu.Unlock()
		// Demote, not Remove: tasks already registered with a
		// dependency on this id keep their edge, so a retried
		// AddTask for the same id can still unblock them.
		m.graph.Demote(t.ID)
		return task.Task{}, err
	}

	if m.search != nil {
		if err := m.search.Put(t); err != nil {
			m.log.Warn("index_put_failed", map[string]interface{}{
				"task": t.ID, "error": err.Error(),
			})
		}
	}

	m.notifyAdded(t)
	return t, nil
}

// RemoveTask deletes the task from the global index and from every
// agent's pending list. Returns true if the task was known anywhere.
func (m *Manager) RemoveTask(taskID string) bool {
	m.mu.Lock()
	_, known := m.all[taskID]
	delete(m.all, taskID)
	delete(m.homes, taskID)
	qs := make([]*queue.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		qs = append(qs, q)
	}
	m.mu.Unlock()

	removed := false
	for _, q := range qs {
		if q.Remove(taskID) {
			removed = true
		}
	}

	m.graph.Remove(taskID)
	if m.search != nil {
		_ = m.search.Delete(taskID)
	}

	return known || removed
}

// Claim routes a claim through the conflict resolver. Every claimant
// blocks until its batch resolves and receives the shared resolution;
// the winning claimant's call additionally triggers assignment on the
// winner's queue and returns the assigned task. A duplicate correlation
// id returns (nil, nil, nil).
func (m *Manager) Claim(ctx context.Context, cl conflict.Claim) (*conflict.Resolution, *task.Task, error) {
	res, err := m.resolver.Register(ctx, cl)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		return nil, nil, nil
	}

	if res.Winner.AgentID != cl.AgentID || !res.Winner.ClaimedAt.Equal(cl.ClaimedAt) {
		return res, nil, nil
	}

	assigned, err := m.AssignNext(res.Winner.AgentID)
	if err != nil {
		return res, nil, err
	}
	if assigned != nil {
		claimed := assigned.Claimed(res.Winner.ClaimedAt)
		m.mu.Lock()
		m.all[claimed.ID] = claimed
		m.mu.Unlock()
		*assigned = claimed
	}
	return res, assigned, nil
}

// AssignNext hands the next available, suitable task on the agent's
// queue to that agent, consulting the registry for agent facts.
func (m *Manager) AssignNext(agentID string) (*task.Task, error) {
	if m.reg == nil {
		return nil, errors.Internal("no registry configured")
	}
	facts, err := m.reg.Get(agentID)
	if err != nil {
		if err == registry.ErrNotFound {
			return nil, errors.AgentOffline(agentID, errors.WithCause(err))
		}
		return nil, errors.Wrap(err, "registry lookup failed", errors.WithAgentID(agentID))
	}

	q := m.queueFor(agentID)
	return q.AssignNext(*facts, m.snapshotIndex()), nil
}

// Lifecycle mutators, routed to the queue holding the assignment.

// MarkStarted marks the task's assignment as started.
func (m *Manager) MarkStarted(taskID string) error {
	q, err := m.homeQueue(taskID)
	if err != nil {
		return err
	}
	return q.MarkStarted(taskID)
}

// MarkBlocked marks the task's assignment as blocked.
func (m *Manager) MarkBlocked(taskID, reason string) error {
	q, err := m.homeQueue(taskID)
	if err != nil {
		return err
	}
	return q.MarkBlocked(taskID, reason)
}

// UpdateProgress records progress on the task's assignment.
func (m *Manager) UpdateProgress(taskID string, percent int, message string) error {
	q, err := m.homeQueue(taskID)
	if err != nil {
		return err
	}
	return q.UpdateProgress(taskID, percent, message)
}

// MarkCompleted completes the task's assignment, cascading unblock
// notifications to dependents.
func (m *Manager) MarkCompleted(taskID string, result []byte) error {
	q, err := m.homeQueue(taskID)
	if err != nil {
		return err
	}
	return q.MarkCompleted(taskID, result)
}

// MarkFailed fails the task's assignment. Retryable failures re-queue
// at the front of the pending list.
func (m *Manager) MarkFailed(taskID, reason string, retryable bool) error {
	q, err := m.homeQueue(taskID)
	if err != nil {
		return err
	}
	return q.MarkFailed(taskID, reason, retryable)
}

// Queue returns the agent's queue, creating it lazily.
func (m *Manager) Queue(agentID string) *queue.Queue {
	return m.queueFor(agentID)
}

// AgentQueue returns the agent's pending plus assigned tasks.
func (m *Manager) AgentQueue(agentID string) []task.Task {
	q := m.queueFor(agentID)
	return append(q.Pending(), q.Assigned()...)
}

// AllTasks returns every agent's pending plus assigned tasks.
func (m *Manager) AllTasks() map[string][]task.Task {
	m.mu.RLock()
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make(map[string][]task.Task, len(ids))
	for _, id := range ids {
		out[id] = m.AgentQueue(id)
	}
	return out
}

// TaskByID returns the task from the global index.
func (m *Manager) TaskByID(taskID string) (task.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.all[taskID]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// AgentStats summarizes one agent's queue.
type AgentStats struct {
	AgentID  string
	Pending  int
	Assigned int
	Capacity int
}

// Stats returns queue statistics for one agent.
func (m *Manager) Stats(agentID string) AgentStats {
	q := m.queueFor(agentID)
	return AgentStats{
		AgentID:  agentID,
		Pending:  q.Len(),
		Assigned: len(q.Assigned()),
		Capacity: q.MaxSize(),
	}
}

// OverallStats summarizes the whole task universe.
type OverallStats struct {
	Agents   int
	Tasks    int
	ByStatus map[task.Status]int
}

// Overall returns statistics across all agents and tasks.
func (m *Manager) Overall() OverallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := OverallStats{
		Agents:   len(m.queues),
		Tasks:    len(m.all),
		ByStatus: make(map[task.Status]int),
	}
	for _, t := range m.all {
		stats.ByStatus[t.Status]++
	}
	return stats
}

// OnTaskAdded registers an observer for tasks added through the
// Manager. Returns an unsubscribe function.
func (m *Manager) OnTaskAdded(fn Observer) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Close detaches the Manager from the dependency graph and queue
// subscriptions. Queues, bus, and index are left to their owners.
func (m *Manager) Close() error {
	if m.unsubGraph != nil {
		m.unsubGraph()
		m.unsubGraph = nil
	}
	m.mu.Lock()
	cancels := m.cancelSubs
	m.cancelSubs = nil
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// --- internal wiring ---

// queueFor lazily creates the agent's queue and subscribes the Manager
// to its lifecycle events.
func (m *Manager) queueFor(agentID string) *queue.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[agentID]; ok {
		return q
	}

	q := queue.New(agentID,
		queue.WithMaxSize(m.cfg.QueueSizeFor(agentID)),
		queue.WithSuitability(m.suitable),
		queue.WithLogger(m.log),
	)
	cancel := q.Subscribe(m.onQueueEvent)
	m.cancelSubs = append(m.cancelSubs, cancel)
	m.queues[agentID] = q
	return q
}

// onQueueEvent keeps the global index and the dependency graph in step
// with every queue-side transition, then fans the event out to the bus
// and the search index.
func (m *Manager) onQueueEvent(ev queue.Event) {
	m.mu.Lock()
	if _, known := m.all[ev.Task.ID]; known {
		m.all[ev.Task.ID] = ev.Task.Clone()
	}
	m.mu.Unlock()

	// Mirror status; a completed transition cascades unblocking.
	m.graph.UpdateStatus(ev.Task.ID, ev.Task.Status)

	if m.search != nil {
		_ = m.search.Put(ev.Task)
	}

	if m.bus != nil {
		payload, err := json.Marshal(ev.Task)
		if err == nil {
			_ = m.bus.Publish(bus.LifecycleSubject(string(ev.Type)), payload)
		}
	}
}

// onUnblocked re-enqueues a task whose last dependency just completed.
func (m *Manager) onUnblocked(taskID string) {
	m.mu.RLock()
	t, ok := m.all[taskID]
	home := m.homes[taskID]
	m.mu.RUnlock()

	if !ok || home == "" || t.Status != task.StatusAvailable {
		return
	}

	q := m.queueFor(home)
	if err := q.Enqueue(t, m.snapshotIndex()); err != nil {
		m.log.Warn("unblock_requeue_failed", map[string]interface{}{
			"task": taskID, "agent": home, "error": err.Error(),
		})
	}
}

// snapshotIndex copies the global index for cross-agent availability
// checks without holding the Manager lock during queue calls.
func (m *Manager) snapshotIndex() task.MapIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(task.MapIndex, len(m.all))
	for id, t := range m.all {
		snap[id] = t
	}
	return snap
}

// homeQueue locates the queue that owns a task's assignment.
func (m *Manager) homeQueue(taskID string) (*queue.Queue, error) {
	m.mu.RLock()
	home, ok := m.homes[taskID]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("unknown task", errors.WithTaskID(taskID))
	}
	return m.queueFor(home), nil
}

// notifyAdded fans the task-added notification out to observers,
// isolated and concurrent.
func (m *Manager) notifyAdded(t task.Task) {
	m.mu.RLock()
	obs := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		obs = append(obs, o)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, o := range obs {
		wg.Add(1)
		go func(fn Observer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.SubscriberPanic("task_added", r)
				}
			}()
			fn(t.Clone())
		}(o)
	}
	wg.Wait()
}
