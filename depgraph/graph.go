package depgraph

import (
	"sort"
	"sync"

	"github.com/coordkit/coordkit/logging"
	"github.com/coordkit/coordkit/task"
)

// node is one vertex in the dependency graph. Placeholder nodes stand in
// for tasks referenced as dependencies before their own registration.
type node struct {
	deps        map[string]struct{}
	dependents  map[string]struct{}
	status      task.Status
	placeholder bool
}

func newNode() *node {
	return &node{
		deps:       make(map[string]struct{}),
		dependents: make(map[string]struct{}),
		status:     task.StatusAvailable,
	}
}

// Subscriber receives the id of a task whose dependencies all completed.
type Subscriber func(taskID string)

// Graph is the dependency tracker.
type Graph struct {
	mu      sync.RWMutex
	nodes   map[string]*node
	subs    map[int]Subscriber
	nextSub int
	log     *logging.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for subscriber failure reports.
func WithLogger(log *logging.Logger) Option {
	return func(g *Graph) {
		g.log = log.WithComponent("depgraph")
	}
}

// New creates an empty dependency graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes: make(map[string]*node),
		subs:  make(map[int]Subscriber),
		log:   logging.New().WithComponent("depgraph"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add inserts or updates the node for the task, recording its declared
// dependencies. Unknown dependency ids get placeholder nodes so edges
// can be recorded before the dependency's own task arrives.
func (g *Graph) Add(t task.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[t.ID]
	if !ok {
		n = newNode()
		g.nodes[t.ID] = n
	}
	n.placeholder = false
	n.status = t.Status

	for _, dep := range t.Dependencies {
		n.deps[dep] = struct{}{}

		dn, ok := g.nodes[dep]
		if !ok {
			dn = newNode()
			dn.placeholder = true
			g.nodes[dep] = dn
		}
		dn.dependents[t.ID] = struct{}{}
	}
}

// UpdateStatus mirrors a task's status onto its node. A transition to
// completed cascades to dependents.
func (g *Graph) UpdateStatus(taskID string, status task.Status) {
	g.mu.Lock()
	n, ok := g.nodes[taskID]
	if !ok {
		n = newNode()
		n.placeholder = true
		g.nodes[taskID] = n
	}
	n.status = status
	g.mu.Unlock()

	if status == task.StatusCompleted {
		g.checkUnblocked(taskID)
	}
}

// checkUnblocked fires one notification per dependent that just became
// fully unblocked. The notification is batched per dependent, never once
// per completed dependency.
func (g *Graph) checkUnblocked(taskID string) {
	g.mu.RLock()
	n, ok := g.nodes[taskID]
	if !ok {
		g.mu.RUnlock()
		return
	}

	var unblocked []string
	for dep := range n.dependents {
		dn, ok := g.nodes[dep]
		if !ok || dn.status != task.StatusAvailable {
			continue
		}
		if g.depsCompletedLocked(dep) {
			unblocked = append(unblocked, dep)
		}
	}
	subs := make([]Subscriber, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.RUnlock()

	sort.Strings(unblocked)
	for _, id := range unblocked {
		g.log.TaskUnblocked(id)
		g.notify(subs, id)
	}
}

// notify fans out one unblock notification to all subscribers
// concurrently and waits for them to finish. Panics are caught and
// logged per subscriber.
func (g *Graph) notify(subs []Subscriber, taskID string) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(fn Subscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					g.log.SubscriberPanic("unblock", r)
				}
			}()
			fn(taskID)
		}(sub)
	}
	wg.Wait()
}

// DependenciesCompleted reports whether every dependency of the task has
// a completed mirrored status. Unknown tasks have no dependencies and
// report true.
func (g *Graph) DependenciesCompleted(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depsCompletedLocked(taskID)
}

func (g *Graph) depsCompletedLocked(taskID string) bool {
	n, ok := g.nodes[taskID]
	if !ok {
		return true
	}
	for dep := range n.deps {
		dn, ok := g.nodes[dep]
		if !ok || dn.status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// BlockingDependencies returns the ids of dependencies that are not yet
// completed, sorted for stable output.
func (g *Graph) BlockingDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[taskID]
	if !ok {
		return nil
	}

	var blocking []string
	for dep := range n.deps {
		dn, ok := g.nodes[dep]
		if !ok || dn.status != task.StatusCompleted {
			blocking = append(blocking, dep)
		}
	}
	sort.Strings(blocking)
	return blocking
}

// DetectCycles runs a depth-first search per node and returns every
// discovered cycle as the path of ids forming it. Detection never
// fails; an empty result means the graph is acyclic.
func (g *Graph) DetectCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cycles [][]string
	visited := make(map[string]bool)

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if visited[id] {
			continue
		}
		onPath := make(map[string]int)
		g.cycleDFS(id, nil, onPath, visited, &cycles)
	}
	return cycles
}

// cycleDFS walks dependency edges tracking the active path. Revisiting a
// node already on the path yields the cycle slice from its first
// occurrence.
func (g *Graph) cycleDFS(id string, path []string, onPath map[string]int, visited map[string]bool, cycles *[][]string) {
	if idx, ok := onPath[id]; ok {
		cycle := make([]string, len(path)-idx)
		copy(cycle, path[idx:])
		*cycles = append(*cycles, cycle)
		return
	}
	if visited[id] {
		return
	}
	visited[id] = true
	onPath[id] = len(path)
	path = append(path, id)

	n, ok := g.nodes[id]
	if ok {
		deps := make([]string, 0, len(n.deps))
		for dep := range n.deps {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			g.cycleDFS(dep, path, onPath, visited, cycles)
		}
	}

	delete(onPath, id)
}

// DependencyChain returns every transitive dependency of the task,
// depth-first. A visited set terminates the walk on cyclic graphs.
func (g *Graph) DependencyChain(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{taskID: true}
	var chain []string
	g.chainDFS(taskID, visited, &chain)
	return chain
}

func (g *Graph) chainDFS(id string, visited map[string]bool, chain *[]string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	deps := make([]string, 0, len(n.deps))
	for dep := range n.deps {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		if visited[dep] {
			continue
		}
		visited[dep] = true
		*chain = append(*chain, dep)
		g.chainDFS(dep, visited, chain)
	}
}

// Remove severs the task's edges in both directions, then deletes the
// node.
func (g *Graph) Remove(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[taskID]
	if !ok {
		return
	}

	for dep := range n.deps {
		if dn, ok := g.nodes[dep]; ok {
			delete(dn.dependents, taskID)
		}
	}
	for dep := range n.dependents {
		if dn, ok := g.nodes[dep]; ok {
			delete(dn.deps, taskID)
		}
	}
	delete(g.nodes, taskID)
}

// Demote reverts the task's node to a placeholder: its own dependency
// edges are severed, but edges other tasks declared on it survive, so
// a later re-registration still unblocks those dependents. The node is
// deleted outright when nothing depends on it.
func (g *Graph) Demote(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[taskID]
	if !ok {
		return
	}

	for dep := range n.deps {
		if dn, ok := g.nodes[dep]; ok {
			delete(dn.dependents, taskID)
		}
	}

	if len(n.dependents) == 0 {
		delete(g.nodes, taskID)
		return
	}
	n.deps = make(map[string]struct{})
	n.status = task.StatusAvailable
	n.placeholder = true
}

// Contains reports whether the graph has a non-placeholder node for the
// task.
func (g *Graph) Contains(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[taskID]
	return ok && !n.placeholder
}

// Subscribe registers a callback for unblock notifications and returns
// an unsubscribe function.
func (g *Graph) Subscribe(fn Subscriber) func() {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}
