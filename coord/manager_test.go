package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coordkit/coordkit/bus"
	"github.com/coordkit/coordkit/config"
	"github.com/coordkit/coordkit/conflict"
	"github.com/coordkit/coordkit/errors"
	"github.com/coordkit/coordkit/logging"
	"github.com/coordkit/coordkit/registry"
	"github.com/coordkit/coordkit/task"
)

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ResolutionWindowMS = 50
	return cfg
}

func testRegistry(t *testing.T, agentIDs ...string) registry.Registry {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	for _, id := range agentIDs {
		err := reg.Register(registry.AgentFacts{
			ID:               id,
			Connected:        true,
			AvailableForWork: true,
			LastSeen:         time.Now(),
		})
		if err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func testManager(t *testing.T, reg registry.Registry, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithConfig(testConfig()),
		WithLogger(quietLogger()),
		WithRegistry(reg),
	}, opts...)
	m := NewManager(opts...)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateTaskGeneratesID(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	created, err := m.CreateTask("agent-1", "review pull request", nil, "pr-42")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Expected a generated task id")
	}
	if created.Status != task.StatusAvailable {
		t.Errorf("Expected available status, got %s", created.Status)
	}

	got, ok := m.TaskByID(created.ID)
	if !ok {
		t.Fatal("Task missing from the global index")
	}
	if got.Description != "review pull request" || got.ExternalRef != "pr-42" {
		t.Errorf("Unexpected stored task: %+v", got)
	}
}

func TestAddTaskRequiresAgent(t *testing.T) {
	reg := testRegistry(t)
	m := testManager(t, reg)

	_, err := m.AddTask("", task.New("T", "orphan", nil, ""))
	if err == nil {
		t.Fatal("Expected error for empty agent id")
	}
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Expected invalid input error, got %v", err)
	}
}

func TestAddTaskFullQueueRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg, WithConfig(cfg))

	if _, err := m.AddTask("agent-1", task.New("T1", "first", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	_, err := m.AddTask("agent-1", task.New("T2", "overflow", nil, ""))
	if !errors.Is(err, errors.ErrCodeQueueFull) {
		t.Fatalf("Expected queue full error, got %v", err)
	}

	if _, ok := m.TaskByID("T2"); ok {
		t.Error("Rejected task should not stay in the global index")
	}
	if m.Graph().Contains("T2") {
		t.Error("Rejected task should not stay in the dependency graph")
	}
}

func TestAssignAndLifecycle(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("T1", "work", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	got, err := m.AssignNext("agent-1")
	if err != nil {
		t.Fatalf("AssignNext failed: %v", err)
	}
	if got == nil || got.ID != "T1" {
		t.Fatalf("Expected T1 assigned, got %v", got)
	}

	if err := m.MarkStarted("T1"); err != nil {
		t.Fatalf("MarkStarted failed: %v", err)
	}
	if err := m.UpdateProgress("T1", 60, "running checks"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	stored, _ := m.TaskByID("T1")
	if stored.Status != task.StatusInProgress || stored.PercentComplete != 60 {
		t.Errorf("Global index out of step: %s at %d", stored.Status, stored.PercentComplete)
	}

	if err := m.MarkCompleted("T1", []byte("ok")); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	stored, _ = m.TaskByID("T1")
	if stored.Status != task.StatusCompleted {
		t.Errorf("Expected completed, got %s", stored.Status)
	}
	if string(stored.Result) != "ok" {
		t.Errorf("Expected result preserved, got %q", stored.Result)
	}
}

func TestAssignNextUnknownAgent(t *testing.T) {
	reg := testRegistry(t)
	m := testManager(t, reg)

	_, err := m.AssignNext("ghost")
	if !errors.Is(err, errors.ErrCodeAgentOffline) {
		t.Errorf("Expected agent offline error, got %v", err)
	}
}

func TestDependencyGatingAndUnblock(t *testing.T) {
	reg := testRegistry(t, "agent-1", "agent-2")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("A", "prerequisite", nil, "")); err != nil {
		t.Fatalf("AddTask A failed: %v", err)
	}
	if _, err := m.AddTask("agent-2", task.New("B", "dependent", []string{"A"}, "")); err != nil {
		t.Fatalf("AddTask B failed: %v", err)
	}

	// B's dependency is incomplete, so it parks in the global index.
	if m.Queue("agent-2").Len() != 0 {
		t.Fatal("Gated task should not be pending yet")
	}

	assigned, err := m.AssignNext("agent-1")
	if err != nil || assigned == nil || assigned.ID != "A" {
		t.Fatalf("Expected A assigned, got %v, %v", assigned, err)
	}
	if err := m.MarkCompleted("A", nil); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Completion cascades synchronously; B is re-enqueued by the time
	// MarkCompleted returns.
	pending := m.Queue("agent-2").Pending()
	if len(pending) != 1 || pending[0].ID != "B" {
		t.Fatalf("Expected B re-enqueued on agent-2, got %v", pending)
	}

	got, err := m.AssignNext("agent-2")
	if err != nil || got == nil || got.ID != "B" {
		t.Fatalf("Expected B assignable after unblock, got %v, %v", got, err)
	}
}

func TestRejectedAddTaskRetryStillUnblocksDependents(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	reg := testRegistry(t, "agent-1", "agent-2", "agent-3")
	m := testManager(t, reg, WithConfig(cfg))

	// D registers first, waiting on a task that does not exist yet.
	if _, err := m.AddTask("agent-2", task.New("D", "dependent", []string{"T1"}, "")); err != nil {
		t.Fatalf("AddTask D failed: %v", err)
	}

	// T1's first registration bounces off a full queue.
	if _, err := m.AddTask("agent-1", task.New("filler", "occupies the slot", nil, "")); err != nil {
		t.Fatalf("AddTask filler failed: %v", err)
	}
	_, err := m.AddTask("agent-1", task.New("T1", "prerequisite", nil, ""))
	if !errors.Is(err, errors.ErrCodeQueueFull) {
		t.Fatalf("Expected queue full error, got %v", err)
	}

	// The retry lands on an agent with room.
	if _, err := m.AddTask("agent-3", task.New("T1", "prerequisite", nil, "")); err != nil {
		t.Fatalf("Retried AddTask failed: %v", err)
	}

	assigned, err := m.AssignNext("agent-3")
	if err != nil || assigned == nil || assigned.ID != "T1" {
		t.Fatalf("Expected T1 assigned, got %v, %v", assigned, err)
	}
	if err := m.MarkCompleted("T1", nil); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// D's edge survived the rollback; completion re-enqueues it.
	pending := m.Queue("agent-2").Pending()
	if len(pending) != 1 || pending[0].ID != "D" {
		t.Fatalf("Expected D re-enqueued after T1 completed, got %v", pending)
	}
}

func TestClaimEarliestWins(t *testing.T) {
	reg := testRegistry(t, "agent-1", "agent-2")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("T1", "contested", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	base := time.Now()
	type outcome struct {
		res      *conflict.Resolution
		assigned *task.Task
		err      error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for i, cl := range []conflict.Claim{
		{TaskID: "T1", AgentID: "agent-1", ClaimedAt: base, CorrelationID: "c1"},
		{TaskID: "T1", AgentID: "agent-2", ClaimedAt: base.Add(10 * time.Millisecond), CorrelationID: "c2"},
	} {
		wg.Add(1)
		go func(cl conflict.Claim, delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			res, assigned, err := m.Claim(context.Background(), cl)
			results <- outcome{res, assigned, err}
		}(cl, time.Duration(i)*5*time.Millisecond)
	}
	wg.Wait()
	close(results)

	var winners int
	for out := range results {
		if out.err != nil {
			t.Fatalf("Claim failed: %v", out.err)
		}
		if out.res == nil {
			t.Fatal("Expected a shared resolution")
		}
		if out.res.Winner.AgentID != "agent-1" {
			t.Errorf("Expected agent-1 to win, got %s", out.res.Winner.AgentID)
		}
		if out.assigned != nil {
			winners++
			if out.assigned.ID != "T1" {
				t.Errorf("Expected T1 assigned, got %s", out.assigned.ID)
			}
			if out.assigned.ClaimedAt == nil || !out.assigned.ClaimedAt.Equal(base) {
				t.Error("Winner's ClaimedAt not recorded on the task")
			}
		}
	}
	if winners != 1 {
		t.Fatalf("Exactly one claimant should receive the assignment, got %d", winners)
	}

	stored, _ := m.TaskByID("T1")
	if stored.Status != task.StatusAssigned {
		t.Errorf("Expected assigned, got %s", stored.Status)
	}
	if len(stored.AssignedAgents) != 1 || stored.AssignedAgents[0] != "agent-1" {
		t.Errorf("Expected winner assigned, got %v", stored.AssignedAgents)
	}
}

func TestClaimDuplicateCorrelation(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("T1", "work", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	cl := conflict.Claim{TaskID: "T1", AgentID: "agent-1", ClaimedAt: time.Now(), CorrelationID: "once"}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, _, err := m.Claim(context.Background(), cl); err != nil {
			t.Errorf("Claim failed: %v", err)
		}
	}()

	// Wait for the first delivery to land, then retry it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !m.Resolver().WouldConflict("T1") {
		time.Sleep(time.Millisecond)
	}
	res, assigned, err := m.Claim(context.Background(), cl)
	if err != nil {
		t.Fatalf("Duplicate claim errored: %v", err)
	}
	if res != nil || assigned != nil {
		t.Error("Duplicate correlation id should resolve to nothing")
	}
	wg.Wait()
}

func TestRemoveTask(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("T1", "work", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	if !m.RemoveTask("T1") {
		t.Fatal("RemoveTask should report the task removed")
	}
	if _, ok := m.TaskByID("T1"); ok {
		t.Error("Removed task still in the global index")
	}
	if m.Queue("agent-1").Len() != 0 {
		t.Error("Removed task still pending")
	}
	if m.Graph().Contains("T1") {
		t.Error("Removed task still in the dependency graph")
	}
	if m.RemoveTask("T1") {
		t.Error("Second remove should find nothing")
	}
}

func TestRetryableFailureRequeues(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	if _, err := m.AddTask("agent-1", task.New("T1", "flaky", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if _, err := m.AssignNext("agent-1"); err != nil {
		t.Fatalf("AssignNext failed: %v", err)
	}
	if err := m.MarkFailed("T1", "network blip", true); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	pending := m.Queue("agent-1").Pending()
	if len(pending) != 1 || pending[0].ID != "T1" {
		t.Fatalf("Expected T1 requeued, got %v", pending)
	}
	stored, _ := m.TaskByID("T1")
	if stored.Status != task.StatusAvailable {
		t.Errorf("Requeued task should be available in the index, got %s", stored.Status)
	}

	again, err := m.AssignNext("agent-1")
	if err != nil || again == nil || again.ID != "T1" {
		t.Fatalf("Expected T1 reassignable, got %v, %v", again, err)
	}
}

func TestBusPublishesLifecycle(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	mb := bus.NewMemoryBus(bus.Config{BufferSize: 64})
	t.Cleanup(func() { mb.Close() })

	sub, err := mb.Subscribe(bus.LifecycleSubject("completed"))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	m := testManager(t, reg, WithBus(mb))
	if _, err := m.AddTask("agent-1", task.New("T1", "work", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if _, err := m.AssignNext("agent-1"); err != nil {
		t.Fatalf("AssignNext failed: %v", err)
	}
	if err := m.MarkCompleted("T1", []byte("done")); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var got task.Task
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if got.ID != "T1" || got.Status != task.StatusCompleted {
			t.Errorf("Unexpected published task: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the completed event")
	}
}

func TestOnTaskAddedObserver(t *testing.T) {
	reg := testRegistry(t, "agent-1")
	m := testManager(t, reg)

	var mu sync.Mutex
	var seen []string
	unsubscribe := m.OnTaskAdded(func(t task.Task) {
		mu.Lock()
		seen = append(seen, t.ID)
		mu.Unlock()
	})

	m.AddTask("agent-1", task.New("T1", "work", nil, ""))
	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n != 1 || seen[0] != "T1" {
		t.Fatalf("Expected observer to see T1, got %v", seen)
	}

	unsubscribe()
	m.AddTask("agent-1", task.New("T2", "work", nil, ""))
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Error("Unsubscribed observer still notified")
	}
}

func TestStatsAndOverall(t *testing.T) {
	reg := testRegistry(t, "agent-1", "agent-2")
	m := testManager(t, reg)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("T%d", i)
		if _, err := m.AddTask("agent-1", task.New(id, "work", nil, "")); err != nil {
			t.Fatalf("AddTask failed: %v", err)
		}
	}
	if _, err := m.AssignNext("agent-1"); err != nil {
		t.Fatalf("AssignNext failed: %v", err)
	}

	stats := m.Stats("agent-1")
	if stats.Pending != 2 || stats.Assigned != 1 {
		t.Errorf("Expected 2 pending / 1 assigned, got %+v", stats)
	}
	if stats.Capacity != config.Default().MaxQueueSize {
		t.Errorf("Expected default capacity, got %d", stats.Capacity)
	}

	overall := m.Overall()
	if overall.Tasks != 3 {
		t.Errorf("Expected 3 tasks overall, got %d", overall.Tasks)
	}
	if overall.ByStatus[task.StatusAssigned] != 1 {
		t.Errorf("Expected 1 assigned, got %d", overall.ByStatus[task.StatusAssigned])
	}
	if overall.ByStatus[task.StatusAvailable] != 2 {
		t.Errorf("Expected 2 available, got %d", overall.ByStatus[task.StatusAvailable])
	}
}

func TestPerAgentQueueOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = map[string]config.AgentConfig{
		"small": {MaxQueueSize: 1},
	}
	reg := testRegistry(t, "small")
	m := testManager(t, reg, WithConfig(cfg))

	if m.Stats("small").Capacity != 1 {
		t.Fatalf("Expected per-agent capacity 1, got %d", m.Stats("small").Capacity)
	}
	if _, err := m.AddTask("small", task.New("T1", "work", nil, "")); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	_, err := m.AddTask("small", task.New("T2", "overflow", nil, ""))
	if !errors.Is(err, errors.ErrCodeQueueFull) {
		t.Errorf("Expected queue full on override limit, got %v", err)
	}
}
