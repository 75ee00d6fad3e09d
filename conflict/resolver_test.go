package conflict

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/coordkit/coordkit/logging"
)

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

// manualWindow gives tests explicit control over when the simultaneity
// window closes. Each pending batch consumes one Release call.
type manualWindow struct {
	ch chan time.Time
}

func newManualWindow() *manualWindow {
	return &manualWindow{ch: make(chan time.Time)}
}

func (w *manualWindow) After(time.Duration) <-chan time.Time {
	return w.ch
}

func (w *manualWindow) Release() {
	w.ch <- time.Time{}
}

// waitForClaims polls until the resolver holds n claims for the task.
func waitForClaims(t *testing.T, r *Resolver, taskID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.PendingClaims(taskID)) == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d claims on %s", n, taskID)
}

func TestSingleClaimWinsNoConflict(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	type result struct {
		res *Resolution
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "c1",
		})
		done <- result{res, err}
	}()

	waitForClaims(t, r, "T", 1)
	w.Release()

	got := <-done
	if got.err != nil {
		t.Fatalf("Register failed: %v", got.err)
	}
	if got.res == nil {
		t.Fatal("Expected a resolution")
	}
	if got.res.Winner.AgentID != "a1" {
		t.Errorf("Expected winner a1, got %s", got.res.Winner.AgentID)
	}
	if got.res.Reason != ReasonNoConflict {
		t.Errorf("Expected reason %q, got %q", ReasonNoConflict, got.res.Reason)
	}
	if len(got.res.Losers) != 0 {
		t.Errorf("Expected no losers, got %d", len(got.res.Losers))
	}
}

func TestEarliestClaimWins(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	base := time.Now()
	results := make(chan *Resolution, 2)

	// Later timestamp registers first; earliest must still win.
	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "late", ClaimedAt: base.Add(50 * time.Millisecond), CorrelationID: "c-late",
		})
		results <- res
	}()
	waitForClaims(t, r, "T", 1)

	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "early", ClaimedAt: base, CorrelationID: "c-early",
		})
		results <- res
	}()
	waitForClaims(t, r, "T", 2)

	w.Release()

	for i := 0; i < 2; i++ {
		res := <-results
		if res == nil {
			t.Fatal("Expected shared resolution for both claimants")
		}
		if res.Winner.AgentID != "early" {
			t.Errorf("Expected winner early, got %s", res.Winner.AgentID)
		}
		if res.Reason != ReasonEarliestClaim {
			t.Errorf("Expected reason %q, got %q", ReasonEarliestClaim, res.Reason)
		}
		if len(res.Losers) != 1 || res.Losers[0].AgentID != "late" {
			t.Errorf("Expected losers [late], got %v", res.Losers)
		}
		if res.Winner.ClaimedAt.After(res.Losers[0].ClaimedAt) {
			t.Error("Winner claimed after a loser")
		}
	}
}

func TestTieFallsBackToRegistrationOrder(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	at := time.Now()
	results := make(chan *Resolution, 2)

	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "first", ClaimedAt: at, CorrelationID: "c1",
		})
		results <- res
	}()
	waitForClaims(t, r, "T", 1)

	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "second", ClaimedAt: at, CorrelationID: "c2",
		})
		results <- res
	}()
	waitForClaims(t, r, "T", 2)

	w.Release()

	res := <-results
	<-results
	if res.Winner.AgentID != "first" {
		t.Errorf("Equal timestamps should keep registration order; winner %s", res.Winner.AgentID)
	}
}

func TestDuplicateCorrelationIDDropped(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	go func() {
		r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "dup",
		})
	}()
	waitForClaims(t, r, "T", 1)

	// Retried delivery with the same correlation id.
	res, err := r.Register(context.Background(), Claim{
		TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "dup",
	})
	if err != nil {
		t.Fatalf("Duplicate register errored: %v", err)
	}
	if res != nil {
		t.Fatal("Duplicate correlation id must return nil")
	}
	if n := len(r.PendingClaims("T")); n != 1 {
		t.Errorf("Pending claim count changed on duplicate: %d", n)
	}

	w.Release()
}

func TestCancelClaim(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	done := make(chan *Resolution, 1)
	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "c1",
		})
		done <- res
	}()
	waitForClaims(t, r, "T", 1)

	if !r.Cancel("T", "a1") {
		t.Fatal("Cancel should report a removed claim")
	}
	if r.Cancel("T", "a1") {
		t.Error("Second cancel should find nothing")
	}
	if r.WouldConflict("T") {
		t.Error("No pending claims should remain after cancel")
	}

	w.Release()
	if res := <-done; res != nil {
		t.Errorf("Withdrawn batch should resolve to nil, got %+v", res)
	}
}

func TestWouldConflictAndPendingClaims(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	if r.WouldConflict("T") {
		t.Error("Empty resolver should not report conflict")
	}

	go func() {
		r.Register(context.Background(), Claim{
			TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "c1",
		})
	}()
	waitForClaims(t, r, "T", 1)

	if !r.WouldConflict("T") {
		t.Error("Pending claim should report conflict")
	}
	claims := r.PendingClaims("T")
	if len(claims) != 1 || claims[0].AgentID != "a1" {
		t.Errorf("Unexpected pending claims: %v", claims)
	}

	w.Release()
}

func TestContextCancellation(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Register(ctx, Claim{
			TaskID: "T", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "c1",
		})
		done <- err
	}()
	waitForClaims(t, r, "T", 1)

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	w.Release()
}

func TestCorrelationSetWholesaleClear(t *testing.T) {
	w := newManualWindow()
	r := New(WithAfterFunc(w.After), WithCorrelationLimit(2), WithLogger(quietLogger()))

	register := func(taskID, agentID, corr string) {
		go func() {
			r.Register(context.Background(), Claim{
				TaskID: taskID, AgentID: agentID, ClaimedAt: time.Now(), CorrelationID: corr,
			})
		}()
		waitForClaims(t, r, taskID, 1)
		w.Release()
		// Wait for the batch to drain.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && len(r.PendingClaims(taskID)) > 0 {
			time.Sleep(time.Millisecond)
		}
	}

	register("T1", "a1", "c1")
	register("T2", "a1", "c2")
	// The set is at the limit; the next id clears it wholesale.
	register("T3", "a1", "c3")

	// c1 was cleared, so its retry is no longer treated as a duplicate.
	done := make(chan *Resolution, 1)
	go func() {
		res, _ := r.Register(context.Background(), Claim{
			TaskID: "T4", AgentID: "a1", ClaimedAt: time.Now(), CorrelationID: "c1",
		})
		done <- res
	}()
	waitForClaims(t, r, "T4", 1)
	w.Release()

	if res := <-done; res == nil {
		t.Error("Correlation id should have been evicted by the wholesale clear")
	}
}
