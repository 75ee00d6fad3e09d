package conflict

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coordkit/coordkit/logging"
)

const (
	// DefaultWindow is the simultaneity window for batching claims.
	DefaultWindow = time.Second

	// DefaultCorrelationLimit caps the de-duplication set before it is
	// cleared wholesale.
	DefaultCorrelationLimit = 10000
)

// Resolution reasons.
const (
	ReasonNoConflict    = "no conflict"
	ReasonEarliestClaim = "earliest claim wins"
)

// Claim is one agent's bid for a task.
type Claim struct {
	// TaskID identifies the contested task.
	TaskID string

	// AgentID identifies the claiming agent.
	AgentID string

	// ClaimedAt orders competing claims; earliest wins.
	ClaimedAt time.Time

	// CorrelationID de-duplicates retried deliveries of the same claim.
	// Optional; empty means no de-duplication.
	CorrelationID string
}

// Resolution is the outcome of one batching window for a task.
type Resolution struct {
	TaskID string
	Winner Claim
	Losers []Claim
	Reason string
}

// batch collects claims for one task until its window closes.
type batch struct {
	claims     []Claim
	done       chan struct{}
	resolution *Resolution // nil if every claim was withdrawn
}

// Resolver batches and adjudicates claims.
type Resolver struct {
	window           time.Duration
	correlationLimit int
	after            func(time.Duration) <-chan time.Time
	log              *logging.Logger

	mu      sync.Mutex
	pending map[string]*batch
	seen    map[string]struct{}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWindow sets the simultaneity window.
func WithWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithCorrelationLimit sets the de-duplication set size limit.
func WithCorrelationLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.correlationLimit = n
		}
	}
}

// WithAfterFunc replaces the window timer, letting tests trigger
// resolution deterministically.
func WithAfterFunc(after func(time.Duration) <-chan time.Time) Option {
	return func(r *Resolver) {
		r.after = after
	}
}

// WithLogger sets the logger for resolution reports.
func WithLogger(log *logging.Logger) Option {
	return func(r *Resolver) {
		r.log = log.WithComponent("conflict")
	}
}

// New creates a Resolver with the default window and limits.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		window:           DefaultWindow,
		correlationLimit: DefaultCorrelationLimit,
		after:            time.After,
		log:              logging.New().WithComponent("conflict"),
		pending:          make(map[string]*batch),
		seen:             make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a claim and waits out the simultaneity window before
// returning the resolution for the claim's batch. A claim whose
// correlation id was already seen returns (nil, nil) immediately.
// Register returns ctx.Err() if the context ends before the window
// closes, and (nil, nil) if every claim in the batch was withdrawn.
func (r *Resolver) Register(ctx context.Context, claim Claim) (*Resolution, error) {
	r.mu.Lock()
	if claim.CorrelationID != "" {
		if _, dup := r.seen[claim.CorrelationID]; dup {
			r.mu.Unlock()
			return nil, nil
		}
		r.rememberLocked(claim.CorrelationID)
	}

	b, ok := r.pending[claim.TaskID]
	if !ok {
		b = &batch{done: make(chan struct{})}
		r.pending[claim.TaskID] = b
		go r.resolveAfterWindow(claim.TaskID, b)
	}
	b.claims = append(b.claims, claim)
	r.mu.Unlock()

	select {
	case <-b.done:
		return b.resolution, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rememberLocked records a correlation id, clearing the whole set once
// it passes the limit. Coarse, but bounds memory without per-entry
// bookkeeping.
func (r *Resolver) rememberLocked(correlationID string) {
	if len(r.seen) >= r.correlationLimit {
		r.seen = make(map[string]struct{})
	}
	r.seen[correlationID] = struct{}{}
}

// resolveAfterWindow closes the batch when the window elapses.
func (r *Resolver) resolveAfterWindow(taskID string, b *batch) {
	<-r.after(r.window)

	r.mu.Lock()
	if r.pending[taskID] == b {
		delete(r.pending, taskID)
	}
	b.resolution = resolve(taskID, b.claims)
	r.mu.Unlock()

	if res := b.resolution; res != nil {
		r.log.ClaimResolved(res.TaskID, res.Winner.AgentID, len(res.Losers), res.Reason)
	}
	close(b.done)
}

// resolve picks the winner for a batch. Returns nil when the batch is
// empty (all claims withdrawn).
func resolve(taskID string, claims []Claim) *Resolution {
	if len(claims) == 0 {
		return nil
	}
	if len(claims) == 1 {
		return &Resolution{
			TaskID: taskID,
			Winner: claims[0],
			Reason: ReasonNoConflict,
		}
	}

	// Stable sort keeps registration order for equal timestamps.
	ordered := make([]Claim, len(claims))
	copy(ordered, claims)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClaimedAt.Before(ordered[j].ClaimedAt)
	})

	return &Resolution{
		TaskID: taskID,
		Winner: ordered[0],
		Losers: ordered[1:],
		Reason: ReasonEarliestClaim,
	}
}

// WouldConflict reports whether a new claim for the task would contend
// with claims already pending.
func (r *Resolver) WouldConflict(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[taskID]
	return ok && len(b.claims) > 0
}

// PendingClaims returns a copy of the claims currently batched for the
// task, in registration order.
func (r *Resolver) PendingClaims(taskID string) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[taskID]
	if !ok {
		return nil
	}
	out := make([]Claim, len(b.claims))
	copy(out, b.claims)
	return out
}

// Cancel withdraws an agent's pending claim before the window closes,
// for example when the agent disconnects. Returns true if a claim was
// removed. The batch entry disappears entirely when no claims remain.
func (r *Resolver) Cancel(taskID, agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.pending[taskID]
	if !ok {
		return false
	}

	removed := false
	kept := b.claims[:0]
	for _, c := range b.claims {
		if c.AgentID == agentID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	b.claims = kept

	if len(b.claims) == 0 {
		delete(r.pending, taskID)
	}
	return removed
}
