// Package lease implements the per-key leader/follower coalescing protocol.
//
// For any key, at most one lease is live at a time. The first caller to arrive
// becomes the leader and owns the real work; everyone else becomes a follower
// and waits for the leader's published Result. Publication is a channel-close
// broadcast: the leader stores the Result and closes the lease's done channel,
// so every follower performs one independent read of the same shared value
// with no payload copies and no callback lists.
//
// The leader role is a scoped resource. A Handle must be finalized on every
// exit path: Complete publishes a Result, Abandon wakes followers with
// ErrAbandoned. Both are idempotent after the first finalize, so
// `defer h.Abandon()` after a successful Complete is a no-op. An entry is
// removed from the table inside finalize, which is what guarantees that a new
// leader for the key can only be elected after the previous lease reached a
// terminal state.
//
// Keys are partitioned across shards (see internal/shard) so that unrelated
// keys never contend on the same mutex. The shard mutex is only ever held for
// map operations, never across the leader's work or a follower's wait.
package lease

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/coalstore/internal/shard"
)

// ErrAbandoned is delivered to followers whose leader released the lease
// without publishing a result (cancellation, panic, early teardown).
// It is retryable: the lease slot is already free when followers observe it.
var ErrAbandoned = errors.New("lease: abandoned by leader")

// Result is the terminal outcome of a lease, shared by reference with every
// follower. Found reports whether the key exists in the backing store; Value
// is non-nil only when the leader actually materialized the payload (a
// presence-only leader leaves it nil). Err carries the leader's failure and is
// delivered verbatim to all waiters.
type Result struct {
	Found bool
	Value []byte
	Err   error
}

type call struct {
	done      chan struct{} // closed exactly once, after res is stored
	res       Result
	waiters   int           // guarded by the owning shard's mutex
	finalized bool          // guarded by the owning shard's mutex
}

type tableShard struct {
	mu sync.Mutex
	m  map[string]*call
}

// Table tracks in-flight leases, sharded by key.
type Table struct {
	router *shard.Router
	shards []tableShard
}

// NewTable builds a Table over n virtual shards (n <= 0 selects the default,
// see shard.ReasonableCount).
func NewTable(n int) *Table {
	r := shard.NewRouter(n)
	t := &Table{
		router: r,
		shards: make([]tableShard, r.Count()),
	}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*call)
	}
	return t
}

// Shards returns the shard count the table was built with.
func (t *Table) Shards() int { return t.router.Count() }

// JoinOrLead atomically either installs a new lease for key and returns a
// leader Handle (follower == nil), or joins the existing lease and returns a
// follower Waiter (leader == nil). Exactly one of the two is non-nil.
func (t *Table) JoinOrLead(key string) (*Handle, *Waiter) {
	sh := &t.shards[t.router.Index(key)]

	sh.mu.Lock()
	if c, ok := sh.m[key]; ok {
		c.waiters++
		sh.mu.Unlock()
		return nil, &Waiter{c: c}
	}
	c := &call{done: make(chan struct{})}
	sh.m[key] = c
	sh.mu.Unlock()

	return &Handle{t: t, sh: sh, key: key, c: c}, nil
}

// Inflight returns the number of live leases across all shards. Intended for
// tests and gauges; the value is stale the moment it is read.
func (t *Table) Inflight() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Handle is the leader's scoped ownership of a lease. Exactly one of
// Complete/Abandon takes effect; later calls are no-ops.
type Handle struct {
	t   *Table
	sh  *tableShard
	key string
	c   *call
}

// Complete publishes res and wakes every follower of the lease.
func (h *Handle) Complete(res Result) { h.finalize(res) }

// Abandon releases the lease without a result. Followers are woken with
// ErrAbandoned so they can retry against a fresh lease instead of hanging.
// Safe to defer unconditionally: a no-op once Complete has run. Returns true
// when this call finalized the lease (i.e. the lease really was abandoned).
func (h *Handle) Abandon() bool { return h.finalize(Result{Err: ErrAbandoned}) }

// Waiters returns how many followers had joined at finalize time (or so far).
func (h *Handle) Waiters() int {
	h.sh.mu.Lock()
	n := h.c.waiters
	h.sh.mu.Unlock()
	return n
}

func (h *Handle) finalize(res Result) bool {
	h.sh.mu.Lock()
	if h.c.finalized {
		h.sh.mu.Unlock()
		return false
	}
	h.c.finalized = true
	h.c.res = res
	// Remove the entry before waking followers: a follower that retries after
	// ErrAbandoned must find the slot free.
	if cur, ok := h.sh.m[h.key]; ok && cur == h.c {
		delete(h.sh.m, h.key)
	}
	h.sh.mu.Unlock()

	// res is stored before close; <-done in Wait therefore observes it.
	close(h.c.done)
	return true
}

// Waiter is a follower's handle on a lease in progress.
type Waiter struct {
	c *call
}

// Wait blocks until the lease is finalized or ctx is cancelled. Cancellation
// detaches only this follower; the leader and remaining followers are
// unaffected. On normal completion the shared Result is returned (its Err
// field carries the leader's failure, including ErrAbandoned).
func (w *Waiter) Wait(ctx context.Context) (Result, error) {
	select {
	case <-w.c.done:
		return w.c.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
