// Package admission gates calls to the backing store behind a concurrency
// limit. The limit is not owned here: callers supply a Source returning a
// cheap read-only Snapshot, refreshed by whatever pushes configuration into
// the process. The gate re-reads the snapshot on every Acquire and behaves
// correctly when it changes between calls.
package admission

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrRejected is returned when the gate sheds a request instead of queueing
// it (capacity exhausted with a non-blocking snapshot, or a non-positive
// limit). Callers should back off rather than retry immediately.
var ErrRejected = errors.New("admission: rejected by gate")

// Snapshot is a point-in-time view of the gate's configuration.
type Snapshot struct {
	// Enabled turns the gate on. When false, Acquire always succeeds
	// immediately and the returned permit is a no-op.
	Enabled bool
	// Limit is the maximum number of concurrently held permits. A
	// non-positive limit with Enabled=true rejects everything.
	Limit int64
	// Blocking selects queueing over shedding when the gate is full:
	// true suspends Acquire until a permit frees up or ctx is cancelled,
	// false fails fast with ErrRejected.
	Blocking bool
}

// Source returns the current Snapshot. Must be cheap and safe for concurrent
// use; it is called on every Acquire.
type Source func() Snapshot

// Permit is a held admission slot. Release must be called exactly once;
// releasing is safe regardless of later configuration changes because the
// permit remembers the semaphore it was drawn from.
type Permit struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the permit. Idempotent.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.once.Do(func() { p.sem.Release(1) })
}

// Gate is anything that can admit one backing-store call at a time per permit.
type Gate interface {
	// Acquire suspends (or fails fast, per configuration) until a permit is
	// granted. Returns ErrRejected when shedding, or ctx.Err() when the
	// caller's context dies while queued.
	Acquire(ctx context.Context) (*Permit, error)
}

// NopGate admits everything. Used when no gate is configured.
type NopGate struct{}

func (NopGate) Acquire(context.Context) (*Permit, error) { return &Permit{}, nil }

// Limiter is the semaphore-backed Gate. When the snapshot's limit changes, a
// fresh semaphore is installed for new acquires; permits already out release
// against the semaphore they came from, so a shrinking limit never corrupts
// accounting.
type Limiter struct {
	source Source

	mu    sync.Mutex
	limit int64
	sem   *semaphore.Weighted
}

var _ Gate = (*Limiter)(nil)

// NewLimiter builds a Limiter reading configuration from source.
func NewLimiter(source Source) *Limiter {
	return &Limiter{source: source}
}

func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	snap := l.source()
	if !snap.Enabled {
		return &Permit{}, nil
	}
	if snap.Limit <= 0 {
		return nil, ErrRejected
	}

	sem := l.semFor(snap.Limit)
	if sem.TryAcquire(1) {
		return &Permit{sem: sem}, nil
	}
	if !snap.Blocking {
		return nil, ErrRejected
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: sem}, nil
}

func (l *Limiter) semFor(limit int64) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sem == nil || l.limit != limit {
		l.sem = semaphore.NewWeighted(limit)
		l.limit = limit
	}
	return l.sem
}
