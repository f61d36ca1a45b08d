// Package asynchook decouples hook sinks from hot paths: events are queued to
// a bounded channel and delivered by worker goroutines. When the queue is
// full the event is dropped; hooks are observability, never backpressure.
//
// usage:
//
//	raw := prom.New(nil, "blobsvc", "coalstore", nil)
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	bs, _ := coalstore.New(coalstore.Options{
//	    Namespace: "blobs:prod",
//	    Backing:   backing,
//	    Local:     local,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/coalstore"
)

type Hooks struct {
	inner coalstore.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ coalstore.Hooks = (*Hooks)(nil)

func New(inner coalstore.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheHit(t coalstore.Tier, k coalstore.RecordKind) {
	h.try(func() { h.inner.CacheHit(t, k) })
}
func (h *Hooks) CacheMiss() { h.try(func() { h.inner.CacheMiss() }) }
func (h *Hooks) CacheTierError(t coalstore.Tier, op string, err error) {
	h.try(func() { h.inner.CacheTierError(t, op, err) })
}
func (h *Hooks) SelfHeal(k, r string)     { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) LeaseLeader(k string)     { h.try(func() { h.inner.LeaseLeader(k) }) }
func (h *Hooks) LeaseFollower(k string)   { h.try(func() { h.inner.LeaseFollower(k) }) }
func (h *Hooks) LeaseAbandoned(k string, n int) {
	h.try(func() { h.inner.LeaseAbandoned(k, n) })
}
func (h *Hooks) Throttled(k string) { h.try(func() { h.inner.Throttled(k) }) }
func (h *Hooks) CorruptionDetected(k, r string) {
	h.try(func() { h.inner.CorruptionDetected(k, r) })
}
