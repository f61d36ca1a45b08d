// Package shard maps blob keys to virtual shard indexes.
//
// Sharding exists purely to bound lock contention and per-map size for the
// lease tables: unrelated keys land on independent mutexes. The mapping is a
// pure function of the key bytes, so every caller in the process agrees on the
// shard for a given key.
package shard

import (
	"runtime"

	"github.com/cespare/xxhash/v2"
)

// Router maps keys to [0, Count) using xxhash64. The zero value is not usable;
// construct with NewRouter. Shard count is fixed for the Router's lifetime;
// changing it would require migrating in-flight lease state, so it is a
// restart-only setting.
type Router struct {
	count int
	mask  uint64 // count-1 when count is a power of two, else 0
}

// NewRouter returns a Router over n shards. n <= 0 selects ReasonableCount().
func NewRouter(n int) *Router {
	if n <= 0 {
		n = ReasonableCount()
	}
	r := &Router{count: n}
	if isPowerOfTwo(uint64(n)) {
		r.mask = uint64(n - 1)
	}
	return r
}

// Count returns the configured shard count.
func (r *Router) Count() int { return r.count }

// Index returns the shard for key. Pure; no failure mode.
func (r *Router) Index(key string) int {
	if r.count <= 1 {
		return 0
	}
	h := xxhash.Sum64String(key)
	if r.mask != 0 {
		return int(h & r.mask)
	}
	return int(h % uint64(r.count))
}

// ReasonableCount picks a default shard count from CPU parallelism:
// nextPow2(2*GOMAXPROCS) clamped to [1, 256]. Enough to spread hot keys
// across mutexes without bloating the per-shard map overhead.
func ReasonableCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(nextPow2(uint64(p * 2)))
	if n > 256 {
		n = 256
	}
	return n
}

func isPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

func nextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}
