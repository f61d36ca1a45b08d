package coalstore

import (
	"context"
	"time"

	"github.com/unkn0wn-root/coalstore/admission"
	c "github.com/unkn0wn-root/coalstore/codec"
	pr "github.com/unkn0wn-root/coalstore/provider"
)

// BackingStore is the durable content-addressed store this layer protects.
// All methods suspend on ctx. Calls are individually atomic; no cross-call
// atomicity is assumed.
type BackingStore interface {
	// Get returns (bytes, true, nil) when the key exists, (nil, false, nil)
	// on a confirmed miss, and an error otherwise.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put durably stores value under key.
	Put(ctx context.Context, key string, value []byte) error

	// IsPresent answers existence without transferring the payload.
	IsPresent(ctx context.Context, key string) (Presence, error)
}

// SetCostFunc computes the admission cost handed to a provider's Set
// (Ristretto treats it as a byte budget). raw is the encoded record.
type SetCostFunc func(key string, raw []byte) int64

// Blobstore is the coalescing facade. All methods are safe for concurrent use
// and suspend rather than block while waiting (cache tiers, lease completion,
// admission, backing store).
type Blobstore interface {
	// Get returns the blob for key. ok=false with a nil error is a confirmed
	// miss. Concurrent Gets for the same uncached key perform exactly one
	// backing-store fetch and share its outcome.
	Get(ctx context.Context, key string) (v []byte, ok bool, err error)

	// Put uploads value under key, or reports Deduplicated when the key is
	// already durably stored. Supplying bytes that differ from what key
	// denotes yields a CorruptionError.
	Put(ctx context.Context, key string, value []byte) (PutOutcome, error)

	// IsPresent answers existence. It never fetches or caches the payload;
	// on a miss it coalesces as a lightweight existence-only leader.
	IsPresent(ctx context.Context, key string) (Presence, error)

	// Invalidate drops the key's records from every cache tier (best-effort).
	// The backing store is untouched.
	Invalidate(ctx context.Context, key string) error

	Enabled() bool
	Close(context.Context) error
}

// Options tune the behavior of the coalescing blobstore.
// Namespace, Backing and Local are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // logical namespace isolating this store's keyspace, e.g. "blobs:prod"
	Backing   BackingStore
	Local     pr.Provider // fast bounded in-process tier

	Remote pr.Provider          // optional distributed tier, consulted after Local
	Codec  c.Codec[CacheRecord] // record envelope codec; nil => CBOR

	Logger Logger         // nil => NopLogger
	Hooks  Hooks          // nil => NopHooks
	Gate   admission.Gate // nil => admit everything

	// Shards is the virtual shard count for the lease table. 0 => automatic
	// (≈2×GOMAXPROCS, power of two, capped at 256). Restart-only setting:
	// changing it at runtime would require migrating in-flight lease state.
	Shards int

	ValueTTL    time.Duration // full-value records; 0 => 10m
	PresenceTTL time.Duration // presence-only records; 0 => 1m
	NegativeTTL time.Duration // confirmed-absence records; 0 => negative caching off

	// Verify checks fetched or supplied bytes against the content address.
	// Key derivation lives outside this layer, so the owning service supplies
	// the check; nil skips it (the byte-compare on the put fast path still
	// applies).
	Verify func(key string, data []byte) bool

	ComputeSetCost SetCostFunc // nil => len(encoded record)

	// Disabled bypasses caching and coalescing entirely: every call goes
	// straight to the backing store. Kill-switch, not a tuning knob.
	Disabled bool
}

// New builds a Blobstore from opts.
func New(opts Options) (Blobstore, error) {
	return newStore(opts)
}
