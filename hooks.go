package coalstore

// Tier identifies which cache tier an event refers to.
type Tier uint8

const (
	TierLocal Tier = iota
	TierRemote
)

func (t Tier) String() string {
	if t == TierRemote {
		return "remote"
	}
	return "local"
}

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on hot paths.
// Wrap with hooks/async to decouple slow sinks.
type Hooks interface {
	// A cache lookup was satisfied by tier with a record of the given kind.
	CacheHit(tier Tier, kind RecordKind)

	// No tier had a usable record; the request went through coalescing.
	CacheMiss()

	// A tier call failed. Absorbed as a miss, never surfaced to the caller.
	// op ∈ {"get", "set", "del"}
	CacheTierError(tier Tier, op string, err error)

	// A record was deleted by the cache on read.
	// reason ∈ {"decode", "version", "shape"}
	SelfHeal(storageKey, reason string)

	// This caller became the leader for key.
	LeaseLeader(key string)

	// This caller joined an existing lease for key as a follower.
	LeaseFollower(key string)

	// A leader released its lease without a result; the registered followers
	// (waiters of them) were woken with a retryable error.
	LeaseAbandoned(key string, waiters int)

	// The admission gate rejected the leader's backing-store call.
	Throttled(key string)

	// The content-addressing contract was violated for key.
	CorruptionDetected(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(Tier, RecordKind)          {}
func (NopHooks) CacheMiss()                         {}
func (NopHooks) CacheTierError(Tier, string, error) {}
func (NopHooks) SelfHeal(string, string)            {}
func (NopHooks) LeaseLeader(string)                 {}
func (NopHooks) LeaseFollower(string)               {}
func (NopHooks) LeaseAbandoned(string, int)         {}
func (NopHooks) Throttled(string)                   {}
func (NopHooks) CorruptionDetected(string, string)  {}
