// Package coalstore implements a virtually-sharded coalescing cache layer in
// front of a content-addressed blob store. For any key, at most one in-flight
// request reaches the backing store at a time; every concurrent caller for
// that key receives the same result (leader/follower coalescing).
//
// Components:
//   - Provider: byte store with TTL backing each cache tier
//     (e.g. Ristretto or BigCache locally, Redis as the shared tier).
//   - Codec: (de)serializes the versioned cache record envelope.
//   - admission.Gate: concurrency limiter guarding backing-store calls.
//   - BackingStore: the durable store being protected (caller-supplied).
//
// Keys:
//
//	blob:<ns>:<key> - full-value records
//	meta:<ns>:<key> - presence / confirmed-absence records
//
// Content-addressing contract: equal keys always denote equal bytes. A fetch
// or put that observes different bytes for a known key is corruption and is
// surfaced as CorruptionError, never cached and never silently accepted.
//
// Cache tiers are an optimization, not a dependency: any tier error degrades
// to a miss and the request proceeds against the backing store. Lease state
// is purely in-memory and resets on process restart. No operation is retried
// here; retry and backoff policy belong to the caller.
package coalstore
