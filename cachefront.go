package coalstore

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/coalstore/codec"
	pr "github.com/unkn0wn-root/coalstore/provider"
)

// cacheFront is the two-tier record cache consulted before coalescing and
// populated (write-through, leaders only) after a successful backing-store
// operation.
//
// Two keyspaces per namespace keep the record classes independent:
// full-value records live under blob:<ns>:, presence/absence markers under
// meta:<ns>:. A presence write therefore can never downgrade a cached value,
// and a value hit always implies presence.
//
// Correctness never depends on a tier being reachable: every tier error is
// counted, logged and treated as a miss.
type cacheFront struct {
	ns     string
	local  pr.Provider
	remote pr.Provider // may be nil
	codec  c.Codec[CacheRecord]
	log    Logger
	hooks  Hooks
	cost   SetCostFunc

	valueTTL    time.Duration
	presenceTTL time.Duration
	negativeTTL time.Duration // <= 0 disables absence records
}

func (f *cacheFront) blobKey(key string) string { return "blob:" + f.ns + ":" + key }
func (f *cacheFront) metaKey(key string) string { return "meta:" + f.ns + ":" + key }

// Value returns the cached payload for key, consulting the local tier first.
func (f *cacheFront) Value(ctx context.Context, key string) ([]byte, bool) {
	rec, ok := f.getRecord(ctx, f.blobKey(key), f.valueTTL)
	if !ok || rec.Kind != RecordValue {
		return nil, false
	}
	return rec.Payload, true
}

// Presence answers existence from cache. A full-value record satisfies it
// (value implies presence); otherwise the metadata keyspace is consulted.
// Absent is only ever returned from a stored absence marker, i.e. when
// negative caching is enabled.
func (f *cacheFront) Presence(ctx context.Context, key string) (Presence, bool) {
	if rec, ok := f.getRecord(ctx, f.blobKey(key), f.valueTTL); ok && rec.Kind == RecordValue {
		return Present, true
	}
	rec, ok := f.getRecord(ctx, f.metaKey(key), f.presenceTTL)
	if !ok {
		return Absent, false
	}
	switch rec.Kind {
	case RecordPresence:
		return Present, true
	case RecordAbsent:
		return Absent, true
	}
	return Absent, false
}

// ConfirmedAbsent reports whether a negative record asserts the key does not
// exist. Always false when negative caching is disabled.
func (f *cacheFront) ConfirmedAbsent(ctx context.Context, key string) bool {
	if f.negativeTTL <= 0 {
		return false
	}
	rec, ok := f.getRecord(ctx, f.metaKey(key), f.negativeTTL)
	return ok && rec.Kind == RecordAbsent
}

// StoreValue write-throughs the full payload to both tiers and refreshes the
// presence marker (which also retires any stale absence record).
func (f *cacheFront) StoreValue(ctx context.Context, key string, v []byte) {
	if v == nil {
		v = []byte{}
	}
	f.setRecord(ctx, f.blobKey(key), newRecord(RecordValue, v), f.valueTTL)
	f.setRecord(ctx, f.metaKey(key), newRecord(RecordPresence, nil), f.presenceTTL)
}

// StorePresence records that key exists, without its payload.
func (f *cacheFront) StorePresence(ctx context.Context, key string) {
	f.setRecord(ctx, f.metaKey(key), newRecord(RecordPresence, nil), f.presenceTTL)
}

// StoreAbsent records a confirmed miss. No-op unless negative caching is on.
func (f *cacheFront) StoreAbsent(ctx context.Context, key string) {
	if f.negativeTTL <= 0 {
		return
	}
	f.setRecord(ctx, f.metaKey(key), newRecord(RecordAbsent, nil), f.negativeTTL)
}

// Invalidate drops both record classes from both tiers, best-effort.
func (f *cacheFront) Invalidate(ctx context.Context, key string) {
	for _, sk := range []string{f.blobKey(key), f.metaKey(key)} {
		if err := f.local.Del(ctx, sk); err != nil {
			f.tierError(TierLocal, "del", sk, err)
		}
		if f.remote != nil {
			if err := f.remote.Del(ctx, sk); err != nil {
				f.tierError(TierRemote, "del", sk, err)
			}
		}
	}
}

// Close releases both tiers.
func (f *cacheFront) Close(ctx context.Context) error {
	var err error
	if f.remote != nil {
		err = f.remote.Close(ctx)
	}
	if lerr := f.local.Close(ctx); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// getRecord consults local then remote. A remote hit backfills the local tier
// with the raw bytes so the next lookup short-circuits. ttl is only used for
// that backfill.
func (f *cacheFront) getRecord(ctx context.Context, storageKey string, ttl time.Duration) (CacheRecord, bool) {
	if rec, ok := f.tierGet(ctx, TierLocal, f.local, storageKey); ok {
		f.hooks.CacheHit(TierLocal, rec.Kind)
		return rec, true
	}
	if f.remote == nil {
		return CacheRecord{}, false
	}
	raw, ok, err := f.remote.Get(ctx, storageKey)
	if err != nil {
		f.tierError(TierRemote, "get", storageKey, err)
		return CacheRecord{}, false
	}
	if !ok {
		return CacheRecord{}, false
	}
	rec, ok := f.decode(ctx, f.remote, storageKey, raw)
	if !ok {
		return CacheRecord{}, false
	}
	f.hooks.CacheHit(TierRemote, rec.Kind)
	if _, err := f.local.Set(ctx, storageKey, raw, f.cost(storageKey, raw), ttl); err != nil {
		f.tierError(TierLocal, "set", storageKey, err)
	}
	return rec, true
}

func (f *cacheFront) tierGet(ctx context.Context, tier Tier, p pr.Provider, storageKey string) (CacheRecord, bool) {
	raw, ok, err := p.Get(ctx, storageKey)
	if err != nil {
		f.tierError(tier, "get", storageKey, err)
		return CacheRecord{}, false
	}
	if !ok {
		return CacheRecord{}, false
	}
	return f.decode(ctx, p, storageKey, raw)
}

// decode validates a raw record; corrupt or foreign entries are deleted from
// the owning tier (self-heal) and reported as a miss.
func (f *cacheFront) decode(ctx context.Context, p pr.Provider, storageKey string, raw []byte) (CacheRecord, bool) {
	rec, err := f.codec.Decode(raw)
	if err != nil {
		f.selfHeal(ctx, p, storageKey, "decode")
		return CacheRecord{}, false
	}
	if rec.Version != recordVersion {
		f.selfHeal(ctx, p, storageKey, "version")
		return CacheRecord{}, false
	}
	if !rec.valid() {
		f.selfHeal(ctx, p, storageKey, "shape")
		return CacheRecord{}, false
	}
	return rec, true
}

func (f *cacheFront) setRecord(ctx context.Context, storageKey string, rec CacheRecord, ttl time.Duration) {
	raw, err := f.codec.Encode(rec)
	if err != nil {
		// encoding a fixed struct only fails on a broken codec; do not cache
		f.log.Error("record encode failed", Fields{"key": storageKey, "err": err})
		return
	}
	cost := f.cost(storageKey, raw)
	if ok, err := f.local.Set(ctx, storageKey, raw, cost, ttl); err != nil {
		f.tierError(TierLocal, "set", storageKey, err)
	} else if !ok {
		f.log.Debug("local set rejected (pressure)", Fields{"key": storageKey})
	}
	if f.remote != nil {
		if ok, err := f.remote.Set(ctx, storageKey, raw, cost, ttl); err != nil {
			f.tierError(TierRemote, "set", storageKey, err)
		} else if !ok {
			f.log.Debug("remote set rejected (pressure)", Fields{"key": storageKey})
		}
	}
}

func (f *cacheFront) selfHeal(ctx context.Context, p pr.Provider, storageKey, reason string) {
	_ = p.Del(ctx, storageKey)
	f.hooks.SelfHeal(storageKey, reason)
	f.log.Debug("self-healed cache record", Fields{"key": storageKey, "reason": reason})
}

func (f *cacheFront) tierError(tier Tier, op, storageKey string, err error) {
	f.hooks.CacheTierError(tier, op, err)
	f.log.Warn("cache tier error (degrading to miss)", Fields{
		"tier": tier.String(), "op": op, "key": storageKey, "err": err,
	})
}
