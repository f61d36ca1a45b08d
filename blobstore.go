package coalstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/coalstore/admission"
	"github.com/unkn0wn-root/coalstore/codec"
	"github.com/unkn0wn-root/coalstore/internal/lease"
)

type store struct {
	backing BackingStore
	cache   *cacheFront
	leases  *lease.Table
	gate    admission.Gate
	log     Logger
	hooks   Hooks
	verify  func(key string, data []byte) bool
	enabled bool
}

func newStore(opts Options) (*store, error) {
	if opts.Backing == nil {
		return nil, fmt.Errorf("coalstore: backing store is required")
	}
	if opts.Local == nil {
		return nil, fmt.Errorf("coalstore: local provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("coalstore: namespace is required")
	}

	s := &store{
		backing: opts.Backing,
		leases:  lease.NewTable(opts.Shards),
		verify:  opts.Verify,
		enabled: !opts.Disabled,
	}

	// defaults
	s.log, s.hooks, s.gate = opts.Logger, opts.Hooks, opts.Gate
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.gate == nil {
		s.gate = admission.NopGate{}
	}

	recCodec := opts.Codec
	if recCodec == nil {
		recCodec = codec.MustCBOR[CacheRecord](false)
	}
	cost := opts.ComputeSetCost
	if cost == nil {
		cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	s.cache = &cacheFront{
		ns:          opts.Namespace,
		local:       opts.Local,
		remote:      opts.Remote,
		codec:       recCodec,
		log:         s.log,
		hooks:       s.hooks,
		cost:        cost,
		valueTTL:    coalesce(opts.ValueTTL, defaultValueTTL),
		presenceTTL: coalesce(opts.PresenceTTL, defaultPresenceTTL),
		negativeTTL: opts.NegativeTTL, // zero means off, no default
	}
	return s, nil
}

func (s *store) Enabled() bool { return s.enabled }

func (s *store) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}

// Get implements the read flow: cache, then coalesced fetch. A caller may
// loop at most when it joined a lease whose result cannot answer a read
// (presence-only leader); each iteration ends with a terminal answer or with
// this caller holding leadership.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.enabled {
		v, ok, err := s.backing.Get(ctx, key)
		if err != nil || !ok {
			return nil, false, err
		}
		if err := s.checkContent(key, v, "fetched"); err != nil {
			return nil, false, err
		}
		return v, true, nil
	}

	for {
		if v, ok := s.cache.Value(ctx, key); ok {
			return v, true, nil
		}
		if s.cache.ConfirmedAbsent(ctx, key) {
			return nil, false, nil
		}
		s.hooks.CacheMiss()

		h, w := s.leases.JoinOrLead(key)
		if h != nil {
			return s.leadGet(ctx, key, h)
		}

		s.hooks.LeaseFollower(key)
		res, err := w.Wait(ctx)
		if err != nil {
			return nil, false, err // this follower's own context died
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		if !res.Found {
			return nil, false, nil
		}
		if res.Value != nil {
			return res.Value, true, nil
		}
		// The leader only proved existence (is-present or a dedup'd put);
		// the payload still has to be fetched. The lease is terminal, so
		// retrying is allowed: re-check the cache and re-join.
	}
}

func (s *store) leadGet(ctx context.Context, key string, h *lease.Handle) ([]byte, bool, error) {
	defer s.abandonOnExit(key, h)
	s.hooks.LeaseLeader(key)

	permit, err := s.acquire(ctx, key)
	if err != nil {
		return nil, false, s.failLease(ctx, h, err)
	}
	defer permit.Release()

	v, found, err := s.backing.Get(ctx, key)
	if err != nil {
		return nil, false, s.failLease(ctx, h, err)
	}
	if !found {
		s.cache.StoreAbsent(ctx, key)
		h.Complete(lease.Result{Found: false})
		return nil, false, nil
	}
	if err := s.checkContent(key, v, "fetched"); err != nil {
		return nil, false, s.failLease(ctx, h, err)
	}

	s.cache.StoreValue(ctx, key, v)
	h.Complete(lease.Result{Found: true, Value: v})
	return v, true, nil
}

// Put implements the write flow: dedup against cache, then coalesced upload.
// The loop mirrors Get: a follower whose leader only observed absence must
// still perform its own write, so it re-enters and races for leadership.
func (s *store) Put(ctx context.Context, key string, value []byte) (PutOutcome, error) {
	if err := s.checkContent(key, value, "supplied"); err != nil {
		return 0, err
	}
	if !s.enabled {
		if err := s.backing.Put(ctx, key, value); err != nil {
			return 0, err
		}
		return Written, nil
	}

	for {
		if cached, ok := s.cache.Value(ctx, key); ok {
			if !bytes.Equal(cached, value) {
				return 0, s.corrupt(key, "put bytes differ from cached bytes for the same address")
			}
			return Deduplicated, nil
		}
		if p, ok := s.cache.Presence(ctx, key); ok && p == Present {
			return Deduplicated, nil
		}
		s.hooks.CacheMiss()

		h, w := s.leases.JoinOrLead(key)
		if h != nil {
			return s.leadPut(ctx, key, value, h)
		}

		s.hooks.LeaseFollower(key)
		res, err := w.Wait(ctx)
		if err != nil {
			return 0, err
		}
		if res.Err != nil {
			return 0, res.Err
		}
		if res.Found {
			if res.Value != nil && !bytes.Equal(res.Value, value) {
				return 0, s.corrupt(key, "put bytes differ from the coalesced result for the same address")
			}
			return Deduplicated, nil
		}
		// Leader confirmed absence (it was a get or is-present); the content
		// still has to be uploaded. Re-enter and race for leadership.
	}
}

func (s *store) leadPut(ctx context.Context, key string, value []byte, h *lease.Handle) (PutOutcome, error) {
	defer s.abandonOnExit(key, h)
	s.hooks.LeaseLeader(key)

	permit, err := s.acquire(ctx, key)
	if err != nil {
		return 0, s.failLease(ctx, h, err)
	}
	defer permit.Release()

	if err := s.backing.Put(ctx, key, value); err != nil {
		return 0, s.failLease(ctx, h, err)
	}

	s.cache.StoreValue(ctx, key, value)
	h.Complete(lease.Result{Found: true, Value: value})
	return Written, nil
}

// IsPresent implements the existence flow. Leaders query only existence and
// cache a presence marker, never the payload. Any lease result answers an
// existence question, so followers never loop.
func (s *store) IsPresent(ctx context.Context, key string) (Presence, error) {
	if !s.enabled {
		return s.backing.IsPresent(ctx, key)
	}

	// Presence covers all three record classes: a value record implies
	// presence, and a stored absence marker answers Absent directly.
	if p, ok := s.cache.Presence(ctx, key); ok {
		return p, nil
	}
	s.hooks.CacheMiss()

	h, w := s.leases.JoinOrLead(key)
	if h == nil {
		s.hooks.LeaseFollower(key)
		res, err := w.Wait(ctx)
		if err != nil {
			return Absent, err
		}
		if res.Err != nil {
			return Absent, res.Err
		}
		if res.Found {
			return Present, nil
		}
		return Absent, nil
	}

	defer s.abandonOnExit(key, h)
	s.hooks.LeaseLeader(key)

	permit, err := s.acquire(ctx, key)
	if err != nil {
		return Absent, s.failLease(ctx, h, err)
	}
	defer permit.Release()

	p, err := s.backing.IsPresent(ctx, key)
	if err != nil {
		return Absent, s.failLease(ctx, h, err)
	}
	if p == Present {
		s.cache.StorePresence(ctx, key)
		h.Complete(lease.Result{Found: true})
	} else {
		s.cache.StoreAbsent(ctx, key)
		h.Complete(lease.Result{Found: false})
	}
	return p, nil
}

func (s *store) Invalidate(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	s.cache.Invalidate(ctx, key)
	s.log.Debug("invalidated key (both tiers, both record classes)", Fields{"key": key})
	return nil
}

// acquire maps gate rejection onto the Throttled taxonomy. Context errors
// while queued pass through untouched.
func (s *store) acquire(ctx context.Context, key string) (*admission.Permit, error) {
	permit, err := s.gate.Acquire(ctx)
	if err == nil {
		return permit, nil
	}
	if errors.Is(err, admission.ErrRejected) {
		s.hooks.Throttled(key)
		return nil, fmt.Errorf("%w: %q", ErrThrottled, key)
	}
	return nil, err
}

// failLease finalizes a leader's lease for err. When the leader's own context
// died the lease is abandoned: followers get a retryable ErrLeaseAbandoned
// instead of inheriting a cancellation that was never theirs. Every other
// error is completed into the lease and delivered verbatim to all waiters.
func (s *store) failLease(ctx context.Context, h *lease.Handle, err error) error {
	if ctx.Err() != nil {
		h.Abandon()
		return ctx.Err()
	}
	h.Complete(lease.Result{Err: err})
	return err
}

// abandonOnExit is the leader's guaranteed-release guard: deferred first, so
// any exit path that skipped Complete/failLease (panic included) still wakes
// followers and frees the slot.
func (s *store) abandonOnExit(key string, h *lease.Handle) {
	waiters := h.Waiters()
	if h.Abandon() {
		s.hooks.LeaseAbandoned(key, waiters)
		s.log.Warn("lease abandoned by leader", Fields{"key": key, "waiters": waiters})
	}
}

func (s *store) checkContent(key string, data []byte, origin string) error {
	if s.verify == nil || s.verify(key, data) {
		return nil
	}
	return s.corrupt(key, origin+" bytes do not match content address")
}

func (s *store) corrupt(key, reason string) error {
	s.hooks.CorruptionDetected(key, reason)
	s.log.Error("content-addressing violation", Fields{"key": key, "reason": reason})
	return &CorruptionError{Key: key, Reason: reason}
}
