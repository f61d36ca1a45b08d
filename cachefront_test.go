package coalstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	c "github.com/unkn0wn-root/coalstore/codec"
)

func newTestFront(t *testing.T, optsOpt func(*Options)) (*cacheFront, *memProvider) {
	t.Helper()
	local := newMemProvider()
	opts := Options{
		Namespace: "t",
		Backing:   newStubBacking(),
		Local:     local,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := newStore(opts)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	return s.cache, local
}

func TestValueImpliesPresence(t *testing.T) {
	ctx := context.Background()
	cf, _ := newTestFront(t, nil)

	cf.StoreValue(ctx, "k", []byte("v"))
	if p, ok := cf.Presence(ctx, "k"); !ok || p != Present {
		t.Fatalf("presence after value store: p=%v ok=%v", p, ok)
	}
	v, ok := cf.Value(ctx, "k")
	if !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("value: %q ok=%v", v, ok)
	}
}

func TestPresenceNeverDowngradesValue(t *testing.T) {
	ctx := context.Background()
	cf, _ := newTestFront(t, nil)

	cf.StoreValue(ctx, "k", []byte("v"))
	cf.StorePresence(ctx, "k")

	if v, ok := cf.Value(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("value record downgraded by presence write: %q ok=%v", v, ok)
	}
}

func TestPresenceMarkerCarriesNoPayload(t *testing.T) {
	ctx := context.Background()
	cf, local := newTestFront(t, nil)

	cf.StorePresence(ctx, "k")
	if local.has("blob:t:k") {
		t.Fatalf("presence write created a value record")
	}
	if _, ok := cf.Value(ctx, "k"); ok {
		t.Fatalf("presence marker answered a value lookup")
	}
	if p, ok := cf.Presence(ctx, "k"); !ok || p != Present {
		t.Fatalf("presence: p=%v ok=%v", p, ok)
	}
}

func TestAbsentMarkerRequiresNegativeTTL(t *testing.T) {
	ctx := context.Background()

	cf, local := newTestFront(t, nil) // negative caching off
	cf.StoreAbsent(ctx, "k")
	if local.has("meta:t:k") {
		t.Fatalf("absence marker written with negative caching disabled")
	}
	if cf.ConfirmedAbsent(ctx, "k") {
		t.Fatalf("ConfirmedAbsent without a marker")
	}

	cf, _ = newTestFront(t, func(o *Options) { o.NegativeTTL = time.Minute })
	cf.StoreAbsent(ctx, "k")
	if !cf.ConfirmedAbsent(ctx, "k") {
		t.Fatalf("absence marker not readable")
	}
	if p, ok := cf.Presence(ctx, "k"); !ok || p != Absent {
		t.Fatalf("presence from absence marker: p=%v ok=%v", p, ok)
	}
}

func TestSelfHealOnGarbage(t *testing.T) {
	ctx := context.Background()
	cf, local := newTestFront(t, nil)

	local.put("blob:t:k", []byte("not a record"))
	if _, ok := cf.Value(ctx, "k"); ok {
		t.Fatalf("garbage decoded as a record")
	}
	if local.has("blob:t:k") {
		t.Fatalf("garbage record not healed")
	}
}

func TestSelfHealOnVersionMismatch(t *testing.T) {
	ctx := context.Background()
	cf, local := newTestFront(t, nil)

	rec := newRecord(RecordValue, []byte("v"))
	rec.Version = recordVersion + 1
	raw, err := cf.codec.Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	local.put("blob:t:k", raw)

	if _, ok := cf.Value(ctx, "k"); ok {
		t.Fatalf("foreign-version record served")
	}
	if local.has("blob:t:k") {
		t.Fatalf("foreign-version record not healed")
	}
}

func TestSelfHealOnShapeViolation(t *testing.T) {
	ctx := context.Background()
	cf, local := newTestFront(t, nil)

	// A presence record carrying a payload is a contract violation.
	rec := newRecord(RecordPresence, []byte("smuggled"))
	raw, err := cf.codec.Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	local.put("meta:t:k", raw)

	if _, ok := cf.Presence(ctx, "k"); ok {
		t.Fatalf("malformed presence record served")
	}
	if local.has("meta:t:k") {
		t.Fatalf("malformed record not healed")
	}
}

// TestMsgpackRecordCodec: the envelope codec is pluggable; a full round trip
// through the facade works identically with msgpack.
func TestMsgpackRecordCodec(t *testing.T) {
	ctx := context.Background()
	bk := newStubBacking()
	bk.data["k"] = []byte("v")
	bs := newTestStore(t, bk, func(o *Options) {
		o.Codec = c.Msgpack[CacheRecord]{}
	})
	defer bs.Close(ctx)

	if v, ok, err := bs.Get(ctx, "k"); err != nil || !ok || string(v) != "v" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := bs.Get(ctx, "k"); err != nil || !ok || string(v) != "v" {
		t.Fatalf("cached get: v=%q ok=%v err=%v", v, ok, err)
	}
	if got := bk.gets.Load(); got != 1 {
		t.Fatalf("backing gets = %d, want 1", got)
	}
}

func TestEmptyBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	bk := newStubBacking()
	bs := newTestStore(t, bk, nil)
	defer bs.Close(ctx)

	if out, err := bs.Put(ctx, "empty", []byte{}); err != nil || out != Written {
		t.Fatalf("put: outcome=%v err=%v", out, err)
	}
	v, ok, err := bs.Get(ctx, "empty")
	if err != nil || !ok || len(v) != 0 {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
	if got := bk.gets.Load(); got != 0 {
		t.Fatalf("backing gets = %d, want 0", got)
	}
}
