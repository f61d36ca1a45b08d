package coalstore

import "time"

// recordVersion is bumped when the envelope layout changes; records with a
// different version are deleted on read (self-heal) rather than interpreted.
const recordVersion = 1

// RecordKind classifies a cache record.
type RecordKind uint8

const (
	// RecordValue carries the full blob payload.
	RecordValue RecordKind = 1
	// RecordPresence asserts only that the key exists durably.
	RecordPresence RecordKind = 2
	// RecordAbsent asserts a confirmed miss against the backing store.
	// Only written when negative caching is enabled (Options.NegativeTTL).
	RecordAbsent RecordKind = 3
)

// CacheRecord is the envelope stored in every cache tier. A presence or
// absent record never carries a payload; a value record's payload is the blob
// itself (possibly zero-length).
type CacheRecord struct {
	Version  uint8      `cbor:"v" msgpack:"v" json:"v"`
	Kind     RecordKind `cbor:"k" msgpack:"k" json:"k"`
	Payload  []byte     `cbor:"p,omitempty" msgpack:"p,omitempty" json:"p,omitempty"`
	StoredAt int64      `cbor:"t" msgpack:"t" json:"t"` // unix seconds
}

func newRecord(kind RecordKind, payload []byte) CacheRecord {
	return CacheRecord{
		Version:  recordVersion,
		Kind:     kind,
		Payload:  payload,
		StoredAt: time.Now().Unix(),
	}
}

func (r CacheRecord) valid() bool {
	if r.Version != recordVersion {
		return false
	}
	switch r.Kind {
	case RecordValue:
		return true
	case RecordPresence, RecordAbsent:
		return len(r.Payload) == 0
	}
	return false
}

// Presence is the answer to an existence query.
type Presence uint8

const (
	Absent Presence = iota
	Present
)

func (p Presence) String() string {
	if p == Present {
		return "present"
	}
	return "absent"
}

// PutOutcome reports what a Put actually did.
type PutOutcome uint8

const (
	// Written means the payload was uploaded to the backing store.
	Written PutOutcome = iota + 1
	// Deduplicated means the key was already durably stored, so the upload
	// was skipped (content-addressing makes re-writing identical bytes
	// wasted work).
	Deduplicated
)

func (o PutOutcome) String() string {
	switch o {
	case Written:
		return "written"
	case Deduplicated:
		return "deduplicated"
	default:
		return "unknown"
	}
}
