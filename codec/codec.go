// Package codec defines how coalstore serializes its cache record envelope
// for storage in a provider. The default is CBOR; msgpack and JSON are
// drop-in alternatives when the surrounding fleet standardizes on them.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
