// Package key implements the ordered byte-sequence keys typedkv uses for
// primary and secondary table lookups, and the composite-key scheme that
// lets a non-unique secondary index hold more than one row per value.
package key

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Key is an opaque, ordered byte sequence. Two keys compare equal iff their
// raw bytes are equal; ordering is plain lexicographic byte comparison.
type Key struct {
	b []byte
}

// Bytes returns the raw encoded bytes. Callers must not mutate the result.
func (k Key) Bytes() []byte { return k.b }

// Compare returns -1, 0 or 1 the way bytes.Compare does.
func (k Key) Compare(other Key) int { return bytes.Compare(k.b, other.b) }

// Equal reports whether two keys encode to the same bytes.
func (k Key) Equal(other Key) bool { return bytes.Equal(k.b, other.b) }

// IsZero reports whether the key was never constructed (nil backing slice).
func (k Key) IsZero() bool { return k.b == nil }

// FromBytes wraps a raw byte slice as a Key verbatim. The caller owns the
// slice's lifetime; FromBytes does not copy.
func FromBytes(b []byte) Key { return Key{b: b} }

// FromString encodes a string as its UTF-8 bytes, no terminator. Byte-wise
// lexicographic order on UTF-8 matches the string's natural ordering for
// all valid UTF-8 inputs.
func FromString(s string) Key { return Key{b: []byte(s)} }

// FromUint32 encodes a uint32 as 4 fixed-width big-endian bytes, so
// lexicographic order matches numeric order.
func FromUint32(v uint32) Key {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Key{b: b}
}

// FromUint64 encodes a uint64 as 8 fixed-width big-endian bytes.
func FromUint64(v uint64) Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Key{b: b}
}

// FromInt32 encodes an int32 as 4 big-endian bytes with the sign bit
// flipped, so two's-complement ordering becomes lexicographic ordering:
// the most negative value sorts first, the most positive sorts last.
func FromInt32(v int32) Key {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v)^0x80000000)
	return Key{b: b}
}

// FromInt64 encodes an int64 the same way as FromInt32, 8 bytes wide.
func FromInt64(v int64) Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v)^0x8000000000000000)
	return Key{b: b}
}

// FromFloat64 encodes a float64 so that lexicographic byte order matches
// numeric order: flip all bits for negative numbers, flip just the sign bit
// for non-negative numbers (the standard float-to-sortable-bits trick).
func FromFloat64(v float64) Key {
	bits := math.Float64bits(v)
	if v >= 0 {
		bits ^= 0x8000000000000000
	} else {
		bits = ^bits
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, bits)
	return Key{b: b}
}

// Tuple concatenates component encodings using a length-prefixed scheme so
// that component boundaries are unambiguous. Because each component's
// 4-byte length precedes its content, tuples compare by the first
// component's length before its content; the byte order of two tuples
// matches the lexicographic order of their component sequences only when
// corresponding components have equal lengths.
func Tuple(components ...Key) Key {
	var out []byte
	for _, c := range components {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c.b)))
		out = append(out, lenBuf[:]...)
		out = append(out, c.b...)
	}
	return Key{b: out}
}

// SplitTuple is the exact inverse of Tuple.
func SplitTuple(k Key) ([]Key, bool) {
	var out []Key
	b := k.b
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, false
		}
		n := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < n {
			return nil, false
		}
		out = append(out, Key{b: b[:n:n]})
		b = b[n:]
	}
	return out, true
}

// Composite builds the key stored in a non-unique secondary table's row:
// ks verbatim followed by kp verbatim, with no length prefix on either
// component. Unlike Tuple, a byte comparison of two Composite keys must
// match the lexicographic order of (ks, kp) pairs directly — a 4-byte
// length prefix ahead of ks (as Tuple would add) compares before ks's own
// content bytes, so two different-length ks values sort by length first
// and content second, which is wrong order for range scans and start_with
// prefix matches over a secondary index (spec: "duplicates appear in
// (k_s, k_p) composite order"). Plain concatenation is not generally
// invertible when one ks is a byte-prefix of another, but that's fine
// here: the row's value already carries kp verbatim, so nothing ever
// needs to split a Composite key back apart.
func Composite(ks, kp Key) Key {
	out := make([]byte, 0, len(ks.b)+len(kp.b))
	out = append(out, ks.b...)
	out = append(out, kp.b...)
	return Key{b: out}
}

// MatchAll is an always-true key predicate, for subscribing to every row of
// a model regardless of key.
func MatchAll(Key) bool { return true }

// MatchExact returns a predicate true only for k itself, the same filter
// get.primary<T>(k)/get.secondary<T>(def,k) apply to reads.
func MatchExact(k Key) func(Key) bool {
	return func(other Key) bool { return other.Equal(k) }
}

// MatchRange returns a predicate true for keys >= lo and < hi, mirroring
// scan.primary<T>().range(lo, hi); either bound may be the zero Key to mean
// unbounded on that side.
func MatchRange(lo, hi Key) func(Key) bool {
	return func(other Key) bool {
		if !lo.IsZero() && other.Compare(lo) < 0 {
			return false
		}
		if !hi.IsZero() && other.Compare(hi) >= 0 {
			return false
		}
		return true
	}
}

// MatchPrefix returns a predicate true for keys starting with prefix,
// mirroring scan.primary<T>().start_with(prefix).
func MatchPrefix(prefix Key) func(Key) bool {
	return func(other Key) bool {
		return bytes.HasPrefix(other.b, prefix.b)
	}
}
