// Package rlp implements Ethereum's Recursive Length Prefix encoding (spec
// §4.6): the wire format used for legacy/typed transaction bodies and their
// signing preimages. Values are a tagged union of byte strings and lists,
// matching the original's evmc/RLP treatment rather than Go's native types,
// so callers build an explicit Value tree instead of relying on
// reflection-driven (de)serialization as the stdlib-adjacent encoding/*
// packages do.
package rlp

import (
	"errors"
	"fmt"
)

// Kind discriminates the two RLP value shapes.
type Kind int

const (
	// KindBytes is an opaque byte string (including the empty string).
	KindBytes Kind = iota
	// KindList is an ordered sequence of Values.
	KindList
)

// Value is a tagged RLP value: either a byte string or a list of Values.
type Value struct {
	Kind  Kind
	Bytes []byte
	List  []Value
}

// Bytes constructs a byte-string Value.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// List constructs a list Value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Uint64 encodes v as its minimal big-endian byte string, per RLP's integer
// convention (no leading zero bytes, zero encodes as the empty string).
func Uint64(v uint64) Value {
	if v == 0 {
		return Bytes(nil)
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	return Bytes(b)
}

// MaxRecursionDepth bounds decode recursion; the spec does not mandate a
// limit but one is required to prevent stack abuse from hostile input
// (spec §9, RLP value design note).
const MaxRecursionDepth = 64

// Encode serializes v per the Ethereum RLP rules described in spec §4.6:
//   - a single byte below 0x80 encodes as itself;
//   - a short string (<=55 bytes) is prefixed with 0x80+len;
//   - a long string is prefixed with 0xb7+sizeof(len) then the big-endian
//     len, then the payload;
//   - lists use the 0xc0/0xf7 offsets analogously over the concatenation of
//     the encoded items.
func Encode(v Value) []byte {
	switch v.Kind {
	case KindBytes:
		return encodeBytes(v.Bytes)
	case KindList:
		var payload []byte
		for _, item := range v.List {
			payload = append(payload, Encode(item)...)
		}
		return encodeListHeader(len(payload), payload)
	default:
		panic("rlp: invalid value kind")
	}
}

func encodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	if len(b) <= 55 {
		out := make([]byte, 0, 1+len(b))
		out = append(out, 0x80+byte(len(b)))
		return append(out, b...)
	}
	lenBytes := minimalBigEndian(uint64(len(b)))
	out := make([]byte, 0, 1+len(lenBytes)+len(b))
	out = append(out, 0xb7+byte(len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, b...)
}

func encodeListHeader(payloadLen int, payload []byte) []byte {
	if payloadLen <= 55 {
		out := make([]byte, 0, 1+payloadLen)
		out = append(out, 0xc0+byte(payloadLen))
		return append(out, payload...)
	}
	lenBytes := minimalBigEndian(uint64(payloadLen))
	out := make([]byte, 0, 1+len(lenBytes)+payloadLen)
	out = append(out, 0xf7+byte(len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, payload...)
}

func minimalBigEndian(v uint64) []byte {
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	if b == nil {
		b = []byte{0}
	}
	return b
}

// Decode parses the single RLP value at the head of data, returning it and
// the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	return decode(data, 0)
}

// DecodeExact decodes a single RLP value from data and requires the entire
// slice to be consumed.
func DecodeExact(data []byte) (Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, fmt.Errorf("rlp: %d trailing bytes", len(data)-n)
	}
	return v, nil
}

func decode(data []byte, depth int) (Value, int, error) {
	if depth > MaxRecursionDepth {
		return Value{}, 0, errors.New("rlp: max recursion depth exceeded")
	}
	if len(data) == 0 {
		return Value{}, 0, errors.New("rlp: empty input")
	}
	tag := data[0]
	switch {
	case tag < 0x80:
		return Bytes([]byte{tag}), 1, nil
	case tag <= 0xb7:
		n := int(tag - 0x80)
		if len(data) < 1+n {
			return Value{}, 0, errors.New("rlp: short buffer truncated")
		}
		return Bytes(append([]byte(nil), data[1:1+n]...)), 1 + n, nil
	case tag <= 0xbf:
		lenOfLen := int(tag - 0xb7)
		if len(data) < 1+lenOfLen {
			return Value{}, 0, errors.New("rlp: long buffer length truncated")
		}
		n, err := decodeLen(data[1 : 1+lenOfLen])
		if err != nil {
			return Value{}, 0, err
		}
		start := 1 + lenOfLen
		if len(data) < start+n {
			return Value{}, 0, errors.New("rlp: long buffer payload truncated")
		}
		return Bytes(append([]byte(nil), data[start:start+n]...)), start + n, nil
	case tag <= 0xf7:
		n := int(tag - 0xc0)
		if len(data) < 1+n {
			return Value{}, 0, errors.New("rlp: short list truncated")
		}
		items, err := decodeItems(data[1:1+n], depth)
		if err != nil {
			return Value{}, 0, err
		}
		return List(items...), 1 + n, nil
	default:
		lenOfLen := int(tag - 0xf7)
		if len(data) < 1+lenOfLen {
			return Value{}, 0, errors.New("rlp: long list length truncated")
		}
		n, err := decodeLen(data[1 : 1+lenOfLen])
		if err != nil {
			return Value{}, 0, err
		}
		start := 1 + lenOfLen
		if len(data) < start+n {
			return Value{}, 0, errors.New("rlp: long list payload truncated")
		}
		items, err := decodeItems(data[start:start+n], depth)
		if err != nil {
			return Value{}, 0, err
		}
		return List(items...), start + n, nil
	}
}

func decodeLen(b []byte) (int, error) {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	if n > 1<<31 {
		return 0, errors.New("rlp: length too large")
	}
	return int(n), nil
}

func decodeItems(payload []byte, depth int) ([]Value, error) {
	var items []Value
	for len(payload) > 0 {
		item, n, err := decode(payload, depth+1)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		payload = payload[n:]
	}
	return items, nil
}
