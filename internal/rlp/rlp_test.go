package rlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) {
	t.Helper()
	encoded := Encode(v)
	decoded, err := DecodeExact(encoded)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestRoundTripSingleByte(t *testing.T) {
	roundTrip(t, Bytes([]byte{0x05}))
	roundTrip(t, Bytes(nil))
}

func TestRoundTripShortAndLongStrings(t *testing.T) {
	roundTrip(t, Bytes([]byte("dog")))
	roundTrip(t, Bytes(make([]byte, 55)))
	roundTrip(t, Bytes(make([]byte, 56)))
	roundTrip(t, Bytes(make([]byte, 1024)))
}

func TestRoundTripLists(t *testing.T) {
	roundTrip(t, List())
	roundTrip(t, List(Bytes([]byte("cat")), Bytes([]byte("dog"))))
	roundTrip(t, List(List(Bytes([]byte{1})), Bytes([]byte{2})))

	var many []Value
	for i := 0; i < 40; i++ {
		many = append(many, Bytes([]byte{byte(i)}))
	}
	roundTrip(t, List(many...))
}

func TestEncodeKnownVectors(t *testing.T) {
	// "dog" -> 0x83 'd' 'o' 'g'
	require.Equal(t, []byte{0x83, 'd', 'o', 'g'}, Encode(Bytes([]byte("dog"))))
	// empty string -> 0x80
	require.Equal(t, []byte{0x80}, Encode(Bytes(nil)))
	// integer 0 -> 0x80
	require.Equal(t, []byte{0x80}, Encode(Uint64(0)))
	// integer 1024 -> 0x82 0x04 0x00
	require.Equal(t, []byte{0x82, 0x04, 0x00}, Encode(Uint64(1024)))
	// empty list -> 0xc0
	require.Equal(t, []byte{0xc0}, Encode(List()))
}

func TestDecodeTruncatedErrors(t *testing.T) {
	_, err := DecodeExact([]byte{0x83, 'd', 'o'})
	require.Error(t, err)
}

func TestMaxRecursionDepthEnforced(t *testing.T) {
	// Build a deeply nested list and confirm decode does not panic/overflow.
	v := Bytes([]byte{1})
	for i := 0; i < MaxRecursionDepth+10; i++ {
		v = List(v)
	}
	_, err := DecodeExact(Encode(v))
	require.Error(t, err)
}
