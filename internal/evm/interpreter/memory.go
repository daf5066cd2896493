package interpreter

import "github.com/holiman/uint256"

// memory is the interpreter's linear, word-addressable scratch space.
// Grows only via resize, which the Run loop calls after charging the
// memory-expansion gas for the current step (same order as the grounding
// reference: charge, then grow).
type memory struct {
	store []byte
}

func newMemory() *memory { return &memory{} }

func (m *memory) len() int { return len(m.store) }

// resize grows the backing buffer to at least size bytes, zero-filling
// the new region. size is always a multiple of 32 by construction (the
// caller rounds up to a whole word).
func (m *memory) resize(size uint64) {
	if uint64(len(m.store)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.store)
	m.store = grown
}

func (m *memory) set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	copy(m.store[offset:offset+size], value)
}

func (m *memory) set32(offset uint64, v *uint256.Int) {
	b := v.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

func (m *memory) get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// getPtr returns a slice aliasing the memory backing store (no copy); used
// where the caller immediately consumes the bytes (e.g. KECCAK256 input).
func (m *memory) getPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

// memoryWordSize returns the number of 32-byte words needed to hold size
// bytes.
func memoryWordSize(size uint64) uint64 {
	return (size + 31) / 32
}

// calcMemSize returns the byte offset one past the highest byte that
// (offset, size) touches, rounded up to a whole word, and whether the
// arithmetic overflowed. A zero size never requires memory.
func calcMemSize(off, size *uint256.Int) (uint64, bool) {
	if size.IsZero() {
		return 0, false
	}
	if !off.IsUint64() || !size.IsUint64() {
		return 0, true
	}
	var end uint256.Int
	overflow := end.AddOverflow(off, size)
	if overflow || !end.IsUint64() {
		return 0, true
	}
	return memoryWordSize(end.Uint64()) * 32, false
}
