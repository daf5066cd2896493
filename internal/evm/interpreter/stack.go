// Package interpreter implements the standard EVM stack machine (spec §1
// "drive a standard stack machine (latest EVM semantics)") that
// internal/evm/host drives execution through via the host.Interpreter
// function type. Grounded on other_examples's wyf-ACCEPT-eth2030
// interpreter.go for the overall jump-table/Run-loop shape (constant gas
// -> dynamic gas -> memory resize -> execute, per-opcode operation
// struct with minStack/maxStack/halts/jumps flags) adapted from that
// file's *big.Int/StateDB-interface style to this repo's host.Host cache
// and github.com/holiman/uint256 stack words — the same 256-bit integer
// library go-ethereum (ethereum-go-ethereum/go.mod, direct dependency)
// uses for its own interpreter stack, rather than hand-rolling
// DIV/MOD/EXP/bitwise ops a second time alongside internal/u256 (which
// spec §4.6 deliberately keeps add/sub/mul/shift-only).
package interpreter

import "github.com/holiman/uint256"

// maxStackDepth is the standard EVM stack depth limit.
const maxStackDepth = 1024

// stack is a fixed-growth LIFO of 256-bit words.
type stack struct {
	data []uint256.Int
}

func newStack() *stack {
	return &stack{data: make([]uint256.Int, 0, 16)}
}

func (s *stack) push(v *uint256.Int) {
	s.data = append(s.data, *v)
}

func (s *stack) pop() uint256.Int {
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v
}

func (s *stack) len() int { return len(s.data) }

// peek returns a pointer to the n-th item from the top (0 = top), for
// in-place mutation by binary operators.
func (s *stack) peek(n int) *uint256.Int {
	return &s.data[len(s.data)-1-n]
}

func (s *stack) swap(n int) {
	top := len(s.data) - 1
	s.data[top], s.data[top-n] = s.data[top-n], s.data[top]
}

func (s *stack) dup(n int) {
	v := s.data[len(s.data)-n]
	s.push(&v)
}
