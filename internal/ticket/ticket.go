// Package ticket implements the system-wide ticket number minter (spec §3):
// a monotonically increasing 64-bit identifier. Lower numbers are "older";
// the wound-wait scheduler in internal/locking uses ticket ordering to
// decide who gets wounded.
package ticket

import "sync/atomic"

// Number is a ticket identifier. Zero is never issued, so it can serve as
// an "unset" sentinel at call sites.
type Number uint64

// Before reports whether a is strictly older than b.
func (a Number) Before(b Number) bool { return a < b }

// Machine mints strictly increasing ticket numbers. It is safe for
// concurrent use; a single Machine instance backs one broker (spec §3,
// "a single ticket machine").
type Machine struct {
	next atomic.Uint64
}

// NewMachine returns a Machine whose first minted ticket is 1.
func NewMachine() *Machine {
	return &Machine{}
}

// Next mints and returns the next ticket number.
func (m *Machine) Next() Number {
	return Number(m.next.Add(1))
}
