package interpreter

import "github.com/holiman/uint256"

// contract bundles the per-call execution context the Run loop threads
// through instruction implementations: the running gas meter, the code
// being executed, and the call's input/value/address triple (mirrors the
// grounding reference's Contract type, trimmed to what this repo's host
// already tracks elsewhere — balances and code live in host.Host, not
// duplicated here).
type contract struct {
	code  []byte
	input []byte
	gas   uint64
	value uint256.Int

	address [20]byte
	caller  [20]byte
}

// useGas deducts cost from the remaining gas, reporting false (without
// mutating gas) on underflow.
func (c *contract) useGas(cost uint64) bool {
	if c.gas < cost {
		return false
	}
	c.gas -= cost
	return true
}

// getOp returns the opcode at pc, or STOP past the end of code (matching
// the standard convention that code implicitly ends with STOPs).
func (c *contract) getOp(pc uint64) opCode {
	if pc >= uint64(len(c.code)) {
		return opStop
	}
	return opCode(c.code[pc])
}
