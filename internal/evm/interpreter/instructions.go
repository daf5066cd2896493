package interpreter

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/keccak"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

var (
	errWriteProtection = errors.New("interpreter: write protection (static call)")
	errInvalidJump     = errors.New("interpreter: invalid jump destination")
	errOutOfGas        = errors.New("interpreter: out of gas")
	errReturnDataOOB   = errors.New("interpreter: return data out of bounds")
)

func toU256(v *uint256.Int) u256.U256 {
	b := v.Bytes32()
	return u256.U256(b)
}

func fromU256(v u256.U256) uint256.Int {
	var z uint256.Int
	z.SetBytes32(v[:])
	return z
}

func addrFromWord(v *uint256.Int) [20]byte {
	b := v.Bytes20()
	return b
}

func wordFromAddr(a [20]byte) uint256.Int {
	var z uint256.Int
	z.SetBytes20(a[:])
	return z
}

// ---- memorySize helpers ----

func memSizeOffsetSize(offIdx, sizeIdx int) memorySizeFunc {
	return func(st *stack) (uint64, bool) {
		off := st.peek(offIdx)
		size := st.peek(sizeIdx)
		return calcMemSize(off, size)
	}
}

func memSizeWord(offIdx int) memorySizeFunc {
	return func(st *stack) (uint64, bool) {
		off := st.peek(offIdx)
		size := uint256.NewInt(32)
		return calcMemSize(off, size)
	}
}

func memSizeByte(offIdx int) memorySizeFunc {
	return func(st *stack) (uint64, bool) {
		off := st.peek(offIdx)
		size := uint256.NewInt(1)
		return calcMemSize(off, size)
	}
}

// memSizeCallOut covers both the input-data region and the
// return-data-destination region a CALL-family opcode touches, returning
// whichever is larger.
func memSizeCallOut(inOff, inSize, outOff, outSize int) memorySizeFunc {
	return func(st *stack) (uint64, bool) {
		a, overA := calcMemSize(st.peek(inOff), st.peek(inSize))
		b, overB := calcMemSize(st.peek(outOff), st.peek(outSize))
		if overA || overB {
			return 0, true
		}
		if a > b {
			return a, false
		}
		return b, false
	}
}

// ---- dynamicGas helpers ----

func gasMemoryExpansion(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	if memorySize <= uint64(mem.len()) {
		return 0, nil
	}
	before := memoryGasCost(memoryWordSize(uint64(mem.len())))
	after := memoryGasCost(memoryWordSize(memorySize))
	return after - before, nil
}

// gasMemoryExpansionOnly is gasMemoryExpansion aliased for operations
// whose remaining dynamic cost (CREATE's init-code cost, RETURN/REVERT's
// zero extra cost) is otherwise covered by constantGas.
func gasMemoryExpansionOnly(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	return gasMemoryExpansion(f, c, st, mem, memorySize)
}

func gasCopyDyn(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	size := st.peek(2)
	words := memoryWordSize(size.Uint64())
	return memCost + words*gasCopyWord, nil
}

func gasExtcodecopyDyn(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	addr := addrFromWord(st.peek(0))
	size := st.peek(3)
	words := memoryWordSize(size.Uint64())
	cold := uint64(0)
	if f.h.AccessAddress(addr) {
		cold = gasColdAccount - gasWarmStorageRead
	}
	return memCost + words*gasCopyWord + cold, nil
}

func gasKeccak256Dyn(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	size := st.peek(1)
	words := memoryWordSize(size.Uint64())
	return memCost + words*gasKeccak256Word, nil
}

// gasAccountAccess returns a dynamicGasFunc charging the EIP-2929 cold
// surcharge for the address found at stack position addrIdx.
func gasAccountAccess(addrIdx int) dynamicGasFunc {
	return func(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
		addr := addrFromWord(st.peek(addrIdx))
		if f.h.AccessAddress(addr) {
			return gasColdAccount - gasWarmStorageRead, nil
		}
		return 0, nil
	}
}

func gasExp(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	exponent := st.peek(1)
	if exponent.IsZero() {
		return 0, nil
	}
	return uint64(exponent.BitLen()+7) / 8 * 50, nil
}

func gasSload(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	addr := c.address
	slot := wordToSlot(st.peek(0))
	if f.h.AccessStorage(addr, slot) {
		return gasColdSload - gasWarmStorageRead, nil
	}
	return 0, nil
}

func gasSstore(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	if f.readOnly {
		return 0, errWriteProtection
	}
	addr := c.address
	slot := wordToSlot(st.peek(0))
	cold := uint64(0)
	if f.h.AccessStorage(addr, slot) {
		cold = gasColdSload
	}
	current, err := f.h.GetStorage(addr, slot)
	if err != nil {
		return 0, err
	}
	newVal := st.peek(1).Bytes32()
	if current == newVal {
		return cold + gasWarmStorageRead, nil
	}
	if current == ([32]byte{}) {
		return cold + gasSstoreSet, nil
	}
	return cold + gasSstoreReset, nil
}

func gasLogDyn(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	if f.readOnly {
		return 0, errWriteProtection
	}
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	size := st.peek(1)
	return memCost + size.Uint64()*gasLogData, nil
}

func gasCreate2Dyn(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	size := st.peek(2)
	words := memoryWordSize(size.Uint64())
	return memCost + words*gasKeccak256Word, nil
}

func gasCall(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	addr := addrFromWord(st.peek(1))
	value := st.peek(2)
	cold := uint64(0)
	if f.h.AccessAddress(addr) {
		cold = gasColdAccount - gasWarmStorageRead
	}
	transferCost := uint64(0)
	if !value.IsZero() {
		if f.readOnly {
			return 0, errWriteProtection
		}
		transferCost = gasCallValueTransfer
	}
	return memCost + cold + transferCost, nil
}

func gasCallNoValue(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error) {
	memCost, err := gasMemoryExpansion(f, c, st, mem, memorySize)
	if err != nil {
		return 0, err
	}
	addr := addrFromWord(st.peek(1))
	cold := uint64(0)
	if f.h.AccessAddress(addr) {
		cold = gasColdAccount - gasWarmStorageRead
	}
	return memCost + cold, nil
}

func wordToSlot(v *uint256.Int) [32]byte { return v.Bytes32() }

// callGasForward applies the EIP-150 "63/64ths" rule, capping the
// explicitly requested gas operand to what the caller actually has left.
func callGasForward(available uint64, requested *uint256.Int) uint64 {
	capped := available - available/callGasFraction
	if !requested.IsUint64() || requested.Uint64() > capped {
		return capped
	}
	return requested.Uint64()
}

// ---- 0-ary / halting ----

func opStopFn(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) { return nil, nil }
func opNoop_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error)  { return nil, nil }
func opZero_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	st.push(new(uint256.Int))
	return nil, nil
}
func opInvalid_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return nil, fmt.Errorf("interpreter: invalid opcode 0x%x", c.getOp(*pc))
}

// ---- arithmetic ----

func opAdd_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	x.Add(x, &y)
	return nil, nil
}
func opMul_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	x.Mul(x, &y)
	return nil, nil
}
// Sub/Div/Mod/Exp are not commutative: pop() always yields the stack's
// top element (the first/left operand), peek(0) the element beneath it
// (the second/right operand, reused in place as the result slot). The
// `.Op(&top, bottom)` argument order below stores top-OP-bottom into
// bottom's slot — get the arguments backwards and every non-commutative
// opcode silently computes the mirror image of the right answer.
func opSub_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	bottom.Sub(&top, bottom)
	return nil, nil
}
func opDiv_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	bottom.Div(&top, bottom)
	return nil, nil
}
func opSdiv_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	bottom.SDiv(&top, bottom)
	return nil, nil
}
func opMod_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	bottom.Mod(&top, bottom)
	return nil, nil
}
func opSmod_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	bottom.SMod(&top, bottom)
	return nil, nil
}
func opAddmod_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	a, b := st.pop(), st.pop()
	n := st.peek(0)
	if n.IsZero() {
		n.Clear()
	} else {
		n.AddMod(&a, &b, n)
	}
	return nil, nil
}
func opMulmod_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	a, b := st.pop(), st.pop()
	n := st.peek(0)
	if n.IsZero() {
		n.Clear()
	} else {
		n.MulMod(&a, &b, n)
	}
	return nil, nil
}
func opExp_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	base, exponent := st.pop(), st.peek(0)
	exponent.Exp(&base, exponent)
	return nil, nil
}
func opSignextend_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	back, num := st.pop(), st.peek(0)
	num.ExtendSign(num, &back)
	return nil, nil
}

// ---- comparison / bitwise ----

func boolWord(b bool) uint256.Int {
	if b {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}

func opLt_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	r := top.Lt(bottom)
	*bottom = boolWord(r)
	return nil, nil
}
func opGt_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	r := top.Gt(bottom)
	*bottom = boolWord(r)
	return nil, nil
}
func opSlt_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	r := top.Slt(bottom)
	*bottom = boolWord(r)
	return nil, nil
}
func opSgt_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	top, bottom := st.pop(), st.peek(0)
	r := top.Sgt(bottom)
	*bottom = boolWord(r)
	return nil, nil
}
func opEq_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	r := x.Eq(&y)
	*x = boolWord(r)
	return nil, nil
}
func opIszero_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	r := x.IsZero()
	*x = boolWord(r)
	return nil, nil
}
func opAnd_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	x.And(x, &y)
	return nil, nil
}
func opOr_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	x.Or(x, &y)
	return nil, nil
}
func opXor_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	y, x := st.pop(), st.peek(0)
	x.Xor(x, &y)
	return nil, nil
}
func opNot_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	x.Not(x)
	return nil, nil
}
func opByte_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	th, val := st.pop(), st.peek(0)
	val.Byte(&th)
	return nil, nil
}
func opShl_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	shift, value := st.pop(), st.peek(0)
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}
func opShr_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	shift, value := st.pop(), st.peek(0)
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}
func opSar_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	shift, value := st.pop(), st.peek(0)
	if shift.GtUint64(256) {
		if value.Sign() < 0 {
			value.SetAllOne()
		} else {
			value.Clear()
		}
		return nil, nil
	}
	value.SRsh(value, uint(shift.Uint64()))
	return nil, nil
}

// ---- keccak ----

func opKeccak256_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	offset, size := st.pop(), st.peek(0)
	data := mem.getPtr(offset.Uint64(), size.Uint64())
	h := keccak.Hash256(data)
	size.SetBytes32(h)
	return nil, nil
}

// ---- environment ----

func opAddress_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := wordFromAddr(c.address)
	st.push(&v)
	return nil, nil
}
func opBalance_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	addr := addrFromWord(st.peek(0))
	acc, _, err := f.h.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	v := fromU256(acc.Balance)
	*st.peek(0) = v
	return nil, nil
}
func opOrigin_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := wordFromAddr(f.h.Origin())
	st.push(&v)
	return nil, nil
}
func opCaller_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := wordFromAddr(c.caller)
	st.push(&v)
	return nil, nil
}
func opCallvalue_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := c.value
	st.push(&v)
	return nil, nil
}
func opCalldataload_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	off := x.Uint64()
	var buf [32]byte
	if off < uint64(len(c.input)) {
		copy(buf[:], c.input[off:])
	}
	x.SetBytes32(buf)
	return nil, nil
}
func opCalldatasize_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(uint64(len(c.input)))
	st.push(v)
	return nil, nil
}
func opCalldatacopy_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	destOffset, offset, size := st.pop(), st.pop(), st.pop()
	data := paddedSlice(c.input, offset.Uint64(), size.Uint64())
	mem.set(destOffset.Uint64(), size.Uint64(), data)
	return nil, nil
}
func opCodesize_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(uint64(len(c.code)))
	st.push(v)
	return nil, nil
}
func opCodecopy_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	destOffset, offset, size := st.pop(), st.pop(), st.pop()
	data := paddedSlice(c.code, offset.Uint64(), size.Uint64())
	mem.set(destOffset.Uint64(), size.Uint64(), data)
	return nil, nil
}
func opGasprice_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := fromU256(f.h.GasPrice())
	st.push(&v)
	return nil, nil
}
func opExtcodesize_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	addr := addrFromWord(st.peek(0))
	code, err := f.h.GetCode(addr)
	if err != nil {
		return nil, err
	}
	*st.peek(0) = *uint256.NewInt(uint64(len(code)))
	return nil, nil
}
func opExtcodecopy_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	addrW, destOffset, offset, size := st.pop(), st.pop(), st.pop(), st.pop()
	addr := addrFromWord(&addrW)
	code, err := f.h.GetCode(addr)
	if err != nil {
		return nil, err
	}
	data := paddedSlice(code, offset.Uint64(), size.Uint64())
	mem.set(destOffset.Uint64(), size.Uint64(), data)
	return nil, nil
}
func opReturndatasize_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(uint64(len(f.returnData)))
	st.push(v)
	return nil, nil
}
func opReturndatacopy_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	destOffset, offset, size := st.pop(), st.pop(), st.pop()
	end := offset.Uint64() + size.Uint64()
	if end < offset.Uint64() || end > uint64(len(f.returnData)) {
		return nil, errReturnDataOOB
	}
	mem.set(destOffset.Uint64(), size.Uint64(), f.returnData[offset.Uint64():end])
	return nil, nil
}
func opExtcodehash_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	addr := addrFromWord(st.peek(0))
	code, err := f.h.GetCode(addr)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		acc, exists, err := f.h.GetAccount(addr)
		_ = acc
		if err != nil {
			return nil, err
		}
		if !exists {
			st.peek(0).Clear()
			return nil, nil
		}
	}
	h := keccak.Hash256(code)
	st.peek(0).SetBytes32(h)
	return nil, nil
}

// ---- block context ----

func opBlockhash_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	h := f.h.BlockHash()
	x.SetBytes32(h)
	return nil, nil
}
func opTimestamp_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(f.h.Timestamp())
	st.push(v)
	return nil, nil
}
func opNumber_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := fromU256(f.h.BlockNumber())
	st.push(&v)
	return nil, nil
}
func opChainid_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(f.h.ChainID())
	st.push(v)
	return nil, nil
}
func opSelfbalance_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	acc, _, err := f.h.GetAccount(c.address)
	if err != nil {
		return nil, err
	}
	v := fromU256(acc.Balance)
	st.push(&v)
	return nil, nil
}

// ---- stack / memory / storage / flow ----

func opPop_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	st.pop()
	return nil, nil
}
func opMload_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	off := x.Uint64()
	var buf [32]byte
	copy(buf[:], mem.getPtr(off, 32))
	x.SetBytes32(buf)
	return nil, nil
}
func opMstore_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	offset, val := st.pop(), st.pop()
	mem.set32(offset.Uint64(), &val)
	return nil, nil
}
func opMstore8_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	offset, val := st.pop(), st.pop()
	mem.store[offset.Uint64()] = byte(val.Uint64())
	return nil, nil
}
func opSload_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	x := st.peek(0)
	slot := wordToSlot(x)
	v, err := f.h.GetStorage(c.address, slot)
	if err != nil {
		return nil, err
	}
	x.SetBytes32(v)
	return nil, nil
}
func opSstore_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	if f.readOnly {
		return nil, errWriteProtection
	}
	slotW, val := st.pop(), st.pop()
	slot := wordToSlot(&slotW)
	value := val.Bytes32()
	_, err := f.h.SetStorage(c.address, slot, value)
	return nil, err
}
func opJump_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	dest := st.pop()
	if !dest.IsUint64() || !validJumpdest(c.code, dest.Uint64()) {
		return nil, errInvalidJump
	}
	*pc = dest.Uint64()
	return nil, nil
}
func opJumpi_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	dest, cond := st.pop(), st.pop()
	if cond.IsZero() {
		*pc++
		return nil, nil
	}
	if !dest.IsUint64() || !validJumpdest(c.code, dest.Uint64()) {
		return nil, errInvalidJump
	}
	*pc = dest.Uint64()
	return nil, nil
}
func opPc_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(*pc)
	st.push(v)
	return nil, nil
}
func opMsize_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(uint64(mem.len()))
	st.push(v)
	return nil, nil
}
func opGas_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	v := uint256.NewInt(c.gas)
	st.push(v)
	return nil, nil
}

// validJumpdest reports whether dest indexes a JUMPDEST opcode that is
// not itself the trailing data of a preceding PUSH instruction.
func validJumpdest(code []byte, dest uint64) bool {
	if dest >= uint64(len(code)) {
		return false
	}
	if opCode(code[dest]) != opJumpdest {
		return false
	}
	var i uint64
	for i < dest {
		op := opCode(code[i])
		if op.isPush() {
			i += uint64(op.pushSize()) + 1
			continue
		}
		i++
	}
	return i == dest
}

func paddedSlice(src []byte, offset, size uint64) []byte {
	out := make([]byte, size)
	if offset >= uint64(len(src)) {
		return out
	}
	end := offset + size
	if end > uint64(len(src)) {
		end = uint64(len(src))
	}
	copy(out, src[offset:end])
	return out
}

// ---- push / dup / swap / log generators ----

func opPush(n int) executionFunc {
	return func(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
		start := *pc + 1
		var buf [32]byte
		if n > 0 {
			end := start + uint64(n)
			if end > uint64(len(c.code)) {
				end = uint64(len(c.code))
			}
			copy(buf[32-n:], c.code[start:end])
		}
		v := new(uint256.Int).SetBytes32(buf)
		st.push(v)
		*pc += uint64(n)
		return nil, nil
	}
}

func opDup(n int) executionFunc {
	return func(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
		st.dup(n)
		return nil, nil
	}
}

func opSwap(n int) executionFunc {
	return func(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
		st.swap(n)
		return nil, nil
	}
}

func opLog(n int) executionFunc {
	return func(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
		if f.readOnly {
			return nil, errWriteProtection
		}
		offset, size := st.pop(), st.pop()
		data := mem.get(offset.Uint64(), size.Uint64())
		topics := make([][32]byte, n)
		for i := 0; i < n; i++ {
			t := st.pop()
			topics[i] = t.Bytes32()
		}
		f.h.EmitLog(c.address, topics, data)
		return nil, nil
	}
}

// ---- create / call family ----

func opCreate_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCreate(pc, f, c, mem, st, false)
}
func opCreate2_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCreate(pc, f, c, mem, st, true)
}

func doCreate(pc *uint64, f *frame, c *contract, mem *memory, st *stack, isCreate2 bool) ([]byte, error) {
	if f.readOnly {
		return nil, errWriteProtection
	}
	value, offset, size := st.pop(), st.pop(), st.pop()
	var salt uint256.Int
	if isCreate2 {
		salt = st.pop()
	}

	if f.depth+1 > maxCallDepth {
		st.push(new(uint256.Int))
		return nil, nil
	}

	initCode := mem.get(offset.Uint64(), size.Uint64())

	msg := host.Msg{
		Kind:      host.Create,
		Sender:    c.address,
		Value:     toU256(&value),
		CallValue: toU256(&value),
		Input:     initCode,
		Depth:     f.depth + 1,
	}
	if isCreate2 {
		msg.Kind = host.Create2
		msg.Salt = salt.Bytes32()
	}

	gas := c.gas - c.gas/callGasFraction
	c.gas -= gas
	out, used, status, err := f.h.Call(msg, gas)
	c.gas += gas - used
	f.returnData = out
	if err != nil {
		return nil, err
	}

	result := new(uint256.Int)
	if status == host.StatusSuccess {
		rcpt := f.h.Receipt()
		if rcpt.CreatedAddress != nil {
			*result = wordFromAddr(*rcpt.CreatedAddress)
		}
	}
	st.push(result)
	return nil, nil
}

func opCall_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCall(pc, f, c, mem, st, host.Call)
}
func opCallcode_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCall(pc, f, c, mem, st, host.CallCode)
}
func opDelegatecall_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCall(pc, f, c, mem, st, host.DelegateCall)
}
func opStaticcall_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	return doCall(pc, f, c, mem, st, host.StaticCall)
}

func doCall(pc *uint64, f *frame, c *contract, mem *memory, st *stack, kind host.CallKind) ([]byte, error) {
	gasWord := st.pop()
	addrW := st.pop()
	addr := addrFromWord(&addrW)

	var value uint256.Int
	if kind == host.Call || kind == host.CallCode {
		value = st.pop()
	}
	inOffset, inSize := st.pop(), st.pop()
	retOffset, retSize := st.pop(), st.pop()

	if kind == host.Call && !value.IsZero() && f.readOnly {
		return nil, errWriteProtection
	}

	if f.depth+1 > maxCallDepth {
		st.push(new(uint256.Int))
		return nil, nil
	}

	input := mem.get(inOffset.Uint64(), inSize.Uint64())
	msg := host.Msg{
		Kind:      kind,
		Sender:    c.address,
		Recipient: addr,
		Input:     input,
		Value:     toU256(&value),
		CallValue: toU256(&value),
		ReadOnly:  f.readOnly || kind == host.StaticCall,
		Depth:     f.depth + 1,
	}
	switch kind {
	case host.DelegateCall:
		// DELEGATECALL never transfers value — Msg.Value stays zero so
		// host.Call's transfer step is a no-op; CALLVALUE inside the
		// callee still reads the ENCLOSING frame's value via CallValue,
		// propagated unchanged rather than drawn from a (nonexistent)
		// stack operand.
		msg.Sender = c.caller
		msg.Recipient = c.address
		msg.CodeAddress = addr
		msg.Value = u256.Zero
		msg.CallValue = toU256(&c.value)
	case host.CallCode:
		// CALLCODE's value operand nets to a same-address transfer
		// (sender == recipient == c.address); zero Value to avoid
		// exercising that degenerate path in host.transfer, since the
		// net balance effect is zero either way, but CallValue still
		// reports the real operand to CALLVALUE.
		msg.Recipient = c.address
		msg.CodeAddress = addr
		msg.Value = u256.Zero
	}

	gas := callGasForward(c.gas, &gasWord)
	c.gas -= gas
	calleeGas := gas
	if !value.IsZero() {
		calleeGas += gasCallValueStipend
	}

	out, used, status, err := f.h.Call(msg, calleeGas)
	c.gas += calleeGas - used
	f.returnData = out
	if err != nil {
		return nil, err
	}
	mem.set(retOffset.Uint64(), minU64(retSize.Uint64(), uint64(len(out))), out)

	result := new(uint256.Int)
	if status == host.StatusSuccess {
		result = uint256.NewInt(1)
	}
	st.push(result)
	return nil, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func opReturn_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	offset, size := st.pop(), st.pop()
	return mem.get(offset.Uint64(), size.Uint64()), nil
}
func opRevert_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	offset, size := st.pop(), st.pop()
	return mem.get(offset.Uint64(), size.Uint64()), nil
}
func opSelfdestruct_(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error) {
	if f.readOnly {
		return nil, errWriteProtection
	}
	beneficiary := addrFromWord(st.pop2())
	return nil, f.h.SelfDestruct(c.address, beneficiary)
}

// pop2 exists only so opSelfdestruct_ reads naturally (stack.pop returns
// a value, not a pointer; SELFDESTRUCT needs the popped word by pointer
// for addrFromWord's signature).
func (s *stack) pop2() *uint256.Int {
	v := s.pop()
	return &v
}
