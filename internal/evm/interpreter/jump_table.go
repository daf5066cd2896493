package interpreter

// dynamicGasFunc computes the operand-dependent portion of an opcode's
// gas cost (memory expansion, EIP-2929 cold surcharges, CALL/CREATE
// stipends); it runs with the stack still holding every operand the
// opcode will itself pop, matching the grounding reference's "gas before
// execute" ordering.
type dynamicGasFunc func(f *frame, c *contract, st *stack, mem *memory, memorySize uint64) (uint64, error)

// executionFunc performs one opcode, possibly advancing pc itself
// (JUMP/JUMPI) and returning output bytes for the halting opcodes.
type executionFunc func(pc *uint64, f *frame, c *contract, mem *memory, st *stack) ([]byte, error)

// memorySizeFunc reports the memory size (in bytes, rounded up to a word)
// the operation will touch, given the stack's current operands.
type memorySizeFunc func(st *stack) (uint64, bool)

type operation struct {
	execute     executionFunc
	constantGas uint64
	dynamicGas  dynamicGasFunc
	minStack    int
	maxStack    int
	memorySize  memorySizeFunc
	halts       bool
	jumps       bool
	writes      bool // rejected inside a ReadOnly (STATICCALL) frame
}

func minStackOK(pop int) int { return pop }
func maxStackOK(pop, push int) int {
	return maxStackDepth + pop - push
}

// newJumpTable builds the opcode dispatch table. Unassigned entries are
// nil and end execution with StatusFailure, covering both genuinely undefined
// bytes and reserved-but-unimplemented opcodes (e.g. TLOAD/TSTORE, MCOPY)
// this trimmed interpreter does not support.
func newJumpTable() [256]*operation {
	var t [256]*operation

	set := func(op opCode, o operation) { t[op] = &o }

	set(opStop, operation{execute: opStopFn, minStack: minStackOK(0), maxStack: maxStackOK(0, 0), halts: true})

	// Arithmetic.
	set(opAdd, operation{execute: opAdd_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opMul, operation{execute: opMul_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSub, operation{execute: opSub_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opDiv, operation{execute: opDiv_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSdiv, operation{execute: opSdiv_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opMod, operation{execute: opMod_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSmod, operation{execute: opSmod_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opAddmod, operation{execute: opAddmod_, constantGas: gasMidStep, minStack: minStackOK(3), maxStack: maxStackOK(3, 1)})
	set(opMulmod, operation{execute: opMulmod_, constantGas: gasMidStep, minStack: minStackOK(3), maxStack: maxStackOK(3, 1)})
	set(opExp, operation{execute: opExp_, constantGas: gasSlowStep, dynamicGas: gasExp, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSignextend, operation{execute: opSignextend_, constantGas: gasFastStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})

	// Comparison / bitwise.
	set(opLt, operation{execute: opLt_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opGt, operation{execute: opGt_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSlt, operation{execute: opSlt_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSgt, operation{execute: opSgt_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opEq, operation{execute: opEq_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opIszero, operation{execute: opIszero_, constantGas: gasFastestStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opAnd, operation{execute: opAnd_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opOr, operation{execute: opOr_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opXor, operation{execute: opXor_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opNot, operation{execute: opNot_, constantGas: gasFastestStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opByte, operation{execute: opByte_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opShl, operation{execute: opShl_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opShr, operation{execute: opShr_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})
	set(opSar, operation{execute: opSar_, constantGas: gasFastestStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 1)})

	set(opKeccak256, operation{
		execute: opKeccak256_, constantGas: gasKeccak256, dynamicGas: gasKeccak256Dyn,
		minStack: minStackOK(2), maxStack: maxStackOK(2, 1),
		memorySize: memSizeOffsetSize(0, 1),
	})

	// Environment.
	set(opAddress, operation{execute: opAddress_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opBalance, operation{execute: opBalance_, constantGas: gasWarmStorageRead, dynamicGas: gasAccountAccess(0), minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opOrigin, operation{execute: opOrigin_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opCaller, operation{execute: opCaller_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opCallvalue, operation{execute: opCallvalue_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opCalldataload, operation{execute: opCalldataload_, constantGas: gasFastestStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opCalldatasize, operation{execute: opCalldatasize_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opCalldatacopy, operation{
		execute: opCalldatacopy_, constantGas: gasFastestStep, dynamicGas: gasCopyDyn,
		minStack: minStackOK(3), maxStack: maxStackOK(3, 0), memorySize: memSizeOffsetSize(0, 2),
	})
	set(opCodesize, operation{execute: opCodesize_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opCodecopy, operation{
		execute: opCodecopy_, constantGas: gasFastestStep, dynamicGas: gasCopyDyn,
		minStack: minStackOK(3), maxStack: maxStackOK(3, 0), memorySize: memSizeOffsetSize(0, 2),
	})
	set(opGasprice, operation{execute: opGasprice_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opExtcodesize, operation{execute: opExtcodesize_, constantGas: gasWarmStorageRead, dynamicGas: gasAccountAccess(0), minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opExtcodecopy, operation{
		execute: opExtcodecopy_, constantGas: gasWarmStorageRead, dynamicGas: gasExtcodecopyDyn,
		minStack: minStackOK(4), maxStack: maxStackOK(4, 0), memorySize: memSizeOffsetSize(1, 3),
	})
	set(opReturndatasize, operation{execute: opReturndatasize_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opReturndatacopy, operation{
		execute: opReturndatacopy_, constantGas: gasFastestStep, dynamicGas: gasCopyDyn,
		minStack: minStackOK(3), maxStack: maxStackOK(3, 0), memorySize: memSizeOffsetSize(0, 2),
	})
	set(opExtcodehash, operation{execute: opExtcodehash_, constantGas: gasWarmStorageRead, dynamicGas: gasAccountAccess(0), minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})

	// Block context.
	set(opBlockhash, operation{execute: opBlockhash_, constantGas: gasExtStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opCoinbase, operation{execute: opZero_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opTimestamp, operation{execute: opTimestamp_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opNumber, operation{execute: opNumber_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opDifficulty, operation{execute: opZero_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opGaslimit, operation{execute: opZero_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opChainid, operation{execute: opChainid_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opSelfbalance, operation{execute: opSelfbalance_, constantGas: gasFastStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opBasefee, operation{execute: opZero_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})

	// Stack/memory/storage/flow.
	set(opPop, operation{execute: opPop_, constantGas: gasQuickStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 0)})
	set(opMload, operation{
		execute: opMload_, constantGas: gasFastestStep, dynamicGas: gasMemoryExpansion,
		minStack: minStackOK(1), maxStack: maxStackOK(1, 1), memorySize: memSizeWord(0),
	})
	set(opMstore, operation{
		execute: opMstore_, constantGas: gasFastestStep, dynamicGas: gasMemoryExpansion,
		minStack: minStackOK(2), maxStack: maxStackOK(2, 0), memorySize: memSizeWord(0),
	})
	set(opMstore8, operation{
		execute: opMstore8_, constantGas: gasFastestStep, dynamicGas: gasMemoryExpansion,
		minStack: minStackOK(2), maxStack: maxStackOK(2, 0), memorySize: memSizeByte(0),
	})
	set(opSload, operation{execute: opSload_, constantGas: gasWarmStorageRead, dynamicGas: gasSload, minStack: minStackOK(1), maxStack: maxStackOK(1, 1)})
	set(opSstore, operation{execute: opSstore_, dynamicGas: gasSstore, minStack: minStackOK(2), maxStack: maxStackOK(2, 0), writes: true})
	set(opJump, operation{execute: opJump_, constantGas: gasMidStep, minStack: minStackOK(1), maxStack: maxStackOK(1, 0), jumps: true})
	set(opJumpi, operation{execute: opJumpi_, constantGas: gasSlowStep, minStack: minStackOK(2), maxStack: maxStackOK(2, 0), jumps: true})
	set(opPc, operation{execute: opPc_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opMsize, operation{execute: opMsize_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opGas, operation{execute: opGas_, constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	set(opJumpdest, operation{execute: opNoop_, constantGas: gasJumpdest, minStack: minStackOK(0), maxStack: maxStackOK(0, 0)})

	set(opPush0, operation{execute: opPush(0), constantGas: gasQuickStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	for i := 1; i <= 32; i++ {
		op := opCode(int(opPush1) + i - 1)
		set(op, operation{execute: opPush(i), constantGas: gasFastestStep, minStack: minStackOK(0), maxStack: maxStackOK(0, 1)})
	}
	for i := 1; i <= 16; i++ {
		op := opCode(int(opDup1) + i - 1)
		set(op, operation{execute: opDup(i), constantGas: gasFastestStep, minStack: minStackOK(i), maxStack: maxStackOK(i, i+1)})
	}
	for i := 1; i <= 16; i++ {
		op := opCode(int(opSwap1) + i - 1)
		set(op, operation{execute: opSwap(i), constantGas: gasFastestStep, minStack: minStackOK(i + 1), maxStack: maxStackOK(i+1, i+1)})
	}
	for i := 0; i <= 4; i++ {
		op := opCode(int(opLog0) + i)
		set(op, operation{
			execute: opLog(i), constantGas: gasLog + uint64(i)*gasLogTopic, dynamicGas: gasLogDyn,
			minStack: minStackOK(2 + i), maxStack: maxStackOK(2+i, 0), memorySize: memSizeOffsetSize(0, 1), writes: true,
		})
	}

	set(opCreate, operation{
		execute: opCreate_, constantGas: gasCreate, dynamicGas: gasMemoryExpansionOnly,
		minStack: minStackOK(3), maxStack: maxStackOK(3, 1), memorySize: memSizeOffsetSize(1, 2), writes: true,
	})
	set(opCreate2, operation{
		execute: opCreate2_, constantGas: gasCreate, dynamicGas: gasCreate2Dyn,
		minStack: minStackOK(4), maxStack: maxStackOK(4, 1), memorySize: memSizeOffsetSize(1, 2), writes: true,
	})
	set(opCall, operation{
		execute: opCall_, constantGas: gasWarmStorageRead, dynamicGas: gasCall,
		minStack: minStackOK(7), maxStack: maxStackOK(7, 1), memorySize: memSizeCallOut(3, 4, 5, 6),
	})
	set(opCallcode, operation{
		execute: opCallcode_, constantGas: gasWarmStorageRead, dynamicGas: gasCall,
		minStack: minStackOK(7), maxStack: maxStackOK(7, 1), memorySize: memSizeCallOut(3, 4, 5, 6),
	})
	set(opDelegatecall, operation{
		execute: opDelegatecall_, constantGas: gasWarmStorageRead, dynamicGas: gasCallNoValue,
		minStack: minStackOK(6), maxStack: maxStackOK(6, 1), memorySize: memSizeCallOut(2, 3, 4, 5),
	})
	set(opStaticcall, operation{
		execute: opStaticcall_, constantGas: gasWarmStorageRead, dynamicGas: gasCallNoValue,
		minStack: minStackOK(6), maxStack: maxStackOK(6, 1), memorySize: memSizeCallOut(2, 3, 4, 5),
	})
	set(opReturn, operation{
		execute: opReturn_, dynamicGas: gasMemoryExpansionOnly,
		minStack: minStackOK(2), maxStack: maxStackOK(2, 0), memorySize: memSizeOffsetSize(0, 1), halts: true,
	})
	set(opRevert, operation{
		execute: opRevert_, dynamicGas: gasMemoryExpansionOnly,
		minStack: minStackOK(2), maxStack: maxStackOK(2, 0), memorySize: memSizeOffsetSize(0, 1), halts: true,
	})
	set(opInvalid, operation{execute: opInvalid_, minStack: minStackOK(0), maxStack: maxStackOK(0, 0), halts: true})
	set(opSelfdestruct, operation{execute: opSelfdestruct_, constantGas: gasSelfdestruct, dynamicGas: gasAccountAccess(0), minStack: minStackOK(1), maxStack: maxStackOK(1, 0), halts: true, writes: true})

	return t
}
