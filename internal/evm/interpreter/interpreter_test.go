package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

// singleShardRouter adapts a lone *locking.Shard to host.LockRouter for
// tests that only need one shard's worth of locking, mirroring the
// equivalent helper in internal/evm/host's own test suite.
type singleShardRouter struct {
	shard    *locking.Shard
	brokerID string
}

func (r *singleShardRouter) TryLock(t ticket.Number, key []byte, mode locking.LockMode, firstLock bool, onGrant locking.GrantedCallback) locking.TryLockResult {
	return r.shard.TryLock(t, r.brokerID, key, mode, firstLock, onGrant)
}

func newTestHost(t *testing.T) *host.Host {
	t.Helper()
	sh := locking.New("s0")
	router := &singleShardRouter{shard: sh, brokerID: "b0"}
	return host.New(router, 1, false, 0xCBDC, host.DefaultConfig(), [32]byte{1}, [20]byte{0xAA}, u256.FromUint64(1), Run)
}

func push32(v byte) []byte {
	b := make([]byte, 32)
	b[31] = v
	return append([]byte{byte(opPush1 + 31)}, b...)
}

// runCode drives Run directly against h for a top-level call carrying code,
// bypassing the runner's transaction decoding entirely.
func runCode(h *host.Host, code []byte, input []byte) ([]byte, uint64, host.Status) {
	msg := host.Msg{Kind: host.Call, Sender: [20]byte{1}, Recipient: [20]byte{2}, Input: input}
	return Run(h, code, msg, 1_000_000)
}

func TestStopHaltsImmediately(t *testing.T) {
	h := newTestHost(t)
	out, _, status := runCode(h, []byte{byte(opStop)}, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Nil(t, out)
}

func TestAddPushesSum(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(3), push32(4)...)
	code = append(code, byte(opAdd))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(7), lastWord(out))
}

// storeAndReturn appends MSTORE(0, <top-of-stack>) RETURN(0, 32) so a
// single stack result can be observed as call output.
func storeAndReturn() []byte {
	return []byte{
		byte(opPush1), 0x00, // offset
		byte(opMstore),
		byte(opPush1), 0x20, // size
		byte(opPush1), 0x00, // offset
		byte(opReturn),
	}
}

func lastWord(out []byte) uint64 {
	if len(out) < 32 {
		return 0
	}
	var v uint64
	for _, b := range out[24:32] {
		v = v<<8 | uint64(b)
	}
	return v
}

// TestSubOrderIsTopMinusSecond pins down SUB's operand order: 10 - 3 must
// be 7, not 3 - 10. A mirrored implementation would silently wrap around
// to a huge value instead.
func TestSubOrderIsTopMinusSecond(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(3), push32(10)...) // stack (top->bottom): 10, 3
	code = append(code, byte(opSub))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(7), lastWord(out))
}

func TestDivOrderIsTopDividedBySecond(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(4), push32(20)...) // stack: 20, 4
	code = append(code, byte(opDiv))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(5), lastWord(out))
}

func TestModOrder(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(3), push32(10)...) // stack: 10, 3
	code = append(code, byte(opMod))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(1), lastWord(out))
}

func TestExpBaseAndExponentOrder(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(3), push32(2)...) // stack: 2, 3 -> 2**3 = 8
	code = append(code, byte(opExp))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(8), lastWord(out))
}

func TestAddmodUsesThirdOperandAsModulus(t *testing.T) {
	h := newTestHost(t)
	// stack push order: 5, 8, 10 -> top is 10, modulus is 5 -> (10 + 8) mod 5 = 3
	code := append(push32(5), push32(8)...)
	code = append(code, push32(10)...)
	code = append(code, byte(opAddmod))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(3), lastWord(out))
}

func TestLtDirectionTopLessThanSecond(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(10), push32(3)...) // stack: 3, 10 -> LT(3,10)=1
	code = append(code, byte(opLt))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(1), lastWord(out))

	code2 := append(push32(3), push32(10)...) // stack: 10, 3 -> LT(10,3)=0
	code2 = append(code2, byte(opLt))
	code2 = append(code2, storeAndReturn()...)
	out2, _, status2 := runCode(h, code2, nil)
	require.Equal(t, host.StatusSuccess, status2)
	require.Equal(t, uint64(0), lastWord(out2))
}

func TestMstoreMloadRoundTrip(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(0xAB), byte(opPush1), 0x00)
	code = append(code, byte(opMstore))
	code = append(code, byte(opPush1), 0x00, byte(opMload))
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(0xAB), lastWord(out))
}

func TestSloadSstoreRoundTrip(t *testing.T) {
	h := newTestHost(t)
	code := []byte{
		byte(opPush1), 0x2A, // value 42
		byte(opPush1), 0x01, // slot 1
		byte(opSstore),
		byte(opPush1), 0x01, // slot 1
		byte(opSload),
	}
	code = append(code, storeAndReturn()...)
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(42), lastWord(out))
}

func TestSstoreRejectedInsideStaticCall(t *testing.T) {
	h := newTestHost(t)
	code := []byte{
		byte(opPush1), 0x01,
		byte(opPush1), 0x01,
		byte(opSstore),
	}
	msg := host.Msg{Kind: host.StaticCall, Sender: [20]byte{1}, Recipient: [20]byte{2}, ReadOnly: true}
	_, _, status := Run(h, code, msg, 1_000_000)
	require.Equal(t, host.StatusFailure, status)
}

func TestRevertReturnsOutputWithRevertStatus(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(0x99), byte(opPush1), 0x00)
	code = append(code, byte(opMstore))
	code = append(code, byte(opPush1), 0x20, byte(opPush1), 0x00, byte(opRevert))
	out, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusRevert, status)
	require.Equal(t, uint64(0x99), lastWord(out))
}

func TestInvalidOpcodeFails(t *testing.T) {
	h := newTestHost(t)
	out, _, status := runCode(h, []byte{0x0c}, nil) // unassigned byte
	require.Equal(t, host.StatusFailure, status)
	require.Nil(t, out)
}

func TestCalldataloadReadsInput(t *testing.T) {
	h := newTestHost(t)
	code := []byte{byte(opPush1), 0x00, byte(opCalldataload)}
	code = append(code, storeAndReturn()...)
	input := make([]byte, 32)
	input[31] = 7
	out, _, status := runCode(h, code, input)
	require.Equal(t, host.StatusSuccess, status)
	require.Equal(t, uint64(7), lastWord(out))
}

func TestOutOfGasFailsCleanly(t *testing.T) {
	h := newTestHost(t)
	code := append(push32(3), push32(4)...)
	code = append(code, byte(opAdd))
	code = append(code, storeAndReturn()...)
	msg := host.Msg{Kind: host.Call, Sender: [20]byte{1}, Recipient: [20]byte{2}}
	_, _, status := Run(h, code, msg, 5)
	require.Equal(t, host.StatusFailure, status)
}

func TestJumpToNonJumpdestFails(t *testing.T) {
	h := newTestHost(t)
	code := []byte{byte(opPush1), 0x05, byte(opJump), byte(opStop), byte(opStop), byte(opAdd)}
	_, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusFailure, status)
}

func TestJumpToJumpdestSucceeds(t *testing.T) {
	h := newTestHost(t)
	code := []byte{
		byte(opPush1), 0x04,
		byte(opJump),
		byte(opInvalid), // skipped
		byte(opJumpdest),
		byte(opStop),
	}
	_, _, status := runCode(h, code, nil)
	require.Equal(t, host.StatusSuccess, status)
}
