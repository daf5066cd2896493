package host

import (
	"encoding/hex"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/mit-dci/opencbdc-tx-go/internal/broker"
	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

// singleShardRouter adapts a lone *locking.Shard to the LockRouter
// interface for tests that don't need the broker/directory machinery.
type singleShardRouter struct {
	shard    *locking.Shard
	brokerID string
}

func (r *singleShardRouter) TryLock(t ticket.Number, key []byte, mode locking.LockMode, firstLock bool, onGrant locking.GrantedCallback) locking.TryLockResult {
	return r.shard.TryLock(t, r.brokerID, key, mode, firstLock, onGrant)
}

func noopInterp(h *Host, code []byte, msg Msg, gasLimit uint64) ([]byte, uint64, Status) {
	return nil, 21000, StatusSuccess
}

func newTestHost(t *testing.T, dryRun bool) (*Host, *locking.Shard) {
	t.Helper()
	sh := locking.New("s0")
	router := &singleShardRouter{shard: sh, brokerID: "b0"}
	h := New(router, 1, dryRun, 0xCBDC, DefaultConfig(), [32]byte{1}, [20]byte{9}, u256.Zero, noopInterp)
	return h, sh
}

func TestGetAccountDefaultsToZeroValue(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{1, 2, 3}
	acc, exists, err := h.GetAccount(addr)
	require.NoError(t, err)
	require.False(t, exists)
	require.True(t, acc.Balance.IsZero())
}

func TestSetAccountMarksDirtyAndRoundTripsThroughUpdates(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{9}
	acc := Account{Balance: u256.FromUint64(500), Nonce: u256.FromUint64(0)}
	require.NoError(t, h.SetAccount(addr, acc))

	updates := h.GetStateUpdates()
	found := false
	for _, u := range updates {
		if string(u.Key) == string(AccountKey(addr)) {
			found = true
			decoded := DecodeAccount(u.Value)
			require.Equal(t, acc.Balance, decoded.Balance)
		}
	}
	require.True(t, found)
}

func TestDryRunNeverAcquiresWriteLocks(t *testing.T) {
	h, _ := newTestHost(t, true)
	addr := [20]byte{1}
	err := h.SetAccount(addr, Account{Balance: u256.FromUint64(1)})
	require.Error(t, err, "dry-run SetAccount must refuse to write")
}

func TestTransferMovesBalanceBetweenAccounts(t *testing.T) {
	h, _ := newTestHost(t, false)
	from := [20]byte{1}
	to := [20]byte{2}
	require.NoError(t, h.SetAccount(from, Account{Balance: u256.FromUint64(100)}))

	_, _, status, err := h.Call(Msg{Kind: Call, Sender: from, Recipient: to, Value: u256.FromUint64(40)}, 21000)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	fromAcc, _, err := h.GetAccount(from)
	require.NoError(t, err)
	require.Equal(t, u256.FromUint64(60), fromAcc.Balance)

	toAcc, _, err := h.GetAccount(to)
	require.NoError(t, err)
	require.Equal(t, u256.FromUint64(40), toAcc.Balance)
}

func TestTransferFailsOnInsufficientBalance(t *testing.T) {
	h, _ := newTestHost(t, false)
	from := [20]byte{1}
	to := [20]byte{2}
	require.NoError(t, h.SetAccount(from, Account{Balance: u256.FromUint64(10)}))

	_, _, status, err := h.Call(Msg{Kind: Call, Sender: from, Recipient: to, Value: u256.FromUint64(40)}, 21000)
	require.Error(t, err)
	require.Equal(t, StatusFailure, status)
}

func TestSetStorageStatusTransitions(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{1}
	slot := [32]byte{1}

	st, err := h.SetStorage(addr, slot, [32]byte{0xaa})
	require.NoError(t, err)
	require.Equal(t, StorageAdded, st)

	st, err = h.SetStorage(addr, slot, [32]byte{0xbb})
	require.NoError(t, err)
	require.Equal(t, StorageModifiedAgain, st)

	st, err = h.SetStorage(addr, slot, [32]byte{0xbb})
	require.NoError(t, err)
	require.Equal(t, StorageUnchanged, st)

	st, err = h.SetStorage(addr, slot, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, StorageModifiedAgain, st)
}

func TestSetStorageZeroToZeroIsUnchanged(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{2}
	slot := [32]byte{2}

	st, err := h.SetStorage(addr, slot, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, StorageUnchanged, st, "slot starts at zero, writing zero is unchanged")
}

func TestSelfDestructTombstonesOnStateUpdates(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{3}
	beneficiary := [20]byte{4}
	require.NoError(t, h.SetAccount(addr, Account{Balance: u256.FromUint64(100)}))
	require.NoError(t, h.SetAccount(beneficiary, Account{Balance: u256.Zero}))

	require.NoError(t, h.SelfDestruct(addr, beneficiary))

	updates := h.GetStateUpdates()
	var tombstoned bool
	for _, u := range updates {
		if string(u.Key) == string(AccountKey(addr)) {
			tombstoned = true
			require.Empty(t, u.Value)
		}
	}
	require.True(t, tombstoned)

	benAcc, _, err := h.GetAccount(beneficiary)
	require.NoError(t, err)
	require.Equal(t, u256.FromUint64(100), benAcc.Balance)
}

func TestAccessAddressTracksWarmCold(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{5}
	require.True(t, h.AccessAddress(addr))
	require.False(t, h.AccessAddress(addr))
}

func TestRevertRestoresPreExecutionAccountSnapshot(t *testing.T) {
	h, _ := newTestHost(t, false)
	addr := [20]byte{6}
	require.NoError(t, h.SetAccount(addr, Account{Balance: u256.FromUint64(10)}))
	h.Checkpoint() // the account at balance 10 is the pre-execution snapshot

	// Simulate further in-tx mutation, then revert.
	require.NoError(t, h.SetAccount(addr, Account{Balance: u256.FromUint64(999)}))
	h.Revert()

	acc, _, err := h.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, u256.FromUint64(10), acc.Balance)
}

func TestDefaultConfigExposesBlockConstants(t *testing.T) {
	h, _ := newTestHost(t, false)
	require.Equal(t, u256.FromUint64(1), h.BlockNumber())
	require.Equal(t, [32]byte{}, h.BlockHash())
	require.Equal(t, uint64(0), h.Timestamp())
	require.Equal(t, uint64(0xCBDC), h.ChainID())
}

func TestCreateAddressIsDeterministic(t *testing.T) {
	sender := [20]byte{1, 2, 3}
	a1 := createAddress(sender, u256.FromUint64(1))
	a2 := createAddress(sender, u256.FromUint64(1))
	a3 := createAddress(sender, u256.FromUint64(2))
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, a3)
}

// TestCreate2Example matches EIP-1014 example 5, the fixture used by
// original_source's contract_address2_test: sender
// 0x00000000000000000000000000000000deadbeef, salt
// 0x00000000000000000000000000000000000000000000000000000000cafebabe,
// init code a repeated deadbeef pattern, expected address
// 0x1D8BFDC5D46DC4F61D6B6115972536EBE6A8854C.
func TestCreate2Example(t *testing.T) {
	sender := mustHexAddr(t, "00000000000000000000000000000000deadbeef")
	salt := mustHexSalt(t, "00000000000000000000000000000000000000000000000000000000cafebabe")
	initCode := mustHex(t, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")

	addr := create2Address(sender, salt, initCode)
	require.Equal(t, "1d8bfdc5d46dc4f61d6b6115972536ebe6a8854c", hexLower(addr[:]))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func mustHexAddr(t *testing.T, s string) [20]byte {
	t.Helper()
	b := mustHex(t, s)
	var out [20]byte
	copy(out[:], b)
	return out
}

func mustHexSalt(t *testing.T, s string) [32]byte {
	t.Helper()
	b := mustHex(t, s)
	var out [32]byte
	copy(out[:], b)
	return out
}

func hexLower(b []byte) string {
	return hex.EncodeToString(b)
}

// TestGetCodeInternsIdenticalBytecodeAcrossHosts covers the cross-ticket
// code cache: two unrelated Hosts (distinct tickets, distinct brokers)
// reading byte-identical bytecode at different addresses end up sharing
// one backing array rather than each holding an independent copy, while
// still each returning the correct bytes for their own address.
func TestGetCodeInternsIdenticalBytecodeAcrossHosts(t *testing.T) {
	code := mustHex(t, "6001600081905550")

	seed := func(addr [20]byte) *broker.Broker {
		dir, err := directory.New([]string{"shard-0"})
		require.NoError(t, err)
		sh := locking.New("shard-0")
		b, err := broker.New("broker-1", dir, map[directory.ShardID]broker.ShardClient{0: sh})
		require.NoError(t, err)
		tk := b.Begin()
		res := b.TryLock(tk, CodeKey(addr), locking.Write, true, nil)
		require.NoError(t, res.Err)
		rawCode := append([]byte(nil), code...)
		require.NoError(t, b.Commit(tk, []locking.Update{{Key: CodeKey(addr), Value: rawCode}}))
		b.Finish(tk)
		return b
	}

	addrA := [20]byte{0xaa}
	addrB := [20]byte{0xbb}
	bA := seed(addrA)
	bB := seed(addrB)

	hA := New(bA, bA.Begin(), false, 0xCBDC, DefaultConfig(), [32]byte{1}, [20]byte{9}, u256.Zero, noopInterp)
	hB := New(bB, bB.Begin(), false, 0xCBDC, DefaultConfig(), [32]byte{1}, [20]byte{9}, u256.Zero, noopInterp)

	gotA, err := hA.GetCode(addrA)
	require.NoError(t, err)
	gotB, err := hB.GetCode(addrB)
	require.NoError(t, err)

	require.Equal(t, code, gotA)
	require.Equal(t, code, gotB)
	require.Same(t, unsafe.SliceData(gotA), unsafe.SliceData(gotB))
}
