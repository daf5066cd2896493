package jsonrpc

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mit-dci/opencbdc-tx-go/internal/agent"
	"github.com/mit-dci/opencbdc-tx-go/internal/broker"
	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/evmtx"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
	"github.com/mit-dci/opencbdc-tx-go/internal/util/pool"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	dir, err := directory.New([]string{"shard-0"})
	require.NoError(t, err)
	sh := locking.New("shard-0")
	b, err := broker.New("broker-1", dir, map[directory.ShardID]broker.ShardClient{0: sh})
	require.NoError(t, err)
	return b
}

func seedAccount(t *testing.T, b *broker.Broker, addr [20]byte, balance u256.U256, nonce u256.U256) {
	t.Helper()
	tk := b.Begin()
	res := b.TryLock(tk, host.AccountKey(addr), locking.Write, true, nil)
	require.NoError(t, res.Err)
	err := b.Commit(tk, []locking.Update{{Key: host.AccountKey(addr), Value: host.EncodeAccount(host.Account{Balance: balance, Nonce: nonce})}})
	require.NoError(t, err)
	b.Finish(tk)
}

// testFixture pairs a Handler with the broker backing it, so a test can
// seed account state through the same broker the handler's coordinator
// drives and then observe it via JSON-RPC.
type testFixture struct {
	broker *broker.Broker
	h      *Handler
	stop   func()
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	b := newTestBroker(t)
	a := agent.New(b, evmtx.DefaultChainID, host.DefaultConfig())
	p := pool.New(2)
	c := agent.NewCoordinator(a, p)
	h := NewHandler(c, false)
	return &testFixture{broker: b, h: h, stop: func() { c.Close(); p.StopWait() }}
}

func rpcCall(t *testing.T, h *Handler, method string, params interface{}) Response {
	t.Helper()
	pb, err := json.Marshal(params)
	require.NoError(t, err)
	req := Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: pb}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	respRaw := h.Handle(raw)
	var resp Response
	require.NoError(t, json.Unmarshal(respRaw, &resp))
	return resp
}

func TestGetBalanceReturnsSeededBalance(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	addr := [20]byte{0x42}
	seedAccount(t, f.broker, addr, u256.FromUint64(500), u256.FromUint64(0))

	resp := rpcCall(t, f.h, "eth_getBalance", []string{"0x" + hex.EncodeToString(addr[:]), "latest"})
	require.Nil(t, resp.Error)
	require.Equal(t, "0x1f4", resp.Result)
}

func TestGetTransactionCountReflectsStoredNoncePlusOne(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	addr := [20]byte{0x07}
	seedAccount(t, f.broker, addr, u256.FromUint64(0), u256.FromUint64(4))

	resp := rpcCall(t, f.h, "eth_getTransactionCount", []string{"0x" + hex.EncodeToString(addr[:]), "latest"})
	require.Nil(t, resp.Error)
	require.Equal(t, "0x5", resp.Result)
}

func TestGetTransactionCountRejectsNonLatestBlockParameter(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	addr := [20]byte{0x07}
	resp := rpcCall(t, f.h, "eth_getTransactionCount", []string{"0x" + hex.EncodeToString(addr[:]), "0x5"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidBlockParameter, resp.Error.Code)
}

func TestGetBalanceRejectsMalformedAddress(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	resp := rpcCall(t, f.h, "eth_getBalance", []string{"0xnotanaddress", "latest"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidAddress, resp.Error.Code)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	resp := rpcCall(t, f.h, "eth_unknownThing", []string{})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestGetTransactionReceiptReturnsNilResultWhenAbsent(t *testing.T) {
	f := newFixture(t)
	defer f.stop()

	var hash [32]byte
	hash[0] = 0xff
	resp := rpcCall(t, f.h, "eth_getTransactionReceipt", []string{"0x" + hex.EncodeToString(hash[:])})
	require.Nil(t, resp.Error)
	require.Nil(t, resp.Result)
}
