// Package runner implements the EVM function runner (spec §4.4): a
// one-byte function selector dispatch over (function_key, parameters)
// that decodes an externally-submitted Ethereum transaction (or a
// read-only query), verifies its signature, builds an internal/evm/host
// cache bound to the calling ticket, and drives the
// internal/evm/interpreter stack machine through it. Grounded on
// original_source/src/3pc/agent/runners/evm/evm_rpc_server.cpp's selector
// switch and original_source/src/3pc/agent/runners/evm/impl.cpp's
// execute_transaction/dryrun_transaction/read_account bodies, adapted
// from the original's virtual-dispatch runner hierarchy (spec §9 "dynamic
// dispatch over runner kinds — model as an interface, select statically
// at the call site") into one function selecting on a plain byte.
package runner

import (
	"errors"
	"fmt"

	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/interpreter"
	"github.com/mit-dci/opencbdc-tx-go/internal/evmtx"
	"github.com/mit-dci/opencbdc-tx-go/internal/keccak"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/rlp"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

// Selector is the one-byte function selector spec §4.4 dispatches on.
type Selector byte

const (
	ExecuteTransaction Selector = iota
	DryrunTransaction
	ReadAccount
	ReadAccountCode
	GetTransaction
	GetTransactionReceipt
)

func (s Selector) String() string {
	switch s {
	case ExecuteTransaction:
		return "execute_transaction"
	case DryrunTransaction:
		return "dryrun_transaction"
	case ReadAccount:
		return "read_account"
	case ReadAccountCode:
		return "read_account_code"
	case GetTransaction:
		return "get_transaction"
	case GetTransactionReceipt:
		return "get_transaction_receipt"
	default:
		return fmt.Sprintf("selector(%d)", byte(s))
	}
}

// Runner-facing error taxonomy (spec §7): exec_error (nonce/funds/
// signature/base-gas), function_load (bad selector or malformed input),
// internal_error (negative interpreter status). locking.ErrWounded is
// returned verbatim (not wrapped) when host.ShouldRetry reports a wounded
// lock acquisition mid-run, so callers can keep using a single
// errors.Is(err, locking.ErrWounded) check across internal/locking,
// internal/broker, and this package.
var (
	ErrExecError    = errors.New("exec_error")
	ErrFunctionLoad = errors.New("function_load")
	ErrInternal     = errors.New("internal_error")
)

const (
	baseGas   uint64 = 21000
	createGas uint64 = 32000
)

// Outcome is what one runner invocation hands back to the agent (spec
// §4.5 on_result): Updates is the state-update map to commit (nil for
// read-only selectors, which never produce one); Value/ContractAddress/
// TxHash are populated per selector as documented at each selector's
// implementation below.
type Outcome struct {
	Updates         []locking.Update
	Value           []byte
	ContractAddress *[20]byte
	TxHash          [32]byte
	Status          host.Status
}

// Run dispatches selector over params against the ticket t, routing lock
// acquisition through router (normally *broker.Broker). chainID and cfg
// are threaded into the host for the CHAINID opcode and the
// BLOCKHASH/NUMBER/TIMESTAMP constants (spec §4.3 Config).
func Run(router host.LockRouter, t ticket.Number, selector Selector, params []byte, chainID uint64, cfg host.Config) (Outcome, error) {
	switch selector {
	case ExecuteTransaction:
		return executeTransaction(router, t, params, chainID, cfg)
	case DryrunTransaction:
		return dryrunTransaction(router, t, params, chainID, cfg)
	case ReadAccount:
		return readKeyed(router, t, host.AccountKey, params)
	case ReadAccountCode:
		return readKeyed(router, t, host.CodeKey, params)
	case GetTransaction:
		return getTransaction(router, t, params)
	case GetTransactionReceipt:
		return getTransactionReceipt(router, t, params)
	default:
		return Outcome{}, fmt.Errorf("evm/runner: unknown selector %d: %w", byte(selector), ErrFunctionLoad)
	}
}

// acquireRead is the same synchronous bridge internal/evm/host.acquire
// uses, duplicated here (rather than exported from host) for the four
// selectors that read a single key directly and never touch the EVM
// state cache at all (spec §4.4 table: read_account/read_account_code/
// get_transaction/get_transaction_receipt all bypass the host entirely).
func acquireRead(router host.LockRouter, t ticket.Number, key []byte) ([]byte, error) {
	done := make(chan locking.TryLockResult, 1)
	res := router.TryLock(t, key, locking.Read, true, func(r locking.TryLockResult) { done <- r })
	if res.Err == nil {
		return res.Value, nil
	}
	if errors.Is(res.Err, locking.ErrLockQueued) {
		r := <-done
		return r.Value, r.Err
	}
	return nil, res.Err
}

func parseAddress(params []byte) ([20]byte, error) {
	var addr [20]byte
	if len(params) != 20 {
		return addr, fmt.Errorf("evm/runner: expected 20-byte address, got %d bytes: %w", len(params), ErrFunctionLoad)
	}
	copy(addr[:], params)
	return addr, nil
}

func parseHash(params []byte) ([32]byte, error) {
	var h [32]byte
	if len(params) != 32 {
		return h, fmt.Errorf("evm/runner: expected 32-byte hash, got %d bytes: %w", len(params), ErrFunctionLoad)
	}
	copy(h[:], params)
	return h, nil
}

// readKeyed implements read_account/read_account_code (spec §4.4): a
// single read-locked key fetch with no EVM execution.
func readKeyed(router host.LockRouter, t ticket.Number, keyFn func([20]byte) []byte, params []byte) (Outcome, error) {
	addr, err := parseAddress(params)
	if err != nil {
		return Outcome{}, err
	}
	val, err := acquireRead(router, t, keyFn(addr))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Value: val}, nil
}

// getTransaction implements spec §4.4 get_transaction: read the tx-hash
// key, return the decoded tx bytes stashed on the stored receipt (spec
// SPEC_FULL.md "SUPPLEMENTED FEATURES": both get_transaction and
// get_transaction_receipt decode the same stored record).
func getTransaction(router host.LockRouter, t ticket.Number, params []byte) (Outcome, error) {
	txHash, err := parseHash(params)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := acquireRead(router, t, host.ReceiptKey(txHash))
	if err != nil {
		return Outcome{}, err
	}
	if len(raw) == 0 {
		return Outcome{}, nil
	}
	r, err := host.DecodeReceipt(raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("evm/runner: %w: %v", ErrInternal, err)
	}
	return Outcome{Value: r.RawTx}, nil
}

// getTransactionReceipt implements spec §4.4 get_transaction_receipt:
// read-lock the tx-hash key and return the raw receipt bytes verbatim.
func getTransactionReceipt(router host.LockRouter, t ticket.Number, params []byte) (Outcome, error) {
	txHash, err := parseHash(params)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := acquireRead(router, t, host.ReceiptKey(txHash))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Value: raw}, nil
}

// intrinsicGas returns the base-gas charge for a transaction (spec §4.4
// "Base 21,000; +32,000 for create").
func intrinsicGas(create bool) uint64 {
	if create {
		return baseGas + createGas
	}
	return baseGas
}

// runMessage builds the top-level Msg for tx (a plain CALL, or a
// CREATE if tx.To is nil) and drives it through h.
func runMessage(h *host.Host, sender [20]byte, tx *evmtx.Tx, gasAvail uint64) (output []byte, gasUsed uint64, status host.Status, err error) {
	if tx.IsCreate() {
		msg := host.Msg{Kind: host.Create, Sender: sender, Value: tx.Value, Input: tx.Data, CallValue: tx.Value}
		return h.Call(msg, gasAvail)
	}
	msg := host.Msg{Kind: host.Call, Sender: sender, Recipient: *tx.To, Value: tx.Value, CallValue: tx.Value, Input: tx.Data}
	return h.Call(msg, gasAvail)
}

// executeTransaction implements spec §4.4 execute_transaction: decode,
// verify signature, acquire the from-account under write lock, check
// nonce and funds, deduct gas, lock the tx-hash key, and run.
//
// Nonce bookkeeping (spec §4.4 "Expected nonce = account.nonce + 1",
// §6 eth_getTransactionCount "returns account.nonce + 1"): the stored
// account nonce is the *last successfully used* tx nonce, not a
// next-expected counter, so a successful execution sets it to tx.Nonce
// verbatim rather than incrementing past it.
func executeTransaction(router host.LockRouter, t ticket.Number, params []byte, chainID uint64, cfg host.Config) (Outcome, error) {
	tx, err := evmtx.Decode(params)
	if err != nil {
		return Outcome{}, fmt.Errorf("evm/runner: %w: %v", ErrFunctionLoad, err)
	}

	sender, err := tx.Sender(keccak.Hash256)
	if err != nil {
		return Outcome{}, fmt.Errorf("evm/runner: %w: bad signature: %v", ErrExecError, err)
	}

	base := intrinsicGas(tx.IsCreate())
	if tx.GasLimit < base {
		return Outcome{}, fmt.Errorf("evm/runner: %w: gas limit %d below base %d", ErrExecError, tx.GasLimit, base)
	}

	txHash := keccak.Hash256(tx.Encode())
	h := host.New(router, t, false, chainID, cfg, txHash, sender, tx.GasPrice, interpreter.Run)
	h.SetRawTx(params)

	acc, _, err := h.GetAccount(sender)
	if err != nil {
		return Outcome{}, classifyHostErr(err)
	}

	expectedNonce := u256.Add(acc.Nonce, u256.FromUint64(1))
	if expectedNonce.Cmp(u256.FromUint64(tx.Nonce)) != 0 {
		return Outcome{}, fmt.Errorf("evm/runner: %w: nonce mismatch", ErrExecError)
	}

	cost := u256.Mul(tx.GasPrice, u256.FromUint64(tx.GasLimit))
	if acc.Balance.Cmp(cost) < 0 {
		return Outcome{}, fmt.Errorf("evm/runner: %w: insufficient funds for gas*limit", ErrExecError)
	}

	acc.Balance = u256.Sub(acc.Balance, cost)
	acc.Nonce = u256.FromUint64(tx.Nonce)
	if err := h.SetAccount(sender, acc); err != nil {
		return Outcome{}, classifyHostErr(err)
	}

	if err := h.LockReceipt(); err != nil {
		return Outcome{}, classifyHostErr(err)
	}

	// Everything above this point (gas debit, nonce advance, receipt
	// reservation) must survive a REVERT; only the call/create message's
	// own effects should be undone by it.
	h.Checkpoint()

	gasAvail := tx.GasLimit - base
	output, used, status, err := runMessage(h, sender, tx, gasAvail)
	if err != nil {
		return Outcome{}, classifyHostErr(err)
	}
	if h.ShouldRetry() {
		return Outcome{}, locking.ErrWounded
	}

	gasUsed := base + used
	if gasUsed > tx.GasLimit {
		gasUsed = tx.GasLimit
	}
	leftover := tx.GasLimit - gasUsed
	if leftover > 0 {
		refundAcc, _, err := h.GetAccount(sender)
		if err != nil {
			return Outcome{}, classifyHostErr(err)
		}
		refund := u256.Mul(tx.GasPrice, u256.FromUint64(leftover))
		refundAcc.Balance = u256.Add(refundAcc.Balance, refund)
		if err := h.SetAccount(sender, refundAcc); err != nil {
			return Outcome{}, classifyHostErr(err)
		}
	}

	if status == host.StatusRevert {
		h.Revert()
	}
	h.Finalize(output, gasUsed, status)

	if status == host.StatusFailure {
		return Outcome{}, fmt.Errorf("evm/runner: %w: interpreter failure", ErrInternal)
	}

	out := Outcome{
		Updates:         h.GetStateUpdates(),
		TxHash:          txHash,
		ContractAddress: h.Receipt().CreatedAddress,
		Status:          status,
	}
	return out, nil
}

// dryrunWrapper is the `{from, tx}` wrapper spec §4.4 dryrun_transaction
// decodes: an RLP list of the caller's 20-byte address and the raw
// encoded (possibly unsigned) transaction bytes.
type dryrunWrapper struct {
	From [20]byte
	Raw  []byte
}

// EncodeDryrun builds the wrapper parameters dryrun_transaction expects,
// exposed for callers (e.g. internal/jsonrpc's eth_call-equivalent path)
// assembling a dry-run request.
func EncodeDryrun(from [20]byte, rawTx []byte) []byte {
	return rlp.Encode(rlp.List(rlp.Bytes(from[:]), rlp.Bytes(rawTx)))
}

func decodeDryrunWrapper(params []byte) (dryrunWrapper, error) {
	v, err := rlp.DecodeExact(params)
	if err != nil {
		return dryrunWrapper{}, err
	}
	if v.Kind != rlp.KindList || len(v.List) != 2 {
		return dryrunWrapper{}, fmt.Errorf("expected a 2-element list")
	}
	var w dryrunWrapper
	if len(v.List[0].Bytes) != 20 {
		return dryrunWrapper{}, fmt.Errorf("expected 20-byte from address")
	}
	copy(w.From[:], v.List[0].Bytes)
	w.Raw = v.List[1].Bytes
	return w, nil
}

// dryrunTransaction implements spec §4.4 dryrun_transaction: gas capped
// to int64-max, read locks only, no balance deduction or nonce bump.
func dryrunTransaction(router host.LockRouter, t ticket.Number, params []byte, chainID uint64, cfg host.Config) (Outcome, error) {
	w, err := decodeDryrunWrapper(params)
	if err != nil {
		return Outcome{}, fmt.Errorf("evm/runner: %w: %v", ErrFunctionLoad, err)
	}
	tx, err := evmtx.Decode(w.Raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("evm/runner: %w: %v", ErrFunctionLoad, err)
	}

	const maxInt64 = uint64(1<<63 - 1)
	txHash := keccak.Hash256(w.Raw)
	h := host.New(router, t, true, chainID, cfg, txHash, w.From, tx.GasPrice, interpreter.Run)
	h.SetRawTx(w.Raw)

	output, used, status, err := runMessage(h, w.From, tx, maxInt64)
	if err != nil {
		return Outcome{}, classifyHostErr(err)
	}
	if h.ShouldRetry() {
		return Outcome{}, locking.ErrWounded
	}
	if status == host.StatusRevert {
		h.Revert()
	}
	h.Finalize(output, used, status)

	if status == host.StatusFailure {
		return Outcome{}, fmt.Errorf("evm/runner: %w: interpreter failure", ErrInternal)
	}

	return Outcome{
		Value:           output,
		ContractAddress: h.Receipt().CreatedAddress,
		TxHash:          txHash,
		Status:          status,
	}, nil
}

// classifyHostErr maps a host/locking error onto the runner's taxonomy:
// locking.ErrWounded passes through unchanged (the agent checks for it
// with errors.Is), anything else becomes internal_error.
func classifyHostErr(err error) error {
	if errors.Is(err, locking.ErrWounded) {
		return locking.ErrWounded
	}
	return fmt.Errorf("evm/runner: %w: %v", ErrInternal, err)
}
