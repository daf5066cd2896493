package host

import (
	"bytes"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mit-dci/opencbdc-tx-go/internal/keccak"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/rlp"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/mit-dci/opencbdc-tx-go/internal/u256"
)

// codeIntern is a bounded cross-ticket cache of deployed bytecode, keyed
// by its own keccak256 hash rather than by address: content-addressed, so
// serving a hit never substitutes for the per-call h.acquire lock fetch
// below — it only lets repeated reads of identical bytecode (the common
// case for proxy/factory-deployed contracts called across many tickets)
// share one backing array instead of each Host re-copying it (spec §4.3
// cache layout; the golang-lru entry of SPEC_FULL.md's DOMAIN STACK).
// Sized to hardware-independent default capacity; code that never repeats
// simply cycles through without benefit.
var codeIntern, _ = lru.New[[32]byte, []byte](1024)

func internCode(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	h := keccak.Hash256(raw)
	if cached, ok := codeIntern.Get(h); ok && bytes.Equal(cached, raw) {
		return cached
	}
	codeIntern.Add(h, raw)
	return raw
}

// LockRouter is the surface the host needs from the broker: routed,
// directory-aware try_lock (*broker.Broker satisfies this directly).
type LockRouter interface {
	TryLock(t ticket.Number, key []byte, mode locking.LockMode, firstLock bool, onGrant locking.GrantedCallback) locking.TryLockResult
}

// Status mirrors the EVMC-style tri-state interpreter outcome the runner
// (spec §4.4) branches on.
type Status int

const (
	StatusSuccess Status = iota
	StatusRevert
	StatusFailure
)

// CallKind discriminates the host's call/create entry points (spec §4.3
// "dynamic dispatch over runner kinds as an interface", applied here to
// message kinds instead).
type CallKind int

const (
	Call CallKind = iota
	DelegateCall
	CallCode
	StaticCall
	Create
	Create2
)

// Msg is one call or create request into the host.
type Msg struct {
	Kind        CallKind
	Sender      [20]byte
	Recipient   [20]byte // ignored for Create/Create2
	CodeAddress [20]byte // used by DelegateCall/CallCode in place of Recipient
	Value       u256.U256
	Input       []byte
	Salt        [32]byte // Create2 only
	Depth       int      // CALL/CREATE recursion depth of this message

	// CallValue is what CALLVALUE reports inside the callee. It differs
	// from Value where Value is zero because no transfer is made by that
	// message: DelegateCall (CallValue carries forward the enclosing
	// frame's value unchanged, per EVM semantics), CallCode (CallValue is
	// the value operand), and the init-code call inside a create (the
	// endowment is transferred beforehand; CallValue is that endowment).
	CallValue u256.U256

	// ReadOnly marks a call entered via STATICCALL (or nested inside
	// one): the interpreter (internal/evm/interpreter) rejects any
	// state-mutating opcode for the duration of such a call. The host
	// itself does not enforce this — it is an interpreter-level
	// concern, threaded through Msg so it propagates across the
	// recursive Call/create boundary.
	ReadOnly bool
}

// LogEntry is one emitted EVM log (spec §4.3 emit_log).
type LogEntry struct {
	Address [20]byte
	Topics  [][32]byte
	Data    []byte
}

// Receipt accumulates a single call's output (spec §4.3 finalize note and
// §6 "receipts serialized as the receipt record").
type Receipt struct {
	Status          Status
	GasUsed         uint64
	Output          []byte
	Logs            []LogEntry
	CreatedAddress  *[20]byte
	DryRun          bool

	// RawTx is the original encoded transaction bytes, stashed here so
	// get_transaction (spec §4.4) can recover them from the same stored
	// record as the receipt rather than a second store (see SPEC_FULL.md
	// "SUPPLEMENTED FEATURES").
	RawTx []byte
}

// Interpreter executes code against h for msg, returning the raw output
// bytes and final status. Supplied by internal/evm/runner at construction
// time so this package never imports the interpreter (only the reverse).
type Interpreter func(h *Host, code []byte, msg Msg, gasLimit uint64) (output []byte, gasUsed uint64, status Status)

// Config carries the block-context values BLOCKHASH/NUMBER/TIMESTAMP read
// (Open Question decision #3 — see DESIGN.md): since the spec excludes
// block production, these are fixed constants rather than a modeled
// chain, but are parameterized here instead of hardcoded so a caller can
// supply realistic values (e.g. in a test fixture or a future bridge to a
// real block source) without touching the host's internals.
type Config struct {
	BlockNumber u256.U256
	BlockHash   [32]byte
	Timestamp   uint64
}

// DefaultConfig is the spec's stated default: block number 1, a zero
// block hash, and a zero timestamp.
func DefaultConfig() Config {
	return Config{BlockNumber: u256.FromUint64(1)}
}

type cacheEntry[V any] struct {
	value V
	ok    bool // whether an account/code/slot actually exists (vs. absent)
	write bool
}

// Host is the per-ticket EVM state cache (spec §4.3). It is owned by
// exactly one runner for the lifetime of one execution attempt; no
// cross-thread access occurs during execution (spec §5).
type Host struct {
	router   LockRouter
	t        ticket.Number
	dryRun   bool
	chainID  uint64
	cfg      Config
	interp   Interpreter
	origin   [20]byte
	gasPrice u256.U256

	accounts map[[20]byte]*cacheEntry[Account]
	code     map[[20]byte]*cacheEntry[[]byte]
	storage  map[[20]byte]map[[32]byte]*cacheEntry[[32]byte]

	storageOriginal map[[20]byte]map[[32]byte][32]byte
	storageModified map[[20]byte]map[[32]byte]bool

	initAccounts map[[20]byte]cacheEntry[Account]

	accessedAddresses map[[20]byte]bool
	accessedStorage   map[[20]byte]map[[32]byte]bool
	destructed        map[[20]byte]bool

	retry   bool
	receipt Receipt

	txHash [32]byte
}

// New constructs a Host bound to ticket t, routing lock requests through
// router. dryRun disables write-lock acquisition entirely (spec §4.3
// "Dry-run mode never requests write locks and never emits state
// updates"). cfg supplies the block-context constants BLOCKHASH/NUMBER/
// TIMESTAMP read.
func New(router LockRouter, t ticket.Number, dryRun bool, chainID uint64, cfg Config, txHash [32]byte, origin [20]byte, gasPrice u256.U256, interp Interpreter) *Host {
	return &Host{
		router:            router,
		t:                 t,
		dryRun:            dryRun,
		chainID:           chainID,
		cfg:               cfg,
		interp:            interp,
		origin:            origin,
		gasPrice:          gasPrice,
		accounts:          make(map[[20]byte]*cacheEntry[Account]),
		code:              make(map[[20]byte]*cacheEntry[[]byte]),
		storage:           make(map[[20]byte]map[[32]byte]*cacheEntry[[32]byte]),
		storageOriginal:   make(map[[20]byte]map[[32]byte][32]byte),
		storageModified:   make(map[[20]byte]map[[32]byte]bool),
		initAccounts:      make(map[[20]byte]cacheEntry[Account]),
		accessedAddresses: make(map[[20]byte]bool),
		accessedStorage:   make(map[[20]byte]map[[32]byte]bool),
		destructed:        make(map[[20]byte]bool),
		txHash:            txHash,
	}
}

// ShouldRetry reports whether any lock acquisition failed in a way that
// warrants re-execution with a fresh ticket (spec §4.3, §4.4 "host.
// should_retry() maps to wounded").
func (h *Host) ShouldRetry() bool { return h.retry }

// Receipt returns the accumulated receipt so far.
func (h *Host) Receipt() Receipt { return h.receipt }

// ChainID returns the chain ID used for EIP-155 signature verification,
// for the interpreter's CHAINID opcode.
func (h *Host) ChainID() uint64 { return h.chainID }

// BlockNumber backs the NUMBER opcode.
func (h *Host) BlockNumber() u256.U256 { return h.cfg.BlockNumber }

// BlockHash backs the BLOCKHASH opcode.
func (h *Host) BlockHash() [32]byte { return h.cfg.BlockHash }

// Timestamp backs the TIMESTAMP opcode.
func (h *Host) Timestamp() uint64 { return h.cfg.Timestamp }

// Origin backs the ORIGIN opcode: the externally-owned account that
// signed the top-level transaction, constant across the whole call tree.
func (h *Host) Origin() [20]byte { return h.origin }

// GasPrice backs the GASPRICE opcode.
func (h *Host) GasPrice() u256.U256 { return h.gasPrice }

// acquire is the synchronous bridge over the broker's async try_lock
// (spec §4.3 "issue the async request, block on its completion"): a
// queued grant is awaited on a one-shot channel; any other terminal
// result (grant or error) returns immediately.
func (h *Host) acquire(key []byte, mode locking.LockMode) ([]byte, error) {
	if h.dryRun && mode == locking.Write {
		mode = locking.Read
	}
	done := make(chan locking.TryLockResult, 1)
	res := h.router.TryLock(h.t, key, mode, true, func(r locking.TryLockResult) { done <- r })
	if res.Err == nil {
		return res.Value, nil
	}
	if errors.Is(res.Err, locking.ErrLockQueued) {
		r := <-done
		if r.Err != nil {
			if errors.Is(r.Err, locking.ErrWounded) {
				h.retry = true
			}
			return nil, r.Err
		}
		return r.Value, nil
	}
	if errors.Is(res.Err, locking.ErrWounded) {
		h.retry = true
	}
	return nil, res.Err
}

// AccessAddress marks addr warm, returning whether it was cold before this
// call (EIP-2929).
func (h *Host) AccessAddress(addr [20]byte) bool {
	wasCold := !h.accessedAddresses[addr]
	h.accessedAddresses[addr] = true
	return wasCold
}

// AccessStorage marks (addr, slot) warm, returning whether it was cold
// before this call (EIP-2929).
func (h *Host) AccessStorage(addr [20]byte, slot [32]byte) bool {
	m, ok := h.accessedStorage[addr]
	if !ok {
		m = make(map[[32]byte]bool)
		h.accessedStorage[addr] = m
	}
	wasCold := !m[slot]
	m[slot] = true
	return wasCold
}

// GetAccount loads (lazily, via a lock) addr's account. Precompile
// addresses are synthetic: existing, empty, never fetched from a shard
// (spec §4.3).
func (h *Host) GetAccount(addr [20]byte) (Account, bool, error) {
	h.AccessAddress(addr)
	if IsPrecompile(addr) {
		return Account{}, true, nil
	}
	e, ok := h.accounts[addr]
	if ok {
		return e.value, e.ok, nil
	}
	raw, err := h.acquire(AccountKey(addr), locking.Read)
	if err != nil {
		return Account{}, false, err
	}
	exists := len(raw) > 0
	acc := DecodeAccount(raw)
	h.accounts[addr] = &cacheEntry[Account]{value: acc, ok: exists}
	if _, seeded := h.initAccounts[addr]; !seeded {
		h.initAccounts[addr] = cacheEntry[Account]{value: acc, ok: exists}
	}
	return acc, exists, nil
}

// SetAccount upgrades (or inserts) addr's cached account with a write
// lock and marks the entry dirty. Never called in dry-run mode.
func (h *Host) SetAccount(addr [20]byte, acc Account) error {
	if h.dryRun {
		return fmt.Errorf("evm/host: dry-run may not write account state")
	}
	if _, _, err := h.GetAccount(addr); err != nil {
		return err
	}
	if _, err := h.acquire(AccountKey(addr), locking.Write); err != nil {
		return err
	}
	h.accounts[addr] = &cacheEntry[Account]{value: acc, ok: true, write: true}
	return nil
}

// GetCode loads addr's code. Precompiles report a synthetic 1-byte code
// (a single 0x00 byte) so calls proceed (spec §4.3).
func (h *Host) GetCode(addr [20]byte) ([]byte, error) {
	if IsPrecompile(addr) {
		return []byte{0x00}, nil
	}
	e, ok := h.code[addr]
	if ok {
		return e.value, nil
	}
	raw, err := h.acquire(CodeKey(addr), locking.Read)
	if err != nil {
		return nil, err
	}
	raw = internCode(raw)
	h.code[addr] = &cacheEntry[[]byte]{value: raw, ok: len(raw) > 0}
	return raw, nil
}

// SetCode installs addr's code under a write lock (used by Create on
// success).
func (h *Host) SetCode(addr [20]byte, code []byte) error {
	if h.dryRun {
		return fmt.Errorf("evm/host: dry-run may not write code")
	}
	if _, err := h.acquire(CodeKey(addr), locking.Write); err != nil {
		return err
	}
	h.code[addr] = &cacheEntry[[]byte]{value: code, ok: len(code) > 0, write: true}
	return nil
}

// GetStorage loads one storage slot of addr.
func (h *Host) GetStorage(addr [20]byte, slot [32]byte) ([32]byte, error) {
	h.AccessStorage(addr, slot)
	slots, ok := h.storage[addr]
	if !ok {
		slots = make(map[[32]byte]*cacheEntry[[32]byte])
		h.storage[addr] = slots
	}
	if e, ok := slots[slot]; ok {
		return e.value, nil
	}
	raw, err := h.acquire(StorageKey(addr, slot), locking.Read)
	if err != nil {
		return [32]byte{}, err
	}
	var v [32]byte
	copy(v[32-len(raw):], raw)
	slots[slot] = &cacheEntry[[32]byte]{value: v, ok: len(raw) > 0}

	if _, ok := h.storageOriginal[addr]; !ok {
		h.storageOriginal[addr] = make(map[[32]byte][32]byte)
	}
	if _, seeded := h.storageOriginal[addr][slot]; !seeded {
		h.storageOriginal[addr][slot] = v
	}
	return v, nil
}

// StorageStatus is the EIP-2200 set_storage outcome (spec §4.3).
type StorageStatus int

const (
	StorageAdded StorageStatus = iota
	StorageUnchanged
	StorageDeleted
	StorageModified
	StorageModifiedAgain
)

// SetStorage writes slot of addr under a write lock and returns the
// EIP-2200 status, tracking first-touch-this-tx via the per-address
// modified set (spec §4.3 set_storage).
func (h *Host) SetStorage(addr [20]byte, slot [32]byte, value [32]byte) (StorageStatus, error) {
	if h.dryRun {
		return 0, fmt.Errorf("evm/host: dry-run may not write storage")
	}
	current, err := h.GetStorage(addr, slot)
	if err != nil {
		return 0, err
	}
	if _, err := h.acquire(StorageKey(addr, slot), locking.Write); err != nil {
		return 0, err
	}

	var status StorageStatus
	if current == value {
		status = StorageUnchanged
	} else {
		original := h.storageOriginal[addr][slot]
		modSet := h.storageModified[addr]
		if modSet == nil {
			modSet = make(map[[32]byte]bool)
			h.storageModified[addr] = modSet
		}
		if !modSet[slot] {
			switch {
			case original == ([32]byte{}):
				status = StorageAdded
			case value == ([32]byte{}):
				status = StorageDeleted
			default:
				status = StorageModified
			}
			modSet[slot] = true
		} else {
			status = StorageModifiedAgain
		}
	}

	h.storage[addr][slot] = &cacheEntry[[32]byte]{value: value, ok: value != [32]byte{}, write: true}
	return status, nil
}

// SelfDestruct marks addr destructed and transfers its balance to
// beneficiary. get_state_updates then tombstones only the account record;
// storage and code rows are not tombstoned (Open Question decision, see
// DESIGN.md).
func (h *Host) SelfDestruct(addr, beneficiary [20]byte) error {
	acc, _, err := h.GetAccount(addr)
	if err != nil {
		return err
	}
	if addr != beneficiary {
		ben, _, err := h.GetAccount(beneficiary)
		if err != nil {
			return err
		}
		ben.Balance = u256.Add(ben.Balance, acc.Balance)
		if err := h.SetAccount(beneficiary, ben); err != nil {
			return err
		}
	}
	acc.Balance = u256.Zero
	if err := h.SetAccount(addr, acc); err != nil {
		return err
	}
	h.destructed[addr] = true
	return nil
}

// LockReceipt acquires a write lock on this execution's transaction-hash
// key (spec §4.4 execute_transaction: "lock the tx-hash key, schedule
// execution"), reserving the slot the eventual receipt is written under
// before the call/create message runs.
func (h *Host) LockReceipt() error {
	_, err := h.acquire(ReceiptKey(h.txHash), locking.Write)
	return err
}

// EmitLog appends one log entry to the receipt (spec §4.3 emit_log).
func (h *Host) EmitLog(addr [20]byte, topics [][32]byte, data []byte) {
	h.receipt.Logs = append(h.receipt.Logs, LogEntry{Address: addr, Topics: topics, Data: data})
}

// Call implements spec §4.3 call(msg): transfers value for plain sends,
// resolves the code address, and either no-ops (empty code) or invokes
// the interpreter.
func (h *Host) Call(msg Msg, gasLimit uint64) (output []byte, gasUsed uint64, status Status, err error) {
	if msg.Kind == Create || msg.Kind == Create2 {
		return h.create(msg, gasLimit)
	}

	if !msg.Value.IsZero() {
		if err := h.transfer(msg.Sender, msg.Recipient, msg.Value); err != nil {
			return nil, 0, StatusFailure, err
		}
	}

	codeAddr := msg.Recipient
	if msg.Kind == DelegateCall || msg.Kind == CallCode {
		codeAddr = msg.CodeAddress
	}
	code, err := h.GetCode(codeAddr)
	if err != nil {
		return nil, 0, StatusFailure, err
	}
	if len(code) == 0 {
		return nil, 0, StatusSuccess, nil
	}
	out, used, st := h.interp(h, code, msg, gasLimit)
	return out, used, st, nil
}

func (h *Host) transfer(from, to [20]byte, value u256.U256) error {
	fromAcc, _, err := h.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(value) < 0 {
		return fmt.Errorf("evm/host: insufficient balance")
	}
	toAcc, _, err := h.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = u256.Sub(fromAcc.Balance, value)
	toAcc.Balance = u256.Add(toAcc.Balance, value)
	if from != to {
		if err := h.SetAccount(from, fromAcc); err != nil {
			return err
		}
		return h.SetAccount(to, toAcc)
	}
	return h.SetAccount(from, fromAcc)
}

// create implements spec §4.3 create(): address derivation (CREATE /
// CREATE2 per EIP-1014), endowment transfer, init-code execution, and
// code persistence on success.
func (h *Host) create(msg Msg, gasLimit uint64) ([]byte, uint64, Status, error) {
	senderAcc, _, err := h.GetAccount(msg.Sender)
	if err != nil {
		return nil, 0, StatusFailure, err
	}

	var newAddr [20]byte
	if msg.Kind == Create {
		newAddr = createAddress(msg.Sender, senderAcc.Nonce)
	} else {
		newAddr = create2Address(msg.Sender, msg.Salt, msg.Input)
	}

	senderAcc.Nonce = u256.Add(senderAcc.Nonce, u256.FromUint64(1))
	if err := h.SetAccount(msg.Sender, senderAcc); err != nil {
		return nil, 0, StatusFailure, err
	}

	if !msg.Value.IsZero() {
		if err := h.transfer(msg.Sender, newAddr, msg.Value); err != nil {
			return nil, 0, StatusFailure, err
		}
	}

	initMsg := Msg{Kind: Call, Sender: msg.Sender, Recipient: newAddr, Value: u256.Zero, CallValue: msg.Value, Depth: msg.Depth}
	out, used, status := h.interp(h, msg.Input, initMsg, gasLimit)
	if status != StatusSuccess {
		return out, used, status, nil
	}
	if err := h.SetCode(newAddr, out); err != nil {
		return nil, used, StatusFailure, err
	}
	addr := newAddr
	h.receipt.CreatedAddress = &addr
	return nil, used, StatusSuccess, nil
}

func createAddress(sender [20]byte, nonce u256.U256) [20]byte {
	nb := nonce.Bytes()
	i := 0
	for i < len(nb) && nb[i] == 0 {
		i++
	}
	enc := rlp.Encode(rlp.List(rlp.Bytes(sender[:]), rlp.Bytes(nb[i:])))
	h := keccak.Hash256(enc)
	var addr [20]byte
	copy(addr[:], h[12:])
	return addr
}

func create2Address(sender [20]byte, salt [32]byte, initCode []byte) [20]byte {
	codeHash := keccak.Hash256(initCode)
	h := keccak.Hash256([]byte{0xff}, sender[:], salt[:], codeHash[:])
	var addr [20]byte
	copy(addr[:], h[12:])
	return addr
}

// Finalize implements spec §4.3 finalize(): records gas_used and the call
// output in the receipt; leftover gas is credited back to origin by the
// runner (which knows the gas price), not here.
func (h *Host) Finalize(output []byte, gasUsed uint64, status Status) {
	h.receipt.Output = output
	h.receipt.GasUsed = gasUsed
	h.receipt.Status = status
	h.receipt.DryRun = h.dryRun
}

// SetRawTx stashes the original encoded transaction bytes on the receipt
// so get_transaction (spec §4.4) can recover them without a second store.
func (h *Host) SetRawTx(raw []byte) { h.receipt.RawTx = raw }

// Checkpoint re-seeds the pre-execution account snapshot Revert restores
// from, using the cache's current contents. The runner (internal/evm/
// runner) calls this once, after deducting intrinsic gas and bumping the
// sender's nonce but before invoking the call/create message: a
// subsequent Revert (on EVMC_REVERT) must undo only the call's own
// effects, not the already-charged gas and nonce advance that survive a
// revert per EVM semantics.
func (h *Host) Checkpoint() {
	for addr, e := range h.accounts {
		h.initAccounts[addr] = cacheEntry[Account]{value: e.value, ok: e.ok}
	}
}

// Revert implements spec §4.3 revert(): restores accounts from the
// pre-execution snapshot; storage/code writes are simply excluded from
// GetStateUpdates, since this cache is discarded on failure anyway.
func (h *Host) Revert() {
	for addr, e := range h.initAccounts {
		h.accounts[addr] = &cacheEntry[Account]{value: e.value, ok: e.ok}
	}
	h.storage = make(map[[20]byte]map[[32]byte]*cacheEntry[[32]byte])
	h.code = make(map[[20]byte]*cacheEntry[[]byte])
	h.destructed = make(map[[20]byte]bool)
	h.receipt.Logs = nil
	h.receipt.CreatedAddress = nil
}

// GetStateUpdates implements spec §4.3 get_state_updates(): only
// write=true entries are emitted; a storage slot written to zero is
// emitted as a 32-byte zero value. A destroyed account's own
// record is tombstoned (empty buffer); its storage and code rows are left
// untouched in the store, merely unreachable once the account record is
// gone (Open Question decision #2 — see DESIGN.md). The serialized
// receipt is included under the transaction hash.
func (h *Host) GetStateUpdates() []locking.Update {
	var updates []locking.Update

	for addr, e := range h.accounts {
		if !e.write {
			continue
		}
		if h.destructed[addr] {
			updates = append(updates, locking.Update{Key: AccountKey(addr), Value: nil})
			continue
		}
		updates = append(updates, locking.Update{Key: AccountKey(addr), Value: EncodeAccount(e.value)})
	}

	for addr, slots := range h.storage {
		for slot, e := range slots {
			if !e.write {
				continue
			}
			updates = append(updates, locking.Update{Key: StorageKey(addr, slot), Value: e.value[:]})
		}
	}

	for addr, e := range h.code {
		if !e.write {
			continue
		}
		updates = append(updates, locking.Update{Key: CodeKey(addr), Value: e.value})
	}

	updates = append(updates, locking.Update{Key: ReceiptKey(h.txHash), Value: EncodeReceipt(h.receipt)})
	return updates
}
