// Package host implements the EVM host façade (spec §4.3): a lazy,
// lock-backed cache of accounts, storage, and code, fronting the standard
// host interface the interpreter (internal/evm/interpreter) drives execution
// through. Grounded on original_source/src/3pc/agent/runners/evm/host.cpp
// for cache shape and call/create semantics, adapted from its
// shared_ptr-based account/storage/code maps to explicit per-ticket Go
// maps (spec §9 "shared-pointer graphs... replace with explicit
// ownership").
package host

import "github.com/mit-dci/opencbdc-tx-go/internal/u256"

// Key-space tags (spec §3 "Persistence mapping... three distinct key
// spaces derived by injective serialization of tags").
const (
	tagAccount byte = 0x01
	tagStorage byte = 0x02
	tagCode    byte = 0x03
)

// AccountKey returns the shard key for addr's account record.
func AccountKey(addr [20]byte) []byte {
	k := make([]byte, 0, 21)
	k = append(k, tagAccount)
	return append(k, addr[:]...)
}

// StorageKey returns the shard key for one storage slot of addr.
func StorageKey(addr [20]byte, slot [32]byte) []byte {
	k := make([]byte, 0, 53)
	k = append(k, tagStorage)
	k = append(k, addr[:]...)
	return append(k, slot[:]...)
}

// CodeKey returns the shard key for addr's contract code.
func CodeKey(addr [20]byte) []byte {
	k := make([]byte, 0, 21)
	k = append(k, tagCode)
	return append(k, addr[:]...)
}

// ReceiptKey returns the shard key for a transaction's receipt: the raw
// 32-byte transaction hash (spec §3 "transaction receipts under the
// 32-byte tx hash"), distinguishable from the tagged key spaces above by
// its length and by never sharing their tag-byte prefix space.
func ReceiptKey(txHash [32]byte) []byte {
	return txHash[:]
}

// Account is the EVM account record (spec §3 "EVM account").
type Account struct {
	Balance u256.U256
	Nonce   u256.U256
}

// EncodeAccount serializes acc as balance(32) || nonce(32).
func EncodeAccount(acc Account) []byte {
	out := make([]byte, 0, 64)
	out = append(out, acc.Balance.Bytes()...)
	out = append(out, acc.Nonce.Bytes()...)
	return out
}

// DecodeAccount parses an account record; an absent/empty value decodes
// to the zero account (balance 0, nonce 0), matching "empty value denotes
// absent" (spec §3).
func DecodeAccount(b []byte) Account {
	if len(b) != 64 {
		return Account{}
	}
	return Account{Balance: u256.FromBytes(b[:32]), Nonce: u256.FromBytes(b[32:])}
}

// IsPrecompile reports whether addr matches the sentinel precompile
// pattern: all-zero except a nonzero last byte (spec §3).
func IsPrecompile(addr [20]byte) bool {
	if addr[19] == 0 {
		return false
	}
	for i := 0; i < 19; i++ {
		if addr[i] != 0 {
			return false
		}
	}
	return true
}
