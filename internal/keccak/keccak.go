// Package keccak wraps the Ethereum-flavored Keccak256 hash used for
// addresses, transaction hashes, CREATE/CREATE2 address derivation, and log
// topics (spec §4.6, §4.3). It is NOT NIST SHA3-256, which pads differently;
// golang.org/x/crypto/sha3's NewLegacyKeccak256 matches go-ethereum's
// crypto.Keccak256 (the pack's reference implementation, see
// ethereum-go-ethereum's crypto package conventions).
package keccak

import "golang.org/x/crypto/sha3"

// Size256 is the digest size, in bytes, of Keccak256.
const Size256 = 32

// Hash256 returns the Keccak256 digest of the concatenation of data.
func Hash256(data ...[]byte) [Size256]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}
