// Package secp256k1 wraps recoverable ECDSA signatures over the secp256k1
// curve (spec §4.6), the signature scheme for externally submitted
// Ethereum-format transactions. It is built on
// github.com/btcsuite/btcd/btcec/v2, the curve implementation go-ethereum's
// go.mod depends on directly (the pack's grounding for this component).
package secp256k1

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mit-dci/opencbdc-tx-go/internal/keccak"
)

// PrivateKeySize and PublicKeySize describe the raw encodings used at the
// transaction-codec boundary.
const (
	PrivateKeySize        = 32
	UncompressedPublicKey = 65 // 0x04 || X(32) || Y(32)
)

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// ParsePrivateKey decodes a 32-byte big-endian scalar.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("secp256k1: private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// PublicKeyUncompressed returns the 65-byte 0x04-prefixed uncompressed
// public key encoding.
func (p *PrivateKey) PublicKeyUncompressed() []byte {
	return p.key.PubKey().SerializeUncompressed()
}

// Address returns the 20-byte Ethereum-style address: the low 20 bytes of
// keccak256 of the 64-byte (X||Y) uncompressed public key, omitting the
// leading 0x04 tag (spec §4.6).
func (p *PrivateKey) Address() [20]byte {
	return AddressFromPublicKey(p.PublicKeyUncompressed())
}

// AddressFromPublicKey derives the 20-byte address from a 65-byte
// uncompressed public key.
func AddressFromPublicKey(uncompressed []byte) [20]byte {
	var addr [20]byte
	if len(uncompressed) != UncompressedPublicKey {
		return addr
	}
	h := keccak.Hash256(uncompressed[1:])
	copy(addr[:], h[12:])
	return addr
}

// Signature is a recoverable ECDSA signature: r, s as 32-byte big-endian
// integers and a recovery id in {0,1}.
type Signature struct {
	R     [32]byte
	S     [32]byte
	RecID byte
}

// Sign produces a recoverable signature over a 32-byte digest (the tx
// sighash, spec §4.6). Signing is deterministic (RFC 6979) as implemented
// by btcec.
func (p *PrivateKey) Sign(digest [32]byte) (Signature, error) {
	if len(digest) != 32 {
		return Signature{}, errors.New("secp256k1: digest must be 32 bytes")
	}
	sig, err := signRecoverable(p.key, digest[:])
	if err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// Recover recovers the 65-byte uncompressed public key that produced sig
// over digest.
func Recover(sig Signature, digest [32]byte) ([]byte, error) {
	return recoverPublicKey(sig, digest[:])
}

// RecoverAddress recovers the sender's 20-byte address from a signature and
// sighash in one step (spec §4.6 check_signature).
func RecoverAddress(sig Signature, digest [32]byte) ([20]byte, error) {
	pub, err := Recover(sig, digest)
	if err != nil {
		return [20]byte{}, err
	}
	return AddressFromPublicKey(pub), nil
}

// below: the actual curve-library glue, isolated so the rest of the package
// only deals with big-endian byte signatures, not library-specific types.

func signRecoverable(key *btcec.PrivateKey, digest []byte) (Signature, error) {
	sig, err := ecdsaSignRFC6979(key, digest)
	if err != nil {
		return Signature{}, err
	}
	return sig, nil
}

func ecdsaSignRFC6979(key *btcec.PrivateKey, digest []byte) (Signature, error) {
	// btcec's ecdsa.SignCompact produces a 65-byte [recid+27, r, s] signature
	// over an arbitrary digest; we normalize it into the spec's {r,s,recid}
	// layout so chain-specific v-encoding (EIP-155 vs. typed-tx recid) is
	// computed by the tx codec, not here.
	compact := ecdsaSignCompact(key, digest)
	var sig Signature
	copy(sig.R[:], compact[1:33])
	copy(sig.S[:], compact[33:65])
	sig.RecID = (compact[0] - 27) & 1
	return sig, nil
}

func recoverPublicKey(sig Signature, digest []byte) ([]byte, error) {
	compact := make([]byte, 65)
	compact[0] = 27 + sig.RecID
	copy(compact[1:33], sig.R[:])
	copy(compact[33:65], sig.S[:])
	pub, _, err := ecdsaRecoverCompact(compact, digest)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// ToECDSA exposes the standard library type for interop with code that
// expects crypto/ecdsa, e.g. dry-run helpers and test fixtures.
func (p *PrivateKey) ToECDSA() *ecdsa.PrivateKey {
	return p.key.ToECDSA()
}

// D returns the raw scalar, used by test fixtures constructing keys from
// literal hex.
func (p *PrivateKey) D() *big.Int {
	return new(big.Int).Set(p.key.ToECDSA().D)
}
