package secp256k1

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ecdsaSignCompact signs digest and returns btcec's 65-byte
// [27+recid(+4 if compressed), r, s] compact signature encoding.
func ecdsaSignCompact(key *btcec.PrivateKey, digest []byte) []byte {
	return btcecdsa.SignCompact(key, digest, false)
}

// ecdsaRecoverCompact recovers the public key (uncompressed form) that
// produced the compact signature over digest.
func ecdsaRecoverCompact(compact, digest []byte) ([]byte, bool, error) {
	pub, wasCompressed, err := btcecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, false, fmt.Errorf("secp256k1: recover: %w", err)
	}
	return pub.SerializeUncompressed(), wasCompressed, nil
}
