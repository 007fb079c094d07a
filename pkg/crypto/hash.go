// Package crypto provides cryptographic primitives for the PAC chain.
package crypto

import (
	"github.com/pacprotocol/pacd/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash160Size is the length of a short (address-sized) digest in bytes.
const Hash160Size = 20

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// Hash160 computes a 20-byte digest: BLAKE3-256 truncated to 160 bits.
// Used for pubkey hashes in owner scripts.
func Hash160(data []byte) [Hash160Size]byte {
	h := Hash(data)
	var out [Hash160Size]byte
	copy(out[:], h[:Hash160Size])
	return out
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
