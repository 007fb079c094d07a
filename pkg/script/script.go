package script

import (
	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Token name length bounds enforced by the codec.
const (
	TokenNameMinLen = 3
	TokenNameMaxLen = 12
)

// p2pkhLen is the length of the standard pay-to-pubkey-hash template:
// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG.
const p2pkhLen = 25

// checksumLen is the length of a checksum-data script:
// OP_TOKEN OP_0 OP_DROP OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG.
const checksumLen = 28

// IsPayToToken reports whether s carries the pay-to-token prefix. This is a
// pure byte-pattern match: small-int version and type opcodes, a 1..8 byte
// identifier push, a 3..12 byte name push, four OP_DROPs, and at least one
// trailing owner byte.
func IsPayToToken(s types.Script) bool {
	// OP_TOKEN, version, type, idlen plus at least the minimum payload.
	if len(s) < 4 {
		return false
	}
	if s[0] != OP_TOKEN {
		return false
	}
	if _, ok := smallIntFromOpcode(s[1]); !ok || s[1] == OP_0 {
		return false
	}
	if _, ok := smallIntFromOpcode(s[2]); !ok || s[2] == OP_0 {
		return false
	}

	idlen := int(s[3])
	if idlen < 1 || idlen > 8 {
		return false
	}
	off := 4 + idlen
	if len(s) <= off {
		return false
	}

	namelen := int(s[off])
	if namelen < TokenNameMinLen || namelen > TokenNameMaxLen {
		return false
	}
	off += 1 + namelen

	// Four OP_DROPs and a non-empty owner script.
	if len(s) <= off+4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if s[off+i] != OP_DROP {
			return false
		}
	}
	return true
}

// IsChecksumData reports whether s is a checksum-data script.
func IsChecksumData(s types.Script) bool {
	if len(s) != checksumLen {
		return false
	}
	return s[0] == OP_TOKEN &&
		s[1] == OP_0 &&
		s[2] == OP_DROP &&
		s[3] == OP_DUP &&
		s[4] == OP_HASH160 &&
		s[5] == crypto.Hash160Size &&
		s[26] == OP_EQUALVERIFY &&
		s[27] == OP_CHECKSIG
}

// IsPayToPubKeyHash reports whether s is the standard 25-byte P2PKH template.
func IsPayToPubKeyHash(s types.Script) bool {
	if len(s) != p2pkhLen {
		return false
	}
	return s[0] == OP_DUP &&
		s[1] == OP_HASH160 &&
		s[2] == crypto.Hash160Size &&
		s[23] == OP_EQUALVERIFY &&
		s[24] == OP_CHECKSIG
}

// PayToPubKeyHash builds the standard owner script for a 20-byte pubkey hash.
func PayToPubKeyHash(addr types.Address) types.Script {
	s := make(types.Script, 0, p2pkhLen)
	s = append(s, OP_DUP, OP_HASH160, crypto.Hash160Size)
	s = append(s, addr[:]...)
	s = append(s, OP_EQUALVERIFY, OP_CHECKSIG)
	return s
}

// ExtractPubKeyHash returns the 20-byte hash from a P2PKH script.
func ExtractPubKeyHash(s types.Script) (types.Address, bool) {
	if !IsPayToPubKeyHash(s) {
		return types.Address{}, false
	}
	var addr types.Address
	copy(addr[:], s[3:23])
	return addr, true
}
